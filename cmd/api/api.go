package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/swaggo/swag"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/KAsare1/strings-server/cmd/config"
	"github.com/KAsare1/strings-server/cmd/logging"
	"github.com/KAsare1/strings-server/cmd/utils"
	_ "github.com/KAsare1/strings-server/docs"
	"github.com/KAsare1/strings-server/service/media"
	"github.com/KAsare1/strings-server/service/post"
	"github.com/KAsare1/strings-server/service/user"
)

type APIServer struct {
	cfg    *config.Config
	db     *gorm.DB
	logger *zap.Logger
	store  media.Store
}

func NewAPIServer(cfg *config.Config, db *gorm.DB, logger *zap.Logger) (*APIServer, error) {
	store, err := NewMediaStore(cfg.Media)
	if err != nil {
		return nil, err
	}
	return &APIServer{
		cfg:    cfg,
		db:     db,
		logger: logger,
		store:  store,
	}, nil
}

// WithStore replaces the media store, mainly for tests.
func (s *APIServer) WithStore(store media.Store) *APIServer {
	s.store = store
	return s
}

// NewMediaStore builds the configured media backend.
func NewMediaStore(cfg config.MediaConfig) (media.Store, error) {
	switch cfg.Backend {
	case "local":
		return media.NewLocalStore(cfg.Dir, cfg.BaseURL)
	case "cloudinary":
		return media.NewCloudinaryStore(cfg.CloudinaryURL, cfg.CloudinaryFolder)
	default:
		return nil, fmt.Errorf("unknown media backend %q", cfg.Backend)
	}
}

// Handler wires every route and middleware.
func (s *APIServer) Handler() (http.Handler, error) {
	uploader, err := media.NewUploader(s.store, media.UploaderConfig{
		TmpDir:      s.cfg.Media.TmpDir,
		Timeout:     s.cfg.GetUploadTimeout(),
		Concurrency: s.cfg.Media.UploadConcurrency,
		MaxBytes:    s.cfg.Media.MaxUploadBytes,
	}, s.logger.Named("media"))
	if err != nil {
		return nil, err
	}
	auth := utils.NewAuthenticator(s.cfg.Auth.SecretKey, s.cfg.GetTokenTTL())

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteError(w, http.StatusNotFound, "NotFound", "route not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
	})
	subrouter := router.PathPrefix("/api/v1").Subrouter()

	subrouter.HandleFunc("/health", s.handleHealth).Methods("GET")
	subrouter.HandleFunc("/swagger.json", s.handleSwagger).Methods("GET")

	userService := user.NewService(s.db, uploader, auth, s.cfg.Auth.BcryptCost, s.logger.Named("user"))
	userHandler := user.NewHandler(userService, auth, s.logger)
	userHandler.RegisterRoutes(subrouter)

	postService := post.NewService(s.db, uploader, s.logger.Named("post"))
	postHandler := post.NewHandler(postService, auth, s.logger)
	postHandler.RegisterRoutes(subrouter)

	if s.cfg.Media.Backend == "local" {
		prefix, err := mediaRoutePrefix(s.cfg.Media.BaseURL)
		if err != nil {
			return nil, err
		}
		fileServer := http.StripPrefix(prefix, http.FileServer(http.Dir(s.cfg.Media.Dir)))
		router.PathPrefix(prefix).Methods("GET").Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "public, max-age=3600")
			fileServer.ServeHTTP(w, r)
		}))
	}

	var handler http.Handler = router
	handler = logging.Middleware(s.logger)(handler)
	handler = handlers.CORS(
		handlers.AllowedOrigins(s.cfg.Server.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)(handler)
	handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(s.logger)),
		handlers.PrintRecoveryStack(true),
	)(handler)
	return handler, nil
}

// mediaRoutePrefix returns the path the local file server is mounted on. The
// base URL may be a bare path or an absolute URL.
func mediaRoutePrefix(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid media base url %q: %w", baseURL, err)
	}
	prefix := strings.TrimSuffix(u.Path, "/") + "/"
	if prefix == "/" {
		return "", fmt.Errorf("media base url %q needs a path", baseURL)
	}
	return prefix, nil
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *APIServer) Run(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              ":" + s.cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.logger.Info("server running", zap.String("address", server.Addr))

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		utils.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *APIServer) handleSwagger(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		utils.WriteServiceError(w, s.logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(doc))
}
