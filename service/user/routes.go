package user

import (
	"encoding/json"
	"mime"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/KAsare1/strings-server/cmd/utils"
	"github.com/KAsare1/strings-server/service/media"
)

const multipartMemory = 8 << 20

type Handler struct {
	service *Service
	auth    *utils.Authenticator
	logger  *zap.Logger
}

func NewHandler(service *Service, auth *utils.Authenticator, logger *zap.Logger) *Handler {
	return &Handler{service: service, auth: auth, logger: logger}
}

// RegisterRoutes sets up all user-related routes
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/signup", h.handleSignup).Methods("POST")
	router.HandleFunc("/auth/login", h.handleLogin).Methods("POST")

	router.HandleFunc("/users/me", h.auth.Middleware(h.UpdateMe)).Methods("PATCH")
	router.HandleFunc("/users/me/avatar", h.auth.Middleware(h.UploadAvatar)).Methods("POST")
	router.HandleFunc("/users/check-username/{username}", h.CheckUsername).Methods("GET")
	router.HandleFunc("/users/username/{username}", h.GetUserByUsername).Methods("GET")
	router.HandleFunc("/users/{id:[0-9]+}", h.GetUser).Methods("GET")
	router.HandleFunc("/users/{id:[0-9]+}/profile", h.GetProfile).Methods("GET")
	router.HandleFunc("/users/{id:[0-9]+}/follow", h.auth.Middleware(h.ToggleFollow)).Methods("POST")
}

// handleSignup registers a new account
//
//	@Summary	Sign up
//	@Tags		auth
//	@Accept		json
//	@Produce	json
//	@Param		body	body		SignupInput	true	"Account details"
//	@Success	201		{object}	AuthResult
//	@Router		/auth/signup [post]
func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req SignupInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "ValidationError", "Invalid request body")
		return
	}

	result, err := h.service.Signup(r.Context(), req)
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, result)
}

type loginRequest struct {
	Credential string `json:"credential"`
	Password   string `json:"password"`
}

// handleLogin signs in with a username, email or phone number
//
//	@Summary	Log in
//	@Tags		auth
//	@Accept		json
//	@Produce	json
//	@Param		body	body		loginRequest	true	"Credential and password"
//	@Success	200		{object}	AuthResult
//	@Router		/auth/login [post]
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "ValidationError", "Invalid request body")
		return
	}

	result, err := h.service.Login(r.Context(), req.Credential, req.Password)
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, result)
}

// GetProfile returns a user with their posts, comments, likes, reposts and follow lists
//
//	@Summary	Get full profile
//	@Tags		users
//	@Produce	json
//	@Param		id	path		int	true	"User id"
//	@Success	200	{object}	Profile
//	@Router		/users/{id}/profile [get]
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.PathID(r, "id")
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}
	profile, err := h.service.GetFullProfile(r.Context(), userID)
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, profile)
}

// GetUser returns a user without contact details
//
//	@Summary	Public view of a user
//	@Tags		users
//	@Produce	json
//	@Param		id	path		int	true	"User id"
//	@Success	200	{object}	PublicUser
//	@Router		/users/{id} [get]
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.PathID(r, "id")
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}
	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) GetUserByUsername(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetUserByUsername(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) CheckUsername(w http.ResponseWriter, r *http.Request) {
	available, err := h.service.CheckUsername(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]bool{"available": available})
}

type updateMeRequest struct {
	DisplayName *string `json:"displayName"`
	Bio         *string `json:"bio"`
}

// UpdateMe patches the caller's display name, bio and avatar. It accepts
// JSON, or multipart form data when an avatar file is included.
//
//	@Summary	Update own profile
//	@Tags		users
//	@Accept		json,mpfd
//	@Produce	json
//	@Param		displayName	formData	string	false	"Display name"
//	@Param		bio			formData	string	false	"Bio"
//	@Param		avatar		formData	file	false	"Avatar image"
//	@Success	200			{object}	UpdatedUser
//	@Router		/users/me [patch]
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	session, err := utils.SessionFromContext(r.Context())
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}

	var in ProfileUpdate
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, h.service.uploader.MaxBytes()+multipartMemory)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			utils.WriteError(w, http.StatusBadRequest, "ValidationError", "Error parsing form")
			return
		}
		defer r.MultipartForm.RemoveAll()

		if v, ok := r.MultipartForm.Value["displayName"]; ok && len(v) > 0 {
			in.DisplayName = &v[0]
		}
		if v, ok := r.MultipartForm.Value["bio"]; ok && len(v) > 0 {
			in.Bio = &v[0]
		}
		if files := media.FromFileHeaders(r.MultipartForm.File["avatar"]); len(files) > 0 {
			in.Avatar = &files[0]
		}
	} else {
		var req updateMeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.WriteError(w, http.StatusBadRequest, "ValidationError", "Invalid request body")
			return
		}
		in.DisplayName = req.DisplayName
		in.Bio = req.Bio
	}

	updated, err := h.service.UpdateProfile(r.Context(), session.UserID, in)
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, updated)
}

// UploadAvatar replaces the caller's avatar
//
//	@Summary	Upload avatar
//	@Tags		users
//	@Accept		mpfd
//	@Produce	json
//	@Param		avatar	formData	file	true	"Avatar image"
//	@Success	200		{object}	models.User
//	@Router		/users/me/avatar [post]
func (h *Handler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	session, err := utils.SessionFromContext(r.Context())
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.service.uploader.MaxBytes()+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "ValidationError", "Error parsing form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := media.FromFileHeaders(r.MultipartForm.File["avatar"])
	if len(files) != 1 {
		utils.WriteError(w, http.StatusBadRequest, "ValidationError", "avatar: exactly one file is required")
		return
	}

	user, err := h.service.UploadAvatar(r.Context(), session.UserID, files[0])
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, user)
}

// ToggleFollow follows the user, or unfollows if already following
//
//	@Summary	Toggle follow
//	@Tags		users
//	@Produce	json
//	@Param		id	path		int	true	"User to follow"
//	@Success	200	{object}	FollowResult
//	@Router		/users/{id}/follow [post]
func (h *Handler) ToggleFollow(w http.ResponseWriter, r *http.Request) {
	session, err := utils.SessionFromContext(r.Context())
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}
	targetID, err := utils.PathID(r, "id")
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}

	result, err := h.service.ToggleFollow(r.Context(), session.UserID, targetID)
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, result)
}
