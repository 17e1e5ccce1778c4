package post

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/KAsare1/strings-server/cmd/models"
	"github.com/KAsare1/strings-server/cmd/utils"
	"github.com/KAsare1/strings-server/service/media"
)

// multipartMemory is how much of a multipart body is held in memory before
// parts spill to temporary files.
const multipartMemory = 8 << 20

type Handler struct {
	service *Service
	auth    *utils.Authenticator
	logger  *zap.Logger
}

func NewHandler(service *Service, auth *utils.Authenticator, logger *zap.Logger) *Handler {
	return &Handler{service: service, auth: auth, logger: logger}
}

// RegisterRoutes sets up all post-related routes
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/posts", h.auth.Middleware(h.CreatePost)).Methods("POST")
	router.HandleFunc("/posts", h.ListPosts).Methods("GET")
	router.HandleFunc("/posts/{id:[0-9]+}", h.GetPost).Methods("GET")
	router.HandleFunc("/posts/{id:[0-9]+}", h.auth.Middleware(h.EditPost)).Methods("PATCH")
	router.HandleFunc("/posts/{id:[0-9]+}", h.auth.Middleware(h.DeletePost)).Methods("DELETE")
	router.HandleFunc("/posts/{id:[0-9]+}/comments", h.ListComments).Methods("GET")

	// Toggle routes
	router.HandleFunc("/posts/{id:[0-9]+}/like", h.auth.Middleware(h.ToggleLike)).Methods("POST", "PATCH")
	router.HandleFunc("/posts/{id:[0-9]+}/repost", h.auth.Middleware(h.ToggleRepost)).Methods("POST", "PATCH")
}

// CreatePost creates a post or, with ?replyingTo=<id>, a comment
//
//	@Summary	Create a post or comment
//	@Tags		posts
//	@Accept		multipart/form-data
//	@Produce	json
//	@Param		content		formData	string	false	"Post text"
//	@Param		media		formData	file	false	"Up to 10 images"
//	@Param		replyingTo	query		int		false	"Parent post id"
//	@Success	201			{object}	CreatedPost
//	@Router		/posts [post]
func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	session, err := utils.SessionFromContext(r.Context())
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}

	maxBody := h.service.uploader.MaxBytes()*int64(models.MaxMediaPerPost+1) + multipartMemory
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "ValidationError", "Error parsing form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	in := CreatePostInput{
		Content: r.FormValue("content"),
		Files:   media.FromFileHeaders(r.MultipartForm.File["media"]),
	}
	if raw := r.URL.Query().Get("replyingTo"); raw != "" {
		parentID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || parentID == 0 {
			utils.WriteError(w, http.StatusBadRequest, "ValidationError", "replyingTo: invalid id")
			return
		}
		id := uint(parentID)
		in.ReplyingTo = &id
	}

	created, err := h.service.CreatePost(r.Context(), session.UserID, in)
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, created)
}

// ListPosts returns a page of top-level posts, newest first
//
//	@Summary	List posts
//	@Tags		posts
//	@Produce	json
//	@Param		page	query		int	false	"Page number"
//	@Param		limit	query		int	false	"Page size (max 50)"
//	@Success	200		{object}	Page[EnrichedPost]
//	@Router		/posts [get]
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	page, limit := utils.ParsePagination(r)
	result, err := h.service.ListPosts(r.Context(), page, limit)
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, result)
}

// GetPost returns a single post with its comments
//
//	@Summary	Get a post
//	@Tags		posts
//	@Produce	json
//	@Param		id	path		int	true	"Post id"
//	@Success	200	{object}	EnrichedPost
//	@Router		/posts/{id} [get]
func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	postID, err := utils.PathID(r, "id")
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}
	post, err := h.service.GetPost(r.Context(), postID)
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, post)
}

// ListComments returns a page of direct replies to a post
//
//	@Summary	List comments
//	@Tags		posts
//	@Produce	json
//	@Param		id		path		int	true	"Post id"
//	@Param		page	query		int	false	"Page number"
//	@Param		limit	query		int	false	"Page size (max 50)"
//	@Success	200		{object}	Page[PostView]
//	@Router		/posts/{id}/comments [get]
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	postID, err := utils.PathID(r, "id")
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}
	page, limit := utils.ParsePagination(r)
	result, err := h.service.ListComments(r.Context(), postID, page, limit)
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, result)
}

// ToggleLike likes the post, or removes the like if already present
//
//	@Summary	Toggle like
//	@Tags		posts
//	@Produce	json
//	@Param		id	path		int	true	"Post id"
//	@Success	200	{object}	map[string]interface{}
//	@Router		/posts/{id}/like [post]
func (h *Handler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "liked", "likes", h.service.ToggleLike)
}

// ToggleRepost reposts the post, or removes the repost if already present
//
//	@Summary	Toggle repost
//	@Tags		posts
//	@Produce	json
//	@Param		id	path		int	true	"Post id"
//	@Success	200	{object}	map[string]interface{}
//	@Router		/posts/{id}/repost [post]
func (h *Handler) ToggleRepost(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "reposted", "reposts", h.service.ToggleRepost)
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request, stateKey, countKey string,
	fn func(ctx context.Context, userID, postID uint) (*ToggleResult, error)) {
	session, err := utils.SessionFromContext(r.Context())
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}
	postID, err := utils.PathID(r, "id")
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}
	result, err := fn(r.Context(), session.UserID, postID)
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		stateKey: result.Active,
		countKey: result.Count,
	})
}

type editPostRequest struct {
	Content *string `json:"content"`
}

// EditPost replaces the content of the caller's post
//
//	@Summary	Edit a post
//	@Tags		posts
//	@Accept		json
//	@Produce	json
//	@Param		id	path		int				true	"Post id"
//	@Param		body	body	editPostRequest	true	"New content"
//	@Success	200	{object}	EnrichedPost
//	@Router		/posts/{id} [patch]
func (h *Handler) EditPost(w http.ResponseWriter, r *http.Request) {
	session, err := utils.SessionFromContext(r.Context())
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}
	postID, err := utils.PathID(r, "id")
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}

	var req editPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "ValidationError", "Invalid request body")
		return
	}
	if req.Content == nil {
		utils.WriteError(w, http.StatusBadRequest, "ValidationError", "content: is required")
		return
	}

	post, err := h.service.EditPost(r.Context(), session.UserID, postID, *req.Content)
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, post)
}

// DeletePost deletes the caller's post and every reply beneath it
//
//	@Summary	Delete a post
//	@Tags		posts
//	@Param		id	path	int	true	"Post id"
//	@Success	204
//	@Router		/posts/{id} [delete]
func (h *Handler) DeletePost(w http.ResponseWriter, r *http.Request) {
	session, err := utils.SessionFromContext(r.Context())
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}
	postID, err := utils.PathID(r, "id")
	if err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}
	if err := h.service.DeletePost(r.Context(), session.UserID, postID); err != nil {
		utils.WriteServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
