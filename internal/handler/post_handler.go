package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/smarbl/internal/importer"
	"github.com/hitoshi/smarbl/internal/model"
	"github.com/hitoshi/smarbl/internal/post"
)

// PostServiceInterface は投稿ハンドラーが必要とするサービスインターフェース。
type PostServiceInterface interface {
	Create(ctx context.Context, authorID string, in post.CreateInput) (*model.Post, error)
	Get(ctx context.Context, id string) (*post.Detail, error)
	ListByUser(ctx context.Context, userID string) ([]*model.Post, error)
	Delete(ctx context.Context, callerID, id string) error
}

// ImporterInterface はフィード取り込みのインターフェース。
type ImporterInterface interface {
	Import(ctx context.Context, authorID, rawURL string) (*importer.Result, error)
}

// PostHandler は投稿のHTTPハンドラー。
type PostHandler struct {
	service  PostServiceInterface
	importer ImporterInterface
}

// NewPostHandler はPostHandlerを生成する。
func NewPostHandler(service PostServiceInterface, importer ImporterInterface) *PostHandler {
	return &PostHandler{service: service, importer: importer}
}

type createPostRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type importRequest struct {
	URL string `json:"url"`
}

type importResponse struct {
	FeedURL   string         `json:"feed_url"`
	FeedTitle string         `json:"feed_title"`
	Posts     []postResponse `json:"posts"`
}

// Create は認証済みユーザーの投稿を作成する。
// POST /api/v1/post
func (h *PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req createPostRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.Create(r.Context(), userID, post.CreateInput{Title: req.Title, Content: req.Content})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPostResponse(p))
}

// Import はRSS/Atomフィードの記事を認証済みユーザーの投稿として取り込む。
// POST /api/v1/post/import
func (h *PostHandler) Import(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req importRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.importer.Import(r.Context(), userID, req.URL)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, importResponse{
		FeedURL:   res.FeedURL,
		FeedTitle: res.FeedTitle,
		Posts:     toPostResponses(res.Posts),
	})
}

// Get は投稿をいいね数とともに返す。
// GET /api/v1/post/{postID}
func (h *PostHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "postID")
	if !ok {
		return
	}

	detail, err := h.service.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := toPostResponse(detail.Post)
	resp.LikeCount = &detail.LikeCount
	writeJSON(w, http.StatusOK, resp)
}

// ListByUser はユーザーの投稿を新しい順に返す。
// GET /api/v1/post/user/{userID}
func (h *PostHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	posts, err := h.service.ListByUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponses(posts))
}

// Delete は投稿者本人の投稿を削除する。
// DELETE /api/v1/post/{postID}
func (h *PostHandler) Delete(w http.ResponseWriter, r *http.Request) {
	callerID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "postID")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), callerID, id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
