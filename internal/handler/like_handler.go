package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/smarbl/internal/model"
)

// LikeServiceInterface はいいねハンドラーが必要とするサービスインターフェース。
type LikeServiceInterface interface {
	Like(ctx context.Context, postID, userID string) (*model.Like, error)
	CountFor(ctx context.Context, postIDs []string) (map[string]int, error)
	LikersOf(ctx context.Context, postID string) ([]*model.User, error)
}

// LikeHandler はいいねのHTTPハンドラー。
type LikeHandler struct {
	service LikeServiceInterface
}

// NewLikeHandler はLikeHandlerを生成する。
func NewLikeHandler(service LikeServiceInterface) *LikeHandler {
	return &LikeHandler{service: service}
}

// likeRequest のいいね主体は常に認証済みユーザーで、ボディでは指定できない。
type likeRequest struct {
	PostID string `json:"post_id"`
}

type likeCountResponse struct {
	Counts map[string]int `json:"counts"`
}

// Like は認証済みユーザーとして投稿にいいねする。
// POST /api/v1/like
func (h *LikeHandler) Like(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req likeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	postID, err := uuid.Parse(req.PostID)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidIDError("post_id"))
		return
	}

	l, err := h.service.Like(r.Context(), postID.String(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLikeResponse(l))
}

// Count は複数投稿のいいね数を返す。存在しない投稿は結果に含めない。
// GET /api/v1/like/count?post_ids=a,b
func (h *LikeHandler) Count(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, raw := range r.URL.Query()["post_ids"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := uuid.Parse(part)
			if err != nil {
				writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidIDError("post_ids"))
				return
			}
			ids = append(ids, id.String())
		}
	}

	counts, err := h.service.CountFor(r.Context(), ids)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, likeCountResponse{Counts: counts})
}

// Likers は投稿にいいねしたユーザーをいいねした順に返す。
// GET /api/v1/like/users/{postID}
func (h *LikeHandler) Likers(w http.ResponseWriter, r *http.Request) {
	postID, ok := pathID(w, r, "postID")
	if !ok {
		return
	}

	users, err := h.service.LikersOf(r.Context(), postID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponses(users))
}
