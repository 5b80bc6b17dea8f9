package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/socialwatch/internal/middleware"
	"github.com/hitoshi/socialwatch/internal/model"
	"github.com/hitoshi/socialwatch/internal/social"
)

// SocialServiceInterface はプロフィール・投稿ハンドラーが必要とするサービスインターフェース。
type SocialServiceInterface interface {
	// GetProfile はハンドル名のプロフィールを返す。存在しない場合は (nil, nil)。
	GetProfile(ctx context.Context, handle string) (*model.Profile, error)
	// GetPosts はハンドル名の最近の投稿を返す。
	GetPosts(ctx context.Context, handle string, opts social.PostsOptions) (*model.PostsPage, error)
	// GetPostsForHandles は複数ハンドルの投稿をまとめて返す。
	GetPostsForHandles(ctx context.Context, handles []string, limit int) ([]social.HandlePosts, error)
}

// SocialHandler はプロフィールと投稿のHTTPハンドラー。
type SocialHandler struct {
	service SocialServiceInterface
}

// NewSocialHandler はSocialHandlerを生成する。
func NewSocialHandler(service SocialServiceInterface) *SocialHandler {
	return &SocialHandler{service: service}
}

// handlePostsResponse は複数ハンドル取得の1件分のレスポンス。
type handlePostsResponse struct {
	Handle string                        `json:"username"`
	Page   *model.PostsPage              `json:"data,omitempty"`
	Error  *middleware.ErrorResponseBody `json:"error,omitempty"`
}

// batchPostsResponse は複数ハンドル取得のレスポンス。
type batchPostsResponse struct {
	Results []handlePostsResponse `json:"results"`
}

// GetProfile はプロフィールを取得する。
// GET /api/profiles/{handle}
func (h *SocialHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")

	prof, err := h.service.GetProfile(r.Context(), handle)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if prof == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError(strings.TrimPrefix(strings.TrimSpace(handle), "@")))
		return
	}

	writeJSON(w, http.StatusOK, prof)
}

// GetPosts はハンドル名の最近の投稿を取得する。
// GET /api/posts/{handle}?limit=&since_id=&live=
// live=true の場合は上流失敗時にモックデータへフォールバックしない。
func (h *SocialHandler) GetPosts(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	q := r.URL.Query()

	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	ctx := r.Context()
	if live, _ := strconv.ParseBool(q.Get("live")); live {
		ctx = social.WithoutFallback(ctx)
	}

	page, err := h.service.GetPosts(ctx, handle, social.PostsOptions{
		Limit:   limit,
		SinceID: strings.TrimSpace(q.Get("since_id")),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// GetPostsForHandles は複数ハンドルの投稿をまとめて取得する。
// 個々のハンドルの失敗は結果のerrorとして返し、全体は200で応答する。
// GET /api/posts?handles=a,b,c&limit=
func (h *SocialHandler) GetPostsForHandles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results, err := h.service.GetPostsForHandles(r.Context(), splitHandles(q.Get("handles")), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := batchPostsResponse{Results: make([]handlePostsResponse, len(results))}
	for i, res := range results {
		item := handlePostsResponse{Handle: res.Handle, Page: res.Page}
		if res.Err != nil {
			item.Page = nil
			item.Error = toErrorBody(res.Err)
		}
		resp.Results[i] = item
	}

	writeJSON(w, http.StatusOK, resp)
}

// parseLimit はクエリのlimitを解析する。省略時は既定値を返す。
// 範囲の検証はサービス層で行う。
func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.DefaultPostLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, model.NewInvalidRequestError("limitは整数で指定してください")
	}
	return limit, nil
}

// splitHandles はカンマ区切りのハンドル名を分割する。空要素は除く。
func splitHandles(raw string) []string {
	var handles []string
	for _, h := range strings.Split(raw, ",") {
		if h = strings.TrimSpace(h); h != "" {
			handles = append(handles, h)
		}
	}
	return handles
}
