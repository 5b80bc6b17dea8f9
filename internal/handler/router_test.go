package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/socialwatch/internal/account"
	"github.com/hitoshi/socialwatch/internal/clock"
	"github.com/hitoshi/socialwatch/internal/config"
	"github.com/hitoshi/socialwatch/internal/metrics"
	"github.com/hitoshi/socialwatch/internal/middleware"
	"github.com/hitoshi/socialwatch/internal/mockdata"
	"github.com/hitoshi/socialwatch/internal/model"
	"github.com/hitoshi/socialwatch/internal/ratelimit"
	"github.com/hitoshi/socialwatch/internal/repository"
	"github.com/hitoshi/socialwatch/internal/social"
)

// newTestRouter は資格情報なし（モックモード）の実サービスでルーターを構成する。
func newTestRouter(t *testing.T, tokens map[string]string) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	creds := config.NewCredentialSourceWithEnv(func(string) string { return "" })
	provider := mockdata.NewProvider(mockdata.Config{}, clk, logger)
	limiter := ratelimit.New(ratelimit.DefaultConfig(), clk)
	socialSvc := social.NewService(nil, provider, creds, limiter, social.Config{}, clk, collector, logger)

	accountSvc := account.NewService(repository.NewMemoryAccountRepo(), socialSvc, account.Config{}, clk, logger)
	socialSvc.OnPostsFetched(func(ctx context.Context, handle string) {
		accountSvc.TouchLastFetched(ctx, handle)
	})
	if _, err := accountSvc.SeedDemo(context.Background()); err != nil {
		t.Fatalf("SeedDemo: %v", err)
	}

	return NewRouter(&RouterDeps{
		Logger:            logger,
		CORSAllowedOrigin: "http://localhost:3000",
		AuthTokens:        tokens,
		AdminPrincipals:   []string{"ops"},
		RateLimiter:       middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), clk, collector, logger),
		Gatherer:          reg,
		SocialService:     socialSvc,
		ServiceAdmin:      socialSvc,
		ModeSetter:        creds,
		AccountService:    accountSvc,
	})
}

// do はプリンシパル付きでリクエストを送る。principal が空の場合はヘッダーを付けない。
func do(t *testing.T, h http.Handler, method, path, principal, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if principal != "" {
		req.Header.Set(middleware.PrincipalHeader, principal)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v (body=%s)", err, w.Body.String())
	}
	return v
}

func TestRouter_PublicRoutes(t *testing.T) {
	router := newTestRouter(t, nil)

	if w := do(t, router, http.MethodGet, "/health", "", ""); w.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", w.Code, http.StatusOK)
	}

	// メトリクスを発生させてから取得する
	do(t, router, http.MethodGet, "/api/profiles/technews", "alice", "")
	w := do(t, router, http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "socialwatch_cache_misses_total") {
		t.Error("metrics output should contain socialwatch_cache_misses_total")
	}
}

func TestRouter_APIRequiresPrincipal(t *testing.T) {
	router := newTestRouter(t, nil)

	paths := []string{"/api/accounts", "/api/profiles/technews", "/api/posts/technews", "/api/service"}
	for _, p := range paths {
		w := do(t, router, http.MethodGet, p, "", "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("GET %s status = %d, want %d", p, w.Code, http.StatusUnauthorized)
		}
	}
}

func TestRouter_BearerTokens(t *testing.T) {
	router := newTestRouter(t, map[string]string{"s3cret": "alice"})

	// トークン設定時はヘッダーによる指定を受け付けない
	if w := do(t, router, http.MethodGet, "/api/accounts", "alice", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("header principal status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("bearer status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_ProfilesAndPosts(t *testing.T) {
	router := newTestRouter(t, nil)

	w := do(t, router, http.MethodGet, "/api/profiles/@TechNews", "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET profile status = %d, want %d", w.Code, http.StatusOK)
	}
	prof := decode[model.Profile](t, w)
	if prof.ID != "1" || prof.Handle != "technews" {
		t.Errorf("profile = %+v", prof)
	}

	w = do(t, router, http.MethodGet, "/api/posts/elonmusk?limit=3", "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET posts status = %d, want %d", w.Code, http.StatusOK)
	}
	page := decode[model.PostsPage](t, w)
	if len(page.Posts) != 3 || page.Cached || page.Meta.Count != 3 {
		t.Errorf("first page: posts=%d cached=%v count=%d", len(page.Posts), page.Cached, page.Meta.Count)
	}

	w = do(t, router, http.MethodGet, "/api/posts/elonmusk?limit=3", "alice", "")
	page = decode[model.PostsPage](t, w)
	if !page.Cached || page.CacheExpiresAt == nil {
		t.Errorf("second page should be cached: cached=%v expires=%v", page.Cached, page.CacheExpiresAt)
	}

	if w := do(t, router, http.MethodGet, "/api/posts/elonmusk?limit=26", "alice", ""); w.Code != http.StatusBadRequest {
		t.Errorf("limit=26 status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if w := do(t, router, http.MethodGet, "/api/posts/bad-handle!", "alice", ""); w.Code != http.StatusBadRequest {
		t.Errorf("invalid handle status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestRouter_MultiHandlePosts(t *testing.T) {
	router := newTestRouter(t, nil)

	w := do(t, router, http.MethodGet, "/api/posts?handles=technews,dev&limit=2", "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := decode[batchPostsResponse](t, w)
	if len(body.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(body.Results))
	}
	for _, res := range body.Results {
		if res.Error != nil || res.Page == nil || len(res.Page.Posts) != 2 {
			t.Errorf("result %s = %+v", res.Handle, res)
		}
	}
}

func TestRouter_AccountLifecycle(t *testing.T) {
	router := newTestRouter(t, nil)

	// 共有のデモアカウントが見える
	w := do(t, router, http.MethodGet, "/api/accounts", "alice", "")
	list := decode[accountListResponse](t, w)
	if list.Total != 3 || len(list.Accounts) != 3 {
		t.Fatalf("initial accounts = %d (total %d), want 3", len(list.Accounts), list.Total)
	}

	w = do(t, router, http.MethodPost, "/api/accounts", "alice", `{"username":"@ElonMusk"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST status = %d, want %d (body=%s)", w.Code, http.StatusCreated, w.Body.String())
	}
	created := decode[model.MonitoredAccount](t, w)
	if created.Handle != "elonmusk" || created.OwnerID != "alice" || !created.IsActive {
		t.Errorf("created = %+v", created)
	}

	// 同じ所有者の重複は409、別の所有者は登録できる
	if w := do(t, router, http.MethodPost, "/api/accounts", "alice", `{"username":"elonmusk"}`); w.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want %d", w.Code, http.StatusConflict)
	}
	if w := do(t, router, http.MethodPost, "/api/accounts", "bob", `{"username":"elonmusk"}`); w.Code != http.StatusCreated {
		t.Errorf("other owner status = %d, want %d", w.Code, http.StatusCreated)
	}

	// 他人のアカウントは更新・削除できない
	path := "/api/accounts/" + created.ID
	if w := do(t, router, http.MethodDelete, path, "bob", ""); w.Code != http.StatusNotFound {
		t.Errorf("foreign delete status = %d, want %d", w.Code, http.StatusNotFound)
	}

	w = do(t, router, http.MethodPut, path, "alice", `{"is_active":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, want %d", w.Code, http.StatusOK)
	}
	if updated := decode[model.MonitoredAccount](t, w); updated.IsActive || updated.Status != model.AccountStatusInactive {
		t.Errorf("updated = %+v", updated)
	}

	if w := do(t, router, http.MethodPut, path, "alice", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty update status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = do(t, router, http.MethodGet, "/api/accounts", "alice", "")
	list = decode[accountListResponse](t, w)
	if list.Total != 4 || list.Active != 3 {
		t.Errorf("counts = total %d active %d, want 4/3", list.Total, list.Active)
	}

	if w := do(t, router, http.MethodDelete, path, "alice", ""); w.Code != http.StatusOK {
		t.Errorf("DELETE status = %d, want %d", w.Code, http.StatusOK)
	}
	if w := do(t, router, http.MethodDelete, path, "alice", ""); w.Code != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRouter_PostsFetchRefreshesAccountStatus(t *testing.T) {
	router := newTestRouter(t, nil)

	do(t, router, http.MethodPost, "/api/accounts", "alice", `{"username":"newcomer"}`)
	do(t, router, http.MethodGet, "/api/posts/newcomer", "alice", "")

	w := do(t, router, http.MethodGet, "/api/accounts", "alice", "")
	list := decode[accountListResponse](t, w)
	for _, a := range list.Accounts {
		if a.Handle == "newcomer" {
			if a.LastFetchedAt == nil || a.Status != model.AccountStatusActive {
				t.Errorf("newcomer = %+v, want active with last_fetched_at", a)
			}
			return
		}
	}
	t.Error("newcomer not listed")
}

func TestRouter_ServiceAdmin(t *testing.T) {
	router := newTestRouter(t, nil)

	w := do(t, router, http.MethodGet, "/api/service", "alice", "")
	info := decode[model.ServiceInfo](t, w)
	if !info.MockEnabled || info.HasCredential || info.RateLimit.Limit != ratelimit.DefaultMaxRequests {
		t.Errorf("info = %+v", info)
	}

	do(t, router, http.MethodGet, "/api/profiles/dev", "alice", "")
	w = do(t, router, http.MethodDelete, "/api/service/cache", "ops", "")
	if cleared := decode[clearCacheResponse](t, w); cleared.Cleared == 0 {
		t.Error("cleared = 0, want > 0")
	}

	// 資格情報がないためオーバーライドでfalseにしてもモックモードのまま
	w = do(t, router, http.MethodPut, "/api/service/mock", "ops", `{"enabled":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT mock status = %d, want %d", w.Code, http.StatusOK)
	}
	if info := decode[model.ServiceInfo](t, w); !info.MockEnabled {
		t.Error("mock mode should stay enabled without a credential")
	}
}

func TestRouter_ServiceAdminForbiddenForOtherPrincipals(t *testing.T) {
	router := newTestRouter(t, nil)

	do(t, router, http.MethodGet, "/api/profiles/dev", "alice", "")

	w := do(t, router, http.MethodDelete, "/api/service/cache", "alice", "")
	if w.Code != http.StatusForbidden {
		t.Errorf("DELETE /api/service/cache status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if body := decode[middleware.ErrorResponseBody](t, w); body.Code != model.ErrCodeForbidden {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeForbidden)
	}

	w = do(t, router, http.MethodPut, "/api/service/mock", "alice", `{"enabled":true}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("PUT /api/service/mock status = %d, want %d", w.Code, http.StatusForbidden)
	}

	// 拒否されたリクエストはキャッシュに触れない
	w = do(t, router, http.MethodGet, "/api/service", "alice", "")
	if info := decode[model.ServiceInfo](t, w); info.CacheSize == 0 {
		t.Error("cache should survive a forbidden clear request")
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	router := newTestRouter(t, map[string]string{"s3cret": "alice"})

	req := httptest.NewRequest(http.MethodOptions, "/api/accounts", &bytes.Buffer{})
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
