package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/socialwatch/internal/metrics"
	"github.com/hitoshi/socialwatch/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	AuthTokens        map[string]string
	AdminPrincipals   []string
	RateLimiter       *middleware.RateLimiter

	// 稼働確認・メトリクス
	HealthChecker HealthChecker
	Gatherer      prometheus.Gatherer

	// SNSデータ
	SocialService SocialServiceInterface
	ServiceAdmin  ServiceAdmin
	ModeSetter    MockModeSetter

	// 監視アカウント
	AccountService AccountServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Principal → RateLimit(GeneralMiddleware)
//
// /health と /metrics はプリンシパル不要で、Principal 以降のチェーンの外に配置する。
// キャッシュ破棄とモード切り替えはプロセス全体に作用するため AdminPrincipals に限定する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	socialHandler := NewSocialHandler(deps.SocialService)
	accountHandler := NewAccountHandler(deps.AccountService)
	serviceHandler := NewServiceHandler(deps.ServiceAdmin, deps.ModeSetter, deps.HealthChecker)

	// --- プリンシパル不要のルート ---
	r.Get("/health", serviceHandler.Health)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- プリンシパルが必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewPrincipalMiddleware(deps.AuthTokens))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/profiles/{handle}", socialHandler.GetProfile)

		r.Route("/api/posts", func(r chi.Router) {
			r.Get("/", socialHandler.GetPostsForHandles)
			r.Get("/{handle}", socialHandler.GetPosts)
		})

		r.Route("/api/accounts", func(r chi.Router) {
			r.Get("/", accountHandler.ListAccounts)
			// POST /api/accounts - 監視アカウント追加（登録専用レート制限を追加）
			r.With(deps.RateLimiter.AccountRegistrationMiddleware()).Post("/", accountHandler.AddAccount)

			r.Route("/{id}", func(r chi.Router) {
				r.Put("/", accountHandler.UpdateAccount)
				r.Delete("/", accountHandler.RemoveAccount)
			})
		})

		r.Route("/api/service", func(r chi.Router) {
			r.Get("/", serviceHandler.ServiceInfo)

			r.Group(func(r chi.Router) {
				r.Use(middleware.NewAdminMiddleware(deps.AdminPrincipals, logger))
				r.Delete("/cache", serviceHandler.ClearCache)
				r.Put("/mock", serviceHandler.SetMockMode)
			})
		})
	})

	return r
}
