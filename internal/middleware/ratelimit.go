package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/socialwatch/internal/clock"
	"github.com/hitoshi/socialwatch/internal/metrics"
	"github.com/hitoshi/socialwatch/internal/model"
)

// RateLimiterConfig はAPIレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate       rate.Limit    // API全般のレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst      int           // API全般のバーストサイズ
	RegistrationRate  rate.Limit    // 監視アカウント登録のレート（req/sec）。10/60
	RegistrationBurst int           // 監視アカウント登録のバーストサイズ
	IdleTTL           time.Duration // この時間アクセスのないエントリはPruneで削除する
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/principal、アカウント登録 10 req/min/principal。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfigPerMinute(120)
}

// RateLimiterConfigPerMinute はAPI全般の上限を1分あたりのリクエスト数で指定した設定を返す。
func RateLimiterConfigPerMinute(general int) RateLimiterConfig {
	if general <= 0 {
		general = 120
	}
	return RateLimiterConfig{
		GeneralRate:       rate.Limit(float64(general) / 60.0),
		GeneralBurst:      general,
		RegistrationRate:  rate.Limit(10.0 / 60.0), // ~0.167 req/sec
		RegistrationBurst: 10,
		IdleTTL:           10 * time.Minute,
	}
}

// principalLimiter はプリンシパルごとのリミッターと最終アクセス時刻を保持する。
type principalLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet は同じレート設定を共有するプリンシパル別リミッターの集合。
type limiterSet struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	entries map[string]*principalLimiter
}

func newLimiterSet(limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		limit:   limit,
		burst:   burst,
		entries: make(map[string]*principalLimiter),
	}
}

// allow はプリンシパルのリミッターを取得または作成し、1トークン消費できるかを返す。
func (s *limiterSet) allow(principal string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pl, ok := s.entries[principal]
	if !ok {
		pl = &principalLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.entries[principal] = pl
	}
	pl.lastAccess = now
	return pl.limiter.AllowN(now, 1)
}

// prune は最終アクセスが cutoff より前のエントリを削除し、削除数を返す。
func (s *limiterSet) prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for principal, pl := range s.entries {
		if pl.lastAccess.Before(cutoff) {
			delete(s.entries, principal)
			removed++
		}
	}
	return removed
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RateLimiter はプリンシパルごとのAPIレート制限を管理する。
// API全般と監視アカウント登録の2種類を独立に提供する。
// 期限切れエントリの削除はクリーンアップワーカーがPruneを呼び出して行う。
type RateLimiter struct {
	config       RateLimiterConfig
	general      *limiterSet
	registration *limiterSet
	clock        clock.Clock
	metrics      metrics.MetricsCollector
	logger       *slog.Logger
}

// NewRateLimiter は新しいRateLimiterを生成する。
// clkがnilの場合はシステム時刻、collectorがnilの場合は記録しない。
func NewRateLimiter(config RateLimiterConfig, clk clock.Clock, collector metrics.MetricsCollector, logger *slog.Logger) *RateLimiter {
	if clk == nil {
		clk = clock.Real{}
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		config:       config,
		general:      newLimiterSet(config.GeneralRate, config.GeneralBurst),
		registration: newLimiterSet(config.RegistrationRate, config.RegistrationBurst),
		clock:        clk,
		metrics:      collector,
		logger:       logger,
	}
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// プリンシパルミドルウェアの後に配置する。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general, "general")
}

// AccountRegistrationMiddleware は監視アカウント登録専用のレート制限ミドルウェアを返す。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) AccountRegistrationMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.registration, "account_registration")
}

func (rl *RateLimiter) middleware(set *limiterSet, limitType string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := PrincipalFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError())
				return
			}

			if !set.allow(principal, rl.clock.Now()) {
				rl.metrics.RecordRateLimited("api_" + limitType)
				rl.logger.Warn("rate limit exceeded",
					slog.String("principal_id", principal),
					slog.String("limit_type", limitType),
				)
				writeRateLimitResponse(w, set.limit)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Prune はIdleTTLを超えてアクセスのないエントリを削除し、削除数を返す。
func (rl *RateLimiter) Prune() int {
	cutoff := rl.clock.Now().Add(-rl.config.IdleTTL)
	return rl.general.prune(cutoff) + rl.registration.prune(cutoff)
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.len()
}

// RegistrationLimiterCount は現在管理されているアカウント登録リミッターのエントリ数を返す。
func (rl *RateLimiter) RegistrationLimiterCount() int {
	return rl.registration.len()
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = max(int(math.Ceil(1.0/float64(r))), 1)
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests,
		model.NewRateLimitExceededError("リクエストが多すぎます。しばらく待ってから再試行してください。"))
}
