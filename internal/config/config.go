package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// アカウントストアの種別
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// アカウント追加時のハンドル検証ポリシー
const (
	// ValidationLenient は上流失敗時にモックでの存在確認を許容する。
	ValidationLenient = "lenient"
	// ValidationStrict は実モード時に上流での存在確認を必須とする。
	ValidationStrict = "strict"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
// 実モード/モックモードの判定のみは CredentialSource が呼び出しごとに行う。
type Config struct {
	// Upstream
	UpstreamBaseURL string
	UpstreamTimeout time.Duration

	// Rate Limit (upstream)
	RateLimitWindow      time.Duration
	RateLimitMaxRequests int

	// Cache
	ProfileCacheTTL   time.Duration
	PostsCacheTTL     time.Duration
	MockPostsCacheTTL time.Duration

	// Mock
	MockDelay       time.Duration
	MockFailureRate float64

	// Accounts
	AccountStore      string
	DatabaseURL       string
	SQLitePath        string
	AccountValidation string
	AccountStaleAfter time.Duration
	SeedDemoAccounts  bool

	// Workers
	RefreshInterval      time.Duration
	RefreshInServe       bool
	RefreshMaxConcurrent int
	RefreshPostLimit     int
	CleanupInterval      time.Duration

	// Rate Limit (API)
	RateLimitGeneral int

	// Auth
	AuthTokens map[string]string
	// AdminPrincipals はキャッシュ破棄とモード切り替えを許可するプリンシパル。空の場合は誰にも許可しない。
	AdminPrincipals []string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 設定値の組み合わせが不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.UpstreamBaseURL = strings.TrimRight(getEnvString("UPSTREAM_BASE_URL", "https://api.twitter.com/2"), "/")
	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second)
	cfg.RateLimitWindow = getEnvDuration("RATE_LIMIT_WINDOW", 15*time.Minute)
	cfg.RateLimitMaxRequests = getEnvInt("RATE_LIMIT_MAX_REQUESTS", 75)
	cfg.ProfileCacheTTL = getEnvDuration("PROFILE_CACHE_TTL", 10*time.Minute)
	cfg.PostsCacheTTL = getEnvDuration("POSTS_CACHE_TTL", 5*time.Minute)
	cfg.MockPostsCacheTTL = getEnvDuration("MOCK_POSTS_CACHE_TTL", 2*time.Minute)
	cfg.MockDelay = getEnvDuration("MOCK_DELAY", 100*time.Millisecond)
	cfg.MockFailureRate = getEnvFloat("MOCK_FAILURE_RATE", 0.03)
	cfg.AccountStore = strings.ToLower(getEnvString("ACCOUNT_STORE", StoreMemory))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.SQLitePath = getEnvString("SQLITE_PATH", "./data/socialwatch.db")
	cfg.AccountValidation = strings.ToLower(getEnvString("ACCOUNT_VALIDATION", ValidationLenient))
	cfg.AccountStaleAfter = getEnvDuration("ACCOUNT_STALE_AFTER", 30*time.Minute)
	cfg.SeedDemoAccounts = getEnvBool("SEED_DEMO_ACCOUNTS", true)
	cfg.RefreshInterval = getEnvDuration("REFRESH_INTERVAL", 5*time.Minute)
	cfg.RefreshInServe = getEnvBool("REFRESH_IN_SERVE", true)
	cfg.RefreshMaxConcurrent = getEnvInt("REFRESH_MAX_CONCURRENT", 4)
	cfg.RefreshPostLimit = getEnvInt("REFRESH_POST_LIMIT", 10)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 5*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.AuthTokens = parseAuthTokens(os.Getenv("AUTH_TOKENS"))
	cfg.AdminPrincipals = parseList(os.Getenv("ADMIN_PRINCIPALS"))
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	switch cfg.AccountStore {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("required environment variables are not set: [DATABASE_URL]")
		}
	default:
		return nil, fmt.Errorf("unknown ACCOUNT_STORE: %q", cfg.AccountStore)
	}

	switch cfg.AccountValidation {
	case ValidationLenient, ValidationStrict:
	default:
		return nil, fmt.Errorf("unknown ACCOUNT_VALIDATION: %q", cfg.AccountValidation)
	}

	if cfg.MockFailureRate < 0 || cfg.MockFailureRate > 1 {
		return nil, fmt.Errorf("MOCK_FAILURE_RATE must be between 0 and 1: %v", cfg.MockFailureRate)
	}

	return cfg, nil
}

// parseAuthTokens は "token:principal,token2:principal2" 形式をトークン→プリンシパルの対応に変換する。
// 書式が不正な要素は無視する。
func parseAuthTokens(raw string) map[string]string {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		token, principal, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || token == "" || principal == "" {
			continue
		}
		tokens[token] = principal
	}
	return tokens
}

// parseList はカンマ区切りの値を空要素を除いて分割する。
func parseList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
