package model

import "time"

// RateLimitStatus はレートリミッターの状態。
// ResetAt はスライディングウィンドウのため目安であり厳密なリセット時刻ではない。
type RateLimitStatus struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	ResetAt   int64 `json:"reset"`
}

// ServiceInfo はデータアクセス層の状態。
type ServiceInfo struct {
	MockEnabled   bool            `json:"mock_enabled"`
	HasCredential bool            `json:"has_bearer_token"`
	CacheSize     int             `json:"cache_size"`
	RateLimit     RateLimitStatus `json:"rate_limit"`
	Timestamp     time.Time       `json:"timestamp"`
}
