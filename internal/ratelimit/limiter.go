// Package ratelimit は上流API呼び出し用のスライディングウィンドウ・レートリミッターを提供する。
package ratelimit

import (
	"sync"
	"time"

	"github.com/hitoshi/socialwatch/internal/clock"
	"github.com/hitoshi/socialwatch/internal/model"
)

const (
	// DefaultWindow はデフォルトのウィンドウ幅（15分）。
	DefaultWindow = 15 * time.Minute
	// DefaultMaxRequests はウィンドウあたりの許可数。上流自体の上限より控えめに設定する。
	DefaultMaxRequests = 75
)

// Config はレートリミッターの設定。
type Config struct {
	Window      time.Duration
	MaxRequests int
}

// DefaultConfig はデフォルト設定を返す。
func DefaultConfig() Config {
	return Config{
		Window:      DefaultWindow,
		MaxRequests: DefaultMaxRequests,
	}
}

// Limiter はキーごとに許可済みリクエストの時刻を記録するスライディングウィンドウ方式のレートリミッター。
// 判定と記録は同一ロック内で行うため、並行呼び出しが同時に判定を通過することはない。
// 状態はプロセス内のみで保持し、再起動でリセットされる。
type Limiter struct {
	mu          sync.Mutex
	window      time.Duration
	maxRequests int
	clock       clock.Clock
	requests    map[string][]time.Time
}

// New はLimiterを生成する。clkがnilの場合はシステム時刻を使用する。
func New(cfg Config, clk clock.Clock) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultMaxRequests
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Limiter{
		window:      cfg.Window,
		maxRequests: cfg.MaxRequests,
		clock:       clk,
		requests:    make(map[string][]time.Time),
	}
}

// Allow はウィンドウ内の許可数が上限未満であればリクエストを記録してtrueを返す。
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	valid := l.prune(key, now)
	if len(valid) >= l.maxRequests {
		return false
	}
	l.requests[key] = append(valid, now)
	return true
}

// Remaining はウィンドウ内の残り許可数を返す。
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return max(0, l.maxRequests-len(l.prune(key, l.clock.Now())))
}

// Status はキーのレート制限状態を返す。
// ResetAt は now+window の目安値（エポック秒）。
func (l *Limiter) Status(key string) model.RateLimitStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	used := len(l.prune(key, now))
	return model.RateLimitStatus{
		Limit:     l.maxRequests,
		Remaining: max(0, l.maxRequests-used),
		ResetAt:   now.Add(l.window).Unix(),
	}
}

// Saturate はキーのウィンドウを上限まで埋める。
// 上流から429を受けた際に、until まで以降の呼び出しをローカルで即時拒否させるために使用する。
func (l *Limiter) Saturate(key string, until time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	// until 時点でウィンドウから外れる時刻で埋める
	stamp := until.Add(-l.window)
	if stamp.After(now) {
		stamp = now
	}
	filled := make([]time.Time, l.maxRequests)
	for i := range filled {
		filled[i] = stamp
	}
	l.requests[key] = filled
}

// Prune はウィンドウ外の記録のみとなったキーを削除し、削除したキー数を返す。
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	removed := 0
	for key := range l.requests {
		if len(l.prune(key, now)) == 0 {
			delete(l.requests, key)
			removed++
		}
	}
	return removed
}

// Config は現在の設定を返す。
func (l *Limiter) Config() Config {
	return Config{Window: l.window, MaxRequests: l.maxRequests}
}

// prune はウィンドウより古い記録を取り除いた時刻列を返す。呼び出し側でロックを保持すること。
func (l *Limiter) prune(key string, now time.Time) []time.Time {
	reqs := l.requests[key]
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(reqs) && !reqs[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return reqs
	}
	valid := append([]time.Time(nil), reqs[i:]...)
	l.requests[key] = valid
	return valid
}
