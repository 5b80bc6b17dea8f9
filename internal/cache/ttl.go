// Package cache はエントリごとに有効期限を持つインメモリキャッシュを提供する。
package cache

import (
	"sync"
	"time"

	"github.com/hitoshi/socialwatch/internal/clock"
)

// DefaultTTL はTTL未指定時の有効期間。
const DefaultTTL = 5 * time.Minute

// データ種別ごとのTTL。プロフィールは投稿一覧より変化が少ないため長めに保持する。
const (
	ProfileTTL   = 10 * time.Minute
	PostsTTL     = 5 * time.Minute
	MockPostsTTL = 2 * time.Minute
)

// Entry はキャッシュされた値と作成・失効時刻。
type Entry[V any] struct {
	Value     V
	CreatedAt time.Time
	ExpiresAt time.Time
}

// TTLCache はキーごとに失効時刻を持つキャッシュ。
// 読み取り時に失効済みエントリを遅延削除する。Purge で一括削除も可能。
type TTLCache[V any] struct {
	mu         sync.Mutex
	items      map[string]Entry[V]
	defaultTTL time.Duration
	clock      clock.Clock
}

// New はTTLCacheを生成する。defaultTTLが0以下の場合はDefaultTTLを使用する。
func New[V any](defaultTTL time.Duration, clk clock.Clock) *TTLCache[V] {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &TTLCache[V]{
		items:      make(map[string]Entry[V]),
		defaultTTL: defaultTTL,
		clock:      clk,
	}
}

// Set は値を保存する。既存エントリは無条件に上書きし、失効時刻もリセットする。
// ttlが0以下の場合はデフォルトTTLを使用する。
func (c *TTLCache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.clock.Now()

	c.mu.Lock()
	c.items[key] = Entry[V]{Value: value, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	c.mu.Unlock()
}

// Get は有効な値を返す。存在しないか失効済みの場合はfalseを返す。
func (c *TTLCache[V]) Get(key string) (V, bool) {
	entry, ok := c.GetEntry(key)
	return entry.Value, ok
}

// GetEntry は有効なエントリを失効時刻付きで返す。
func (c *TTLCache[V]) GetEntry(key string) (Entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[key]
	if !ok {
		return Entry[V]{}, false
	}
	if c.expired(entry) {
		delete(c.items, key)
		return Entry[V]{}, false
	}
	return entry, true
}

// Has は有効なエントリが存在するかを返す。
func (c *TTLCache[V]) Has(key string) bool {
	_, ok := c.GetEntry(key)
	return ok
}

// Delete はエントリを削除する。削除した場合はtrueを返す。
func (c *TTLCache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.items[key]
	delete(c.items, key)
	return ok
}

// Clear は全エントリを削除する。
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	c.items = make(map[string]Entry[V])
	c.mu.Unlock()
}

// Size は保持しているエントリ数を返す。失効済みでも未削除のものを含む。
func (c *TTLCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Purge は失効済みエントリを一括削除し、削除件数を返す。
func (c *TTLCache[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.items {
		if c.expired(entry) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// expired はエントリが失効済みかを返す。失効時刻ちょうどはまだ有効とする。
func (c *TTLCache[V]) expired(entry Entry[V]) bool {
	return c.clock.Now().After(entry.ExpiresAt)
}
