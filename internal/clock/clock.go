// Package clock は時刻取得を抽象化する。
// キャッシュのTTLやレート制限のウィンドウをテストから制御するために使用する。
package clock

import (
	"sync"
	"time"
)

// Clock は現在時刻を返すインターフェース。
type Clock interface {
	Now() time.Time
}

// Real はシステム時刻を返すClock。
type Real struct{}

// Now は現在時刻を返す。
func (Real) Now() time.Time {
	return time.Now()
}

// Fake は手動で進めるClock。テスト用。
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake は指定時刻から始まるFakeを生成する。
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now は現在の仮想時刻を返す。
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance は仮想時刻をdだけ進める。
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}
