package refresh

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/socialwatch/internal/model"
)

// Outcome は取得結果の分類。
type Outcome int

const (
	// OutcomeOK は取得成功。
	OutcomeOK Outcome = iota
	// OutcomeBackoff は一時的な失敗（レート制限超過、上流エラー、認証失敗）。指数バックオフする。
	OutcomeBackoff
	// OutcomeGone はハンドルが上流に存在しない。最大間隔まで再試行を遅らせる。
	OutcomeGone
	// OutcomeCanceled はコンテキストの終了。バックオフ状態を変更しない。
	OutcomeCanceled
)

const (
	// initialBackoff は指数バックオフの初回遅延。
	initialBackoff = 5 * time.Minute
	// maxBackoff は指数バックオフの最大遅延。
	maxBackoff = time.Hour
)

// Classify は取得エラーを分類する。
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	case model.IsCode(err, model.ErrCodeUserNotFound):
		return OutcomeGone
	default:
		return OutcomeBackoff
	}
}

// CalculateBackoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// 初回5分、2倍ずつ増加、最大1時間。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// backoffState はハンドルごとの連続失敗回数と次回試行時刻。
type backoffState struct {
	consecutiveErrors int
	nextAttempt       time.Time
}

// due は now の時点で試行してよいかを返す。
func (b *backoffState) due(now time.Time) bool {
	return b == nil || !now.Before(b.nextAttempt)
}

// fail は失敗を記録し、次回試行時刻を設定する。
func (b *backoffState) fail(outcome Outcome, now time.Time) {
	b.consecutiveErrors++
	delay := CalculateBackoff(b.consecutiveErrors - 1)
	if outcome == OutcomeGone {
		delay = maxBackoff
	}
	b.nextAttempt = now.Add(delay)
}
