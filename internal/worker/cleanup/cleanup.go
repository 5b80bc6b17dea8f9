// Package cleanup はプロセス内の期限切れ状態を定期的に掃除するジョブを提供する。
// 期限切れのキャッシュエントリと、期間外になったレート制限の記録を削除する。
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// Pruner は期限切れの状態を削除し、削除件数を返す。
// social.Service.PurgeExpired（PrunerFunc経由）、ratelimit.Limiter.Prune、middleware.RateLimiter.Prune を受け付ける。
type Pruner interface {
	Prune() int
}

// PrunerFunc は関数をPrunerとして扱うアダプタ。
type PrunerFunc func() int

// Prune は f() を呼び出す。
func (f PrunerFunc) Prune() int { return f() }

// Target は名前付きの削除対象。名前はログに使用する。
type Target struct {
	Name   string
	Pruner Pruner
}

// CleanupJob は登録された削除対象を順に掃除するジョブ。
// 冪等: 削除対象がない場合も成功する。
type CleanupJob struct {
	targets []Target
	logger  *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(logger *slog.Logger, targets ...Target) *CleanupJob {
	return &CleanupJob{
		targets: targets,
		logger:  logger,
	}
}

// Run は全ての削除対象を1回掃除し、対象ごとの削除件数を返す。
// コンテキストがキャンセルされている場合は残りの対象をスキップする。
func (j *CleanupJob) Run(ctx context.Context) (map[string]int, error) {
	start := time.Now()
	removed := make(map[string]int, len(j.targets))
	total := 0

	for _, t := range j.targets {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		n := t.Pruner.Prune()
		removed[t.Name] = n
		total += n
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int("deleted_count", total),
		slog.Any("deleted_by_target", removed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return removed, nil
}

// Start は interval 間隔でジョブを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Int("targets", len(j.targets)),
	)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			if _, err := j.Run(ctx); err != nil {
				j.logger.Warn("クリーンアップジョブを中断しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
