// Package refresh は有効な監視アカウントの投稿を定期的に取得するワーカーを提供する。
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/socialwatch/internal/clock"
	"github.com/hitoshi/socialwatch/internal/metrics"
	"github.com/hitoshi/socialwatch/internal/model"
	"github.com/hitoshi/socialwatch/internal/social"
)

const (
	// DefaultMaxConcurrency は同時取得数の既定値。
	DefaultMaxConcurrency = 4
	// DefaultPostLimit は1アカウントあたりの取得件数の既定値。
	DefaultPostLimit = model.DefaultPostLimit
)

// AccountSource は取得対象の監視アカウントを提供し、取得結果を反映する。
type AccountSource interface {
	ListActive(ctx context.Context) ([]model.MonitoredAccount, error)
	TouchLastFetched(ctx context.Context, handle string) error
}

// PostsFetcher は投稿を取得する。
type PostsFetcher interface {
	GetPosts(ctx context.Context, handle string, opts social.PostsOptions) (*model.PostsPage, error)
}

// Config はSchedulerの設定。
type Config struct {
	MaxConcurrency int
	PostLimit      int
}

// CycleResult は1サイクルの集計。
type CycleResult struct {
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int
}

// Scheduler は有効な監視アカウントの投稿取得を定期実行する。
// 複数の所有者が同じハンドルを監視している場合も1サイクルで1回だけ取得する。
// 1件の失敗が他の取得を中断することはなく、失敗したハンドルは指数バックオフで間隔を空ける。
type Scheduler struct {
	accounts AccountSource
	posts    PostsFetcher
	cfg      Config

	mu      sync.Mutex
	backoff map[string]*backoffState

	metrics metrics.MetricsCollector
	clock   clock.Clock
	logger  *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// MaxConcurrency、PostLimit が0以下の場合は既定値を使用する。
func NewScheduler(
	accounts AccountSource,
	posts PostsFetcher,
	cfg Config,
	clk clock.Clock,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Scheduler {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.PostLimit <= 0 {
		cfg.PostLimit = DefaultPostLimit
	}
	cfg.PostLimit = min(cfg.PostLimit, model.MaxPostLimit)
	if clk == nil {
		clk = clock.Real{}
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Scheduler{
		accounts: accounts,
		posts:    posts,
		cfg:      cfg,
		backoff:  make(map[string]*backoffState),
		metrics:  collector,
		clock:    clk,
		logger:   logger,
	}
}

// Start は interval 間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("定期取得スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.cfg.MaxConcurrency),
	)

	// 起動直後に1回実行
	s.runAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("定期取得スケジューラを停止しました")
			return
		case <-ticker.C:
			s.runAndLog(ctx)
		}
	}
}

func (s *Scheduler) runAndLog(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("定期取得サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は有効な監視アカウントを1回取得し、並列で投稿を取得する。
// 上流の失敗はモックデータで代替せず、失敗として扱う。
func (s *Scheduler) RunOnce(ctx context.Context) (CycleResult, error) {
	start := time.Now()
	var result CycleResult

	accounts, err := s.accounts.ListActive(ctx)
	if err != nil {
		return result, fmt.Errorf("監視アカウントの取得に失敗しました: %w", err)
	}

	handles := s.dueHandles(accounts, &result)
	if len(handles) == 0 {
		s.logger.Info("取得対象の監視アカウントはありません", slog.Int("skipped", result.Skipped))
		return result, nil
	}

	s.logger.Info("定期取得サイクルを開始します",
		slog.Int("account_count", len(handles)),
		slog.Int("skipped", result.Skipped),
	)

	fetchCtx := social.WithoutFallback(ctx)
	outcomes := make([]Outcome, len(handles))

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.MaxConcurrency)
	for i, handle := range handles {
		g.Go(func() error {
			outcomes[i] = s.refresh(fetchCtx, handle)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		switch o {
		case OutcomeOK:
			result.Attempted++
			result.Succeeded++
		case OutcomeCanceled:
			result.Skipped++
		default:
			result.Attempted++
			result.Failed++
		}
	}

	s.logger.Info("定期取得サイクルが完了しました",
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
		slog.Int("skipped", result.Skipped),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return result, ctx.Err()
}

// dueHandles は重複を除き、バックオフ中でないハンドルを返す。
func (s *Scheduler) dueHandles(accounts []model.MonitoredAccount, result *CycleResult) []string {
	now := s.clock.Now()
	seen := make(map[string]struct{}, len(accounts))

	s.mu.Lock()
	defer s.mu.Unlock()

	var handles []string
	for _, a := range accounts {
		key := model.HandleKey(a.Handle)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if !s.backoff[key].due(now) {
			result.Skipped++
			continue
		}
		handles = append(handles, key)
	}

	// 削除または無効化されたハンドルのバックオフ状態は持ち越さない
	for key := range s.backoff {
		if _, active := seen[key]; !active {
			delete(s.backoff, key)
		}
	}
	return handles
}

// refresh は1ハンドルの投稿を取得し、結果に応じてバックオフ状態を更新する。
func (s *Scheduler) refresh(ctx context.Context, handle string) Outcome {
	page, err := s.posts.GetPosts(ctx, handle, social.PostsOptions{Limit: s.cfg.PostLimit})
	outcome := Classify(err)

	switch outcome {
	case OutcomeOK:
		s.clearBackoff(handle)
		// キャッシュを経由しない取得分はOnPostsFetchedで最終取得日時が更新される
		if page.Cached {
			if err := s.accounts.TouchLastFetched(ctx, handle); err != nil {
				s.logger.Error("最終取得日時の更新に失敗しました",
					slog.String("handle", handle),
					slog.String("error", err.Error()),
				)
			}
		}
		s.metrics.RecordRefreshSuccess(handle)
	case OutcomeCanceled:
	default:
		next := s.recordFailure(handle, outcome)
		s.metrics.RecordRefreshFailure(handle, model.ErrorCode(err))
		s.logger.Warn("監視アカウントの投稿取得に失敗しました",
			slog.String("handle", handle),
			slog.String("code", model.ErrorCode(err)),
			slog.String("error", err.Error()),
			slog.Time("next_attempt", next),
		)
	}
	return outcome
}

func (s *Scheduler) clearBackoff(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.backoff, handle)
}

func (s *Scheduler) recordFailure(handle string, outcome Outcome) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.backoff[handle]
	if !ok {
		b = &backoffState{}
		s.backoff[handle] = b
	}
	b.fail(outcome, s.clock.Now())
	return b.nextAttempt
}
