// Package social はSNSデータアクセス層の窓口を提供する。
// キャッシュ、上流API呼び出し、モックデータへのフォールバックを統括する。
package social

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/socialwatch/internal/cache"
	"github.com/hitoshi/socialwatch/internal/clock"
	"github.com/hitoshi/socialwatch/internal/metrics"
	"github.com/hitoshi/socialwatch/internal/model"
	"github.com/hitoshi/socialwatch/internal/ratelimit"
	"github.com/hitoshi/socialwatch/internal/upstream"
)

const (
	// MaxBatchHandles は複数ハンドル一括取得で指定できる最大件数。
	MaxBatchHandles = 20
	// batchConcurrency は複数ハンドル一括取得の同時実行数。
	batchConcurrency = 5
	// defaultFetchTimeout は共有取得1回あたりの既定の上限。フォールバック分を含む。
	defaultFetchTimeout = 30 * time.Second
)

// DataSource はプロフィールと投稿の取得元。上流APIクライアントとモックデータが実装する。
type DataSource interface {
	FetchProfileByHandle(ctx context.Context, handle string) (*model.Profile, error)
	FetchPosts(ctx context.Context, author model.Profile, query model.PostsQuery) (*model.Timeline, error)
}

// ModeSource は動作モードの判定を提供する。呼び出しごとに評価する。
type ModeSource interface {
	MockEnabled() bool
	HasCredential() bool
}

// Config はキャッシュのTTLと取得の上限時間。0以下の値は既定値を使用する。
type Config struct {
	ProfileTTL   time.Duration
	PostsTTL     time.Duration
	MockPostsTTL time.Duration
	// FetchTimeout は同一キーの呼び出し元で共有する取得の上限時間。
	// 共有取得は個々の呼び出し元のキャンセルから切り離して実行する。
	FetchTimeout time.Duration
}

// PostsOptions は投稿取得の条件。
type PostsOptions struct {
	Limit   int
	SinceID string
}

// HandlePosts は複数ハンドル一括取得の1件分の結果。
type HandlePosts struct {
	Handle string
	Page   *model.PostsPage
	Err    error
}

// Service はSNSデータアクセス層の唯一の窓口。
// キャッシュとレートリミッターはこのServiceが所有し、返却値は全て複製して返す。
type Service struct {
	live    DataSource
	mock    DataSource
	mode    ModeSource
	limiter *ratelimit.Limiter

	profiles *cache.TTLCache[*model.Profile]
	posts    *cache.TTLCache[*model.PostsPage]
	cfg      Config
	flight   singleflight.Group

	onPostsFetched func(ctx context.Context, handle string)

	metrics metrics.MetricsCollector
	clock   clock.Clock
	logger  *slog.Logger
}

// NewService はServiceを生成する。
// limiter は上流クライアントと共有するもので、状態の参照にのみ使用する。
func NewService(
	live, mock DataSource,
	mode ModeSource,
	limiter *ratelimit.Limiter,
	cfg Config,
	clk clock.Clock,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if cfg.ProfileTTL <= 0 {
		cfg.ProfileTTL = cache.ProfileTTL
	}
	if cfg.PostsTTL <= 0 {
		cfg.PostsTTL = cache.PostsTTL
	}
	if cfg.MockPostsTTL <= 0 {
		cfg.MockPostsTTL = cache.MockPostsTTL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		live:     live,
		mock:     mock,
		mode:     mode,
		limiter:  limiter,
		profiles: cache.New[*model.Profile](cfg.ProfileTTL, clk),
		posts:    cache.New[*model.PostsPage](cfg.PostsTTL, clk),
		cfg:      cfg,
		metrics:  collector,
		clock:    clk,
		logger:   logger,
	}
}

// OnPostsFetched はキャッシュを経由せず投稿の取得に成功した際に呼ばれる関数を登録する。
// 監視アカウントの最終取得時刻の更新に使用する。
// 実モードで上流が失敗しモックデータで代替した場合は呼ばれない。
func (s *Service) OnPostsFetched(fn func(ctx context.Context, handle string)) {
	s.onPostsFetched = fn
}

// GetProfile はハンドル名のプロフィールを返す。存在しない場合は (nil, nil) を返す。
// 実モードで上流が未検出以外のエラーを返した場合はモックデータにフォールバックする。
func (s *Service) GetProfile(ctx context.Context, rawHandle string) (*model.Profile, error) {
	handle, err := model.NormalizeHandle(rawHandle)
	if err != nil {
		return nil, err
	}
	prof, err := s.profile(ctx, handle)
	if err != nil || prof == nil {
		return nil, err
	}
	return prof.Clone(), nil
}

// GetPosts はハンドル名の最近の投稿を返す。
// Limit は1から25の範囲で指定する。範囲外の場合は INVALID_LIMIT を返す。
// プロフィールが存在しない場合は USER_NOT_FOUND を返す。
func (s *Service) GetPosts(ctx context.Context, rawHandle string, opts PostsOptions) (*model.PostsPage, error) {
	handle, err := model.NormalizeHandle(rawHandle)
	if err != nil {
		return nil, err
	}
	if opts.Limit < model.MinPostLimit || opts.Limit > model.MaxPostLimit {
		return nil, model.NewInvalidLimitError(opts.Limit)
	}

	key := postsCacheKey(handle, opts)
	if entry, ok := s.posts.GetEntry(key); ok {
		s.metrics.RecordCacheHit("posts")
		page := entry.Value.Clone()
		page.Cached = true
		expires := entry.ExpiresAt
		page.CacheExpiresAt = &expires
		return page, nil
	}
	s.metrics.RecordCacheMiss("posts")

	prof, err := s.profile(ctx, handle)
	if err != nil {
		return nil, err
	}
	if prof == nil {
		return nil, model.NewUserNotFoundError(handle)
	}

	v, err := s.shared(ctx, key, func(fctx context.Context) (any, error) {
		return s.loadPosts(fctx, key, *prof, opts)
	})
	if err != nil {
		return nil, err
	}

	res := v.(postsResult)
	if s.onPostsFetched != nil && !res.fallback {
		s.onPostsFetched(ctx, handle)
	}
	return res.page.Clone(), nil
}

// GetPostsForHandles は複数ハンドルの投稿を並行して取得する。
// 1件の失敗が他の取得を中断することはなく、結果は入力順に全件返す。
func (s *Service) GetPostsForHandles(ctx context.Context, handles []string, limit int) ([]HandlePosts, error) {
	if len(handles) == 0 {
		return nil, model.NewInvalidRequestError("ハンドル名が指定されていません")
	}
	if len(handles) > MaxBatchHandles {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("ハンドル名は%d件までです", MaxBatchHandles))
	}
	if limit < model.MinPostLimit || limit > model.MaxPostLimit {
		return nil, model.NewInvalidLimitError(limit)
	}

	results := make([]HandlePosts, len(handles))
	g := new(errgroup.Group)
	g.SetLimit(batchConcurrency)
	for i, h := range handles {
		g.Go(func() error {
			page, err := s.GetPosts(ctx, h, PostsOptions{Limit: limit})
			results[i] = HandlePosts{Handle: h, Page: page, Err: err}
			if err != nil {
				s.logger.Warn("複数ハンドル取得の一部が失敗しました",
					slog.String("handle", h),
					slog.String("code", model.ErrorCode(err)),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

// ServiceInfo はデータアクセス層の状態を返す。副作用はない。
func (s *Service) ServiceInfo() model.ServiceInfo {
	return model.ServiceInfo{
		MockEnabled:   s.mode.MockEnabled(),
		HasCredential: s.mode.HasCredential(),
		CacheSize:     s.profiles.Size() + s.posts.Size(),
		RateLimit:     s.limiter.Status(upstream.LimiterKey),
		Timestamp:     s.clock.Now(),
	}
}

// ClearCache はキャッシュを全て破棄し、破棄したエントリ数を返す。
func (s *Service) ClearCache() int {
	n := s.profiles.Size() + s.posts.Size()
	s.profiles.Clear()
	s.posts.Clear()
	s.logger.Info("キャッシュをクリアしました", slog.Int("entries", n))
	return n
}

// PurgeExpired は失効済みのキャッシュエントリを削除し、削除件数を返す。
func (s *Service) PurgeExpired() int {
	return s.profiles.Purge() + s.posts.Purge()
}

// profile はキャッシュ、データソースの順にプロフィールを解決する。handle は正規化済みであること。
func (s *Service) profile(ctx context.Context, handle string) (*model.Profile, error) {
	key := profileCacheKey(handle)
	if prof, ok := s.profiles.Get(key); ok {
		s.metrics.RecordCacheHit("profile")
		return prof, nil
	}
	s.metrics.RecordCacheMiss("profile")

	v, err := s.shared(ctx, key, func(fctx context.Context) (any, error) {
		return s.loadProfile(fctx, key, handle)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Profile), nil
}

// shared は同一キーの取得を1回にまとめて実行する。
// 取得は呼び出し元のキャンセルを引き継がず FetchTimeout を上限に完走し、
// 各呼び出し元は自身のコンテキストが終了した時点で待機をやめる。
func (s *Service) shared(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	ch := s.flight.DoChan(flightKey(ctx, key), func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FetchTimeout)
		defer cancel()
		return fn(fctx)
	})
	select {
	case r := <-ch:
		return r.Val, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// postsResult は共有取得の結果。fallback はモックデータで代替したことを示す。
type postsResult struct {
	page     *model.PostsPage
	fallback bool
}

func (s *Service) loadProfile(ctx context.Context, key, handle string) (*model.Profile, error) {
	var prof *model.Profile
	var err error

	if s.mode.MockEnabled() {
		prof, err = s.mock.FetchProfileByHandle(ctx, handle)
	} else {
		prof, err = s.live.FetchProfileByHandle(ctx, handle)
		if err != nil {
			if model.IsCode(err, model.ErrCodeUserNotFound) {
				return nil, nil
			}
			if !FallbackAllowed(ctx) {
				return nil, err
			}
			s.logFallback("profile", handle, err)
			prof, err = s.mock.FetchProfileByHandle(ctx, handle)
		}
	}
	if err != nil {
		s.logger.Warn("プロフィールの取得に失敗しました",
			slog.String("handle", handle),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.profiles.Set(key, prof, s.cfg.ProfileTTL)
	return prof, nil
}

func (s *Service) loadPosts(ctx context.Context, key string, prof model.Profile, opts PostsOptions) (postsResult, error) {
	query := model.PostsQuery{MaxResults: opts.Limit, SinceID: opts.SinceID}
	ttl := s.cfg.PostsTTL

	var tl *model.Timeline
	var err error
	fallback := false
	if s.mode.MockEnabled() {
		tl, err = s.mock.FetchPosts(ctx, prof, query)
		ttl = s.cfg.MockPostsTTL
	} else {
		tl, err = s.live.FetchPosts(ctx, prof, query)
		if err != nil && !model.IsCode(err, model.ErrCodeUserNotFound) && FallbackAllowed(ctx) {
			s.logFallback("posts", prof.Handle, err)
			tl, err = s.mock.FetchPosts(ctx, prof, query)
			ttl = s.cfg.MockPostsTTL
			fallback = true
		}
	}
	if err != nil {
		s.logger.Warn("投稿の取得に失敗しました",
			slog.String("handle", prof.Handle),
			slog.String("cache_key", key),
			slog.String("error", err.Error()),
		)
		return postsResult{}, err
	}

	page := &model.PostsPage{
		Posts:   tl.Posts,
		Profile: prof,
		Meta:    model.NewPostsMeta(tl.Posts, tl.NextToken),
	}
	s.posts.Set(key, page, ttl)
	return postsResult{page: page, fallback: fallback}, nil
}

func (s *Service) logFallback(kind, handle string, cause error) {
	code := model.ErrorCode(cause)
	if code == "" {
		code = model.ErrCodeInternal
	}
	s.metrics.RecordFallback(kind, code)
	s.logger.Warn("上流APIの呼び出しに失敗したためモックデータにフォールバックします",
		slog.String("kind", kind),
		slog.String("handle", handle),
		slog.String("code", code),
		slog.String("error", cause.Error()),
	)
}

func profileCacheKey(handle string) string {
	return "profile:" + model.HandleKey(handle)
}

func postsCacheKey(handle string, opts PostsOptions) string {
	since := opts.SinceID
	if since == "" {
		since = "latest"
	}
	return fmt.Sprintf("posts:%s:%d:%s", model.HandleKey(handle), opts.Limit, since)
}

// flightKey はフォールバック可否の異なる呼び出しが結果を共有しないよう、キーを区別する。
func flightKey(ctx context.Context, cacheKey string) string {
	if FallbackAllowed(ctx) {
		return cacheKey
	}
	return cacheKey + "|strict"
}
