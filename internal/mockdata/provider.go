// Package mockdata は上流APIの代わりに使用する模擬データを生成する。
// 資格情報が未設定の場合の既定の動作モードであり、上流失敗時のフォールバック先でもある。
package mockdata

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/socialwatch/internal/clock"
	"github.com/hitoshi/socialwatch/internal/model"
)

const (
	// DefaultDelay はプロフィール取得の模擬レイテンシ。投稿取得はこの2倍。
	DefaultDelay = 100 * time.Millisecond
	// DefaultFailureRate は模擬エラーの発生確率。
	DefaultFailureRate = 0.03

	// knownFeedSize は既知ユーザーの投稿数。
	knownFeedSize = 15
	// syntheticFeedSize は合成ユーザーの投稿数。
	syntheticFeedSize = 10
	// postInterval は模擬投稿の間隔。
	postInterval = 2 * time.Hour

	// MaxFeeds は保持する模擬投稿一覧の上限。超えた場合は最も古い一覧を破棄する。
	MaxFeeds = 1000
	// FeedRetention は生成した模擬投稿一覧を保持する期間。Prune で削除される。
	FeedRetention = 6 * time.Hour
)

// Config はProviderの設定。
type Config struct {
	Delay       time.Duration
	FailureRate float64
}

// Provider は模擬プロフィールと投稿を提供する。
// 未知のハンドル名もエラーにせず、ハンドル名から決定的にプロフィールを合成する。
// 合成プロフィールは保持せず、投稿一覧は MaxFeeds 件と FeedRetention の範囲で保持する。
type Provider struct {
	mu    sync.Mutex
	feeds map[string]feedEntry

	delay       time.Duration
	failureRate float64
	roll        func() float64
	clock       clock.Clock
	logger      *slog.Logger
}

// NewProvider はProviderを生成する。clkがnilの場合はシステム時刻を使用する。
func NewProvider(cfg Config, clk clock.Clock, logger *slog.Logger) *Provider {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Provider{
		feeds:       make(map[string]feedEntry),
		delay:       cfg.Delay,
		failureRate: cfg.FailureRate,
		roll:        rand.Float64,
		clock:       clk,
		logger:      logger,
	}
}

type feedEntry struct {
	posts       []model.Post
	generatedAt time.Time
}

// FetchProfileByHandle はハンドル名のプロフィールを返す。未知のハンドル名は合成する。
// 低確率でレート制限超過の模擬エラーを返す。
func (p *Provider) FetchProfileByHandle(ctx context.Context, handle string) (*model.Profile, error) {
	if err := p.wait(ctx, p.delay); err != nil {
		return nil, err
	}
	if p.fail() {
		p.logger.Debug("模擬エラーを発生させました", slog.String("handle", handle), slog.String("kind", "profile"))
		return nil, model.NewRateLimitExceededError("模擬エラー")
	}

	key := model.HandleKey(handle)
	if key == "" {
		return nil, model.NewInvalidUsernameError("ユーザー名が空です")
	}

	prof, ok := knownByKey[key]
	if !ok {
		prof = synthesizeProfile(key)
	}
	return prof.Clone(), nil
}

// FetchPosts は投稿者の模擬投稿を新しい順に返す。
// SinceID が一覧に含まれる場合はそれより新しい投稿のみを返す。
// 低確率で上流エラーの模擬エラーを返す。
func (p *Provider) FetchPosts(ctx context.Context, author model.Profile, query model.PostsQuery) (*model.Timeline, error) {
	if err := p.wait(ctx, 2*p.delay); err != nil {
		return nil, err
	}
	if p.fail() {
		p.logger.Debug("模擬エラーを発生させました", slog.String("handle", author.Handle), slog.String("kind", "posts"))
		return nil, model.NewUpstreamError(503, "模擬エラー: サービスが一時的に利用できません")
	}

	key := model.HandleKey(author.Handle)

	p.mu.Lock()
	entry, ok := p.feeds[key]
	if !ok {
		size := syntheticFeedSize
		if _, known := knownByKey[key]; known {
			size = knownFeedSize
		}
		now := p.clock.Now()
		if len(p.feeds) >= MaxFeeds {
			p.evictOldestLocked()
		}
		entry = feedEntry{posts: generateFeed(author, size, now), generatedAt: now}
		p.feeds[key] = entry
	}
	p.mu.Unlock()
	feed := entry.posts

	if query.SinceID != "" {
		for i, post := range feed {
			if post.ID == query.SinceID {
				feed = feed[:i]
				break
			}
		}
	}

	limit := query.MaxResults
	if limit <= 0 {
		limit = model.DefaultPostLimit
	}
	limit = min(limit, model.MaxPostLimit, len(feed))

	posts := make([]model.Post, limit)
	for i := range posts {
		posts[i] = feed[i].Clone()
	}
	return &model.Timeline{Posts: posts}, nil
}

// Prune は FeedRetention を過ぎた模擬投稿一覧を削除し、削除件数を返す。
func (p *Provider) Prune() int {
	cutoff := p.clock.Now().Add(-FeedRetention)

	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for key, entry := range p.feeds {
		if entry.generatedAt.Before(cutoff) {
			delete(p.feeds, key)
			n++
		}
	}
	return n
}

// FeedCount は保持している模擬投稿一覧の件数を返す。
func (p *Provider) FeedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.feeds)
}

func (p *Provider) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range p.feeds {
		if oldestKey == "" || entry.generatedAt.Before(oldest) {
			oldestKey, oldest = key, entry.generatedAt
		}
	}
	delete(p.feeds, oldestKey)
}

// KnownProfiles は既知の模擬ユーザーを返す。
func KnownProfiles() []model.Profile {
	out := make([]model.Profile, len(knownProfiles))
	for i, prof := range knownProfiles {
		out[i] = *prof.Clone()
	}
	return out
}

// wait は模擬レイテンシ分待機する。コンテキストが終了した場合はその時点で戻る。
func (p *Provider) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("模擬データの取得が中断されました: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (p *Provider) fail() bool {
	return p.failureRate > 0 && p.roll() < p.failureRate
}

// seedFor はハンドル名から乱数シードを求める。
func seedFor(key string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return h.Sum64()
}

// synthesizeProfile はハンドル名（小文字）から決定的にプロフィールを合成する。
func synthesizeProfile(key string) model.Profile {
	seed := seedFor(key)
	rng := rand.New(rand.NewPCG(seed, 0x5eed))

	initial := strings.ToUpper(key[:1])
	return model.Profile{
		ID:          fmt.Sprintf("mock_%d", seed%1_000_000_000_000),
		Handle:      key,
		DisplayName: initial + key[1:],
		AvatarURL:   "https://via.placeholder.com/40x40/1da1f2/ffffff?text=" + initial,
		Verified:    rng.Float64() > 0.7,
		Metrics: &model.ProfileMetrics{
			Followers: rng.IntN(100000) + 1000,
			Following: rng.IntN(2000) + 100,
			Posts:     rng.IntN(10000) + 500,
		},
	}
}

var postTemplates = []string{
	"🚀 Exciting breakthrough in %s: New research shows promising results in quantum computing applications.",
	"Breaking: Major tech company announces $2B investment in sustainable technology. This could change everything! 🌱",
	"📊 Latest industry report reveals surprising trends in developer productivity. Thread 1/5",
	"Hot take: The future of web development lies in server-side rendering. Here's why... 🔥",
	"🔧 Just released: New open-source tool that automates CI/CD pipelines. Check it out!",
	"Market update: Tech stocks showing strong recovery after recent volatility. Key insights below 📈",
	"💡 Innovation spotlight: How machine learning is revolutionizing data analysis workflows",
	"Quick tip: Always validate your inputs, sanitize your outputs, and never trust user data. Security first! 🔒",
	"🎯 Productivity hack: Using automated testing saved our team 20+ hours this week. What's your favorite tool?",
	"Industry news: New privacy regulations coming into effect next quarter. Compliance checklist inside 📋",
}

var feedTags = []string{"tech", "innovation"}

// generateFeed は投稿者の模擬投稿を新しい順に size 件生成する。
// 最新の投稿を anchor とし、postInterval 間隔で遡る。
func generateFeed(author model.Profile, size int, anchor time.Time) []model.Post {
	key := model.HandleKey(author.Handle)
	rng := rand.New(rand.NewPCG(seedFor(key), 0xfeed))
	anchor = anchor.Truncate(time.Second)

	posts := make([]model.Post, size)
	for i := range posts {
		tmpl := postTemplates[i%len(postTemplates)]
		if strings.Contains(tmpl, "%s") {
			tmpl = fmt.Sprintf(tmpl, strings.ToLower(author.DisplayName))
		}
		text, entities := withTags(tmpl, feedTags)

		posts[i] = model.Post{
			ID:        fmt.Sprintf("%s_%d", author.ID, i+1),
			AuthorID:  author.ID,
			Author:    *author.Clone(),
			Text:      text,
			CreatedAt: anchor.Add(-time.Duration(i) * postInterval),
			Metrics: model.PostMetrics{
				Reposts: rng.IntN(100),
				Likes:   rng.IntN(500),
				Replies: rng.IntN(50),
				Quotes:  rng.IntN(25),
			},
			Entities: entities,
		}
	}
	return posts
}

// withTags は本文末尾にハッシュタグを付与し、文字単位のオフセット付きエンティティを返す。
func withTags(body string, tags []string) (string, *model.PostEntities) {
	var b strings.Builder
	b.WriteString(body)
	entities := &model.PostEntities{}
	for _, tag := range tags {
		b.WriteString(" ")
		start := utf8.RuneCountInString(b.String())
		b.WriteString("#" + tag)
		entities.Tags = append(entities.Tags, model.TagEntity{
			Start: start,
			End:   start + 1 + utf8.RuneCountInString(tag),
			Tag:   tag,
		})
	}
	return b.String(), entities
}
