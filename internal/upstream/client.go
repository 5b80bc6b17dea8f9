// Package upstream は外部SNS（X API v2）の呼び出しを提供する。
// 呼び出しごとにレート制限を確認し、HTTPステータスを型付きエラーに変換する。
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hitoshi/socialwatch/internal/clock"
	"github.com/hitoshi/socialwatch/internal/metrics"
	"github.com/hitoshi/socialwatch/internal/model"
	"github.com/hitoshi/socialwatch/internal/ratelimit"
	"github.com/hitoshi/socialwatch/internal/security"
)

const (
	// DefaultBaseURL はX API v2のルート。
	DefaultBaseURL = "https://api.twitter.com/2"
	// LimiterKey はレートリミッター上で上流API呼び出しを数えるキー。
	LimiterKey = "upstream"

	// 上流が受け付ける max_results の範囲
	minMaxResults = 5
	maxMaxResults = 100

	// maxResponseSize はレスポンスボディの読み取り上限。
	maxResponseSize = 2 << 20

	userFields  = "id,name,username,profile_image_url,verified,public_metrics"
	tweetFields = "id,text,author_id,created_at,public_metrics,referenced_tweets,entities"

	endpointUserByUsername = "user_by_username"
	endpointUserTweets     = "user_tweets"
)

// TokenSource は上流APIのベアラートークンを提供する。
type TokenSource interface {
	Token() string
}

// Config は上流クライアントの設定。
type Config struct {
	BaseURL string
	// Timeout は呼び出し1回あたりの上限。0以下の場合はHTTPクライアントの設定に従う。
	Timeout time.Duration
}

// Client はX API v2のクライアント。
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	baseURL     string
	timeout     time.Duration
	limiter     *ratelimit.Limiter
	credentials TokenSource
	metrics     metrics.MetricsCollector
	clock       clock.Clock
	text        *security.TextNormalizer
	guard       *security.URLGuard
}

// NewClient はClientの新しいインスタンスを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewClient(
	httpClient *http.Client,
	cfg Config,
	limiter *ratelimit.Limiter,
	credentials TokenSource,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Client{
		httpClient:  httpClient,
		logger:      logger,
		baseURL:     cfg.BaseURL,
		timeout:     cfg.Timeout,
		limiter:     limiter,
		credentials: credentials,
		metrics:     collector,
		clock:       clock.Real{},
		text:        security.NewTextNormalizer(),
		guard:       security.NewURLGuard(),
	}
}

// FetchProfileByHandle はハンドル名からプロフィールを取得する。
// 存在しない場合は USER_NOT_FOUND のAPIErrorを返す。
func (c *Client) FetchProfileByHandle(ctx context.Context, handle string) (*model.Profile, error) {
	q := url.Values{}
	q.Set("user.fields", userFields)

	var resp userResponse
	path := "/users/by/username/" + url.PathEscape(handle)
	if err := c.get(ctx, endpointUserByUsername, path, q, handle, &resp); err != nil {
		return nil, err
	}

	// 200でも data が無く errors のみの場合は未検出として扱う
	if resp.Data == nil {
		if len(resp.Errors) > 0 {
			c.logger.Info("上流APIがユーザー未検出を返しました",
				slog.String("handle", handle),
				slog.String("detail", resp.Errors[0].Detail),
			)
			return nil, model.NewUserNotFoundError(handle)
		}
		return nil, model.NewUpstreamError(http.StatusOK, "ユーザー情報が空です")
	}

	profile := c.normalizeProfile(*resp.Data)
	return &profile, nil
}

// FetchPosts は投稿者の最近の投稿を新しい順に取得する。
// 上流の includes に投稿者が含まれない投稿は author を投稿者として補完する。
func (c *Client) FetchPosts(ctx context.Context, author model.Profile, query model.PostsQuery) (*model.Timeline, error) {
	q := url.Values{}
	q.Set("tweet.fields", tweetFields)
	q.Set("user.fields", userFields)
	q.Set("expansions", "author_id")
	q.Set("max_results", strconv.Itoa(clampMaxResults(query.MaxResults)))
	if query.SinceID != "" {
		q.Set("since_id", query.SinceID)
	}

	var resp tweetsResponse
	path := "/users/" + url.PathEscape(author.ID) + "/tweets"
	if err := c.get(ctx, endpointUserTweets, path, q, author.Handle, &resp); err != nil {
		return nil, err
	}

	users := make(map[string]model.Profile, len(resp.Includes.Users))
	for _, u := range resp.Includes.Users {
		users[u.ID] = c.normalizeProfile(u)
	}

	posts := make([]model.Post, 0, len(resp.Data))
	missingAuthors := 0
	for _, tw := range resp.Data {
		post := model.Post{
			ID:         tw.ID,
			AuthorID:   tw.AuthorID,
			Text:       c.text.PlainText(tw.Text),
			CreatedAt:  tw.CreatedAt,
			Metrics:    tw.PublicMetrics,
			References: tw.ReferencedTweets,
			Entities:   tw.Entities,
		}
		if post.AuthorID == "" {
			post.AuthorID = author.ID
		}
		if u, ok := users[post.AuthorID]; ok {
			post.Author = u
		} else {
			missingAuthors++
			post.Author = *author.Clone()
		}
		posts = append(posts, post)
	}
	if missingAuthors > 0 {
		c.logger.Warn("includes.users に投稿者が含まれないため問い合わせ対象のプロフィールで補完しました",
			slog.String("handle", author.Handle),
			slog.Int("posts_count", missingAuthors),
		)
	}

	model.SortNewestFirst(posts)
	if query.MaxResults > 0 && len(posts) > query.MaxResults {
		posts = posts[:query.MaxResults]
	}

	return &model.Timeline{Posts: posts, NextToken: resp.Meta.NextToken}, nil
}

// get はレート制限を確認した上でGETリクエストを実行し、レスポンスをoutにデコードする。
// handle は404時のエラーメッセージに使用する。
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, handle string, out any) error {
	token := c.credentials.Token()
	if token == "" {
		return model.NewUpstreamAuthFailedError("ベアラートークンが設定されていません")
	}

	if !c.limiter.Allow(LimiterKey) {
		c.metrics.RecordRateLimited("local")
		c.logger.Warn("ローカルのレート制限により上流APIの呼び出しを拒否しました",
			slog.String("endpoint", endpoint),
			slog.String("handle", handle),
		)
		return model.NewRateLimitExceededError("ローカルのクォータを使い切りました")
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	reqURL := c.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", "SocialWatch/1.0")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordUpstreamCall(endpoint, 0, time.Since(start))
		c.logger.Error("上流APIの呼び出しに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("handle", handle),
			slog.String("error", err.Error()),
		)
		return model.NewUpstreamError(0, "通信に失敗しました")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	duration := time.Since(start)
	c.metrics.RecordUpstreamCall(endpoint, resp.StatusCode, duration)
	if err != nil {
		c.logger.Error("レスポンスボディの読み取りに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return model.NewUpstreamError(resp.StatusCode, "レスポンスの読み取りに失敗しました")
	}

	if apiErr := c.statusError(resp, body, handle); apiErr != nil {
		c.logger.Warn("上流APIがエラーステータスを返しました",
			slog.String("endpoint", endpoint),
			slog.String("handle", handle),
			slog.Int("http_status", resp.StatusCode),
			slog.Int64("duration_ms", duration.Milliseconds()),
		)
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		c.logger.Error("上流APIのレスポンスのパースに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return model.NewUpstreamError(resp.StatusCode, "レスポンスの解析に失敗しました")
	}
	return nil
}

// statusError は2xx以外のレスポンスを型付きエラーに変換する。2xxの場合はnilを返す。
func (c *Client) statusError(resp *http.Response, body []byte, handle string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return model.NewUpstreamAuthFailedError("ベアラートークンが拒否されました")
	case resp.StatusCode == http.StatusNotFound:
		return model.NewUserNotFoundError(handle)
	case resp.StatusCode == http.StatusTooManyRequests:
		c.metrics.RecordRateLimited("upstream")
		// 以降の呼び出しをリセット時刻までローカルで即時拒否させる
		c.limiter.Saturate(LimiterKey, c.resetTime(resp.Header))
		return model.NewRateLimitExceededError("上流APIのレート制限に達しました")
	default:
		return model.NewUpstreamError(resp.StatusCode, problemTitle(body, resp.StatusCode))
	}
}

// resetTime は x-rate-limit-reset ヘッダ（エポック秒）からリセット時刻を求める。
// ヘッダが無いか不正な場合は現在時刻から1ウィンドウ後とする。
func (c *Client) resetTime(h http.Header) time.Time {
	if v := h.Get("x-rate-limit-reset"); v != "" {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(sec, 0)
		}
	}
	return c.clock.Now().Add(c.limiter.Config().Window)
}

// normalizeProfile は上流のユーザー情報を表示用に整える。
func (c *Client) normalizeProfile(p model.Profile) model.Profile {
	p.DisplayName = c.text.PlainText(p.DisplayName)
	if p.DisplayName == "" {
		p.DisplayName = p.Handle
	}
	p.AvatarURL = c.guard.SafeAvatarURL(p.AvatarURL)
	return p
}

// clampMaxResults は取得件数を上流が受け付ける範囲に収める。
func clampMaxResults(n int) int {
	return min(max(n, minMaxResults), maxMaxResults)
}

// problemTitle はエラーレスポンスから概要を取り出す。取り出せない場合はステータステキストを返す。
func problemTitle(body []byte, status int) string {
	var p problem
	if err := json.Unmarshal(body, &p); err == nil {
		if p.Title != "" {
			return p.Title
		}
		if len(p.Errors) > 0 && p.Errors[0].Message != "" {
			return p.Errors[0].Message
		}
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "unknown error"
}
