package model

import (
	"sort"
	"time"
)

const (
	// MinPostLimit は1回の投稿取得の最小件数。
	MinPostLimit = 1
	// MaxPostLimit は1回の投稿取得の最大件数。
	MaxPostLimit = 25
	// DefaultPostLimit は件数省略時の既定値。
	DefaultPostLimit = 10
)

// Post は1件の投稿を表す。取得時点の投稿者Profileを値として保持する。
type Post struct {
	ID         string        `json:"id"`
	AuthorID   string        `json:"author_id"`
	Author     Profile       `json:"author"`
	Text       string        `json:"text"`
	CreatedAt  time.Time     `json:"created_at"`
	Metrics    PostMetrics   `json:"public_metrics"`
	References []Reference   `json:"referenced_tweets,omitempty"`
	Entities   *PostEntities `json:"entities,omitempty"`
}

// PostMetrics は投稿の公開メトリクスのスナップショット。
type PostMetrics struct {
	Reposts int `json:"retweet_count"`
	Likes   int `json:"like_count"`
	Replies int `json:"reply_count"`
	Quotes  int `json:"quote_count"`
}

// ReferenceKind は参照投稿の種別。
type ReferenceKind string

const (
	// ReferenceRepost はリポスト。
	ReferenceRepost ReferenceKind = "retweeted"
	// ReferenceQuote は引用。
	ReferenceQuote ReferenceKind = "quoted"
	// ReferenceReply は返信。
	ReferenceReply ReferenceKind = "replied_to"
)

// Reference は他の投稿への参照。
type Reference struct {
	Kind     ReferenceKind `json:"type"`
	TargetID string        `json:"id"`
}

// PostEntities は本文中のエンティティ（URL、タグ、メンション）。
// Start/End は本文へのオフセット。
type PostEntities struct {
	URLs     []URLEntity     `json:"urls,omitempty"`
	Tags     []TagEntity     `json:"hashtags,omitempty"`
	Mentions []MentionEntity `json:"mentions,omitempty"`
}

// URLEntity は本文中のURL。
type URLEntity struct {
	Start       int    `json:"start"`
	End         int    `json:"end"`
	URL         string `json:"url"`
	ExpandedURL string `json:"expanded_url,omitempty"`
	DisplayURL  string `json:"display_url,omitempty"`
}

// TagEntity は本文中のハッシュタグ。
type TagEntity struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Tag   string `json:"tag"`
}

// MentionEntity は本文中のメンション。
type MentionEntity struct {
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Username string `json:"username"`
	ID       string `json:"id,omitempty"`
}

// Clone はPostのディープコピーを返す。
func (p Post) Clone() Post {
	cp := p
	if a := p.Author.Clone(); a != nil {
		cp.Author = *a
	}
	if p.References != nil {
		cp.References = append([]Reference(nil), p.References...)
	}
	if p.Entities != nil {
		e := PostEntities{
			URLs:     append([]URLEntity(nil), p.Entities.URLs...),
			Tags:     append([]TagEntity(nil), p.Entities.Tags...),
			Mentions: append([]MentionEntity(nil), p.Entities.Mentions...),
		}
		cp.Entities = &e
	}
	return cp
}

// SortNewestFirst は投稿を作成日時の降順に並べる。
// 同時刻の場合はIDの降順（生成順）とする。
func SortNewestFirst(posts []Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		if !posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].CreatedAt.After(posts[j].CreatedAt)
		}
		return comparePostIDs(posts[i].ID, posts[j].ID) > 0
	})
}

// comparePostIDs は投稿IDを比較する。
// 上流のIDは桁数の異なる数値文字列のため、桁数を先に比較する。
func comparePostIDs(a, b string) int {
	if len(a) != len(b) {
		if len(a) > len(b) {
			return 1
		}
		return -1
	}
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	default:
		return 0
	}
}

// PostsMeta は投稿一覧のメタ情報。
type PostsMeta struct {
	Count     int    `json:"count"`
	NewestID  string `json:"newest_id,omitempty"`
	OldestID  string `json:"oldest_id,omitempty"`
	NextToken string `json:"next_token,omitempty"`
}

// NewPostsMeta は投稿一覧からメタ情報を構築する。
func NewPostsMeta(posts []Post, nextToken string) PostsMeta {
	meta := PostsMeta{Count: len(posts), NextToken: nextToken}
	if len(posts) > 0 {
		meta.NewestID = posts[0].ID
		meta.OldestID = posts[len(posts)-1].ID
	}
	return meta
}

// PostsPage は投稿取得の結果。
type PostsPage struct {
	Posts          []Post     `json:"tweets"`
	Profile        Profile    `json:"account"`
	Meta           PostsMeta  `json:"meta"`
	Cached         bool       `json:"cached"`
	CacheExpiresAt *time.Time `json:"cache_expires_at,omitempty"`
}

// Clone はPostsPageのディープコピーを返す。
func (p *PostsPage) Clone() *PostsPage {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Posts = make([]Post, len(p.Posts))
	for i, post := range p.Posts {
		cp.Posts[i] = post.Clone()
	}
	if prof := p.Profile.Clone(); prof != nil {
		cp.Profile = *prof
	}
	if p.CacheExpiresAt != nil {
		t := *p.CacheExpiresAt
		cp.CacheExpiresAt = &t
	}
	return &cp
}

// PostsQuery は投稿取得の条件。
type PostsQuery struct {
	MaxResults int
	SinceID    string
}

// Timeline はデータソースから取得した投稿列。新しい順に並ぶ。
type Timeline struct {
	Posts     []Post
	NextToken string
}
