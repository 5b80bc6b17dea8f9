package upstream

import (
	"time"

	"github.com/hitoshi/socialwatch/internal/model"
)

// X API v2 のレスポンス形式。
// ユーザー・投稿メトリクス・参照・エンティティはモデルのJSONタグが上流の形式と一致するため、そのままデコードする。

type userResponse struct {
	Data   *model.Profile `json:"data"`
	Errors []apiError     `json:"errors"`
}

type tweetsResponse struct {
	Data     []tweet `json:"data"`
	Includes struct {
		Users []model.Profile `json:"users"`
	} `json:"includes"`
	Meta   tweetsMeta `json:"meta"`
	Errors []apiError `json:"errors"`
}

type tweet struct {
	ID               string              `json:"id"`
	Text             string              `json:"text"`
	AuthorID         string              `json:"author_id"`
	CreatedAt        time.Time           `json:"created_at"`
	PublicMetrics    model.PostMetrics   `json:"public_metrics"`
	ReferencedTweets []model.Reference   `json:"referenced_tweets"`
	Entities         *model.PostEntities `json:"entities"`
}

type tweetsMeta struct {
	ResultCount int    `json:"result_count"`
	NewestID    string `json:"newest_id"`
	OldestID    string `json:"oldest_id"`
	NextToken   string `json:"next_token"`
}

type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
	Value  string `json:"value"`
}

// problem はエラーステータス時のレスポンス。
// v2のproblem形式（title/detail）とv1.1形式（errors[].message）のどちらも受け付ける。
type problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Errors []struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"errors"`
}
