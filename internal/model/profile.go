package model

import (
	"regexp"
	"strings"
)

// Profile は監視対象となる外部SNSアカウントを表す。
// キャッシュ期間中はイミュータブルとして扱い、層をまたぐ際は Clone で複製する。
type Profile struct {
	ID          string          `json:"id"`
	Handle      string          `json:"username"`
	DisplayName string          `json:"name"`
	AvatarURL   string          `json:"profile_image_url,omitempty"`
	Verified    bool            `json:"verified"`
	Metrics     *ProfileMetrics `json:"public_metrics,omitempty"`
}

// ProfileMetrics はプロフィールの公開メトリクスのスナップショット。
type ProfileMetrics struct {
	Followers int `json:"followers_count"`
	Following int `json:"following_count"`
	Posts     int `json:"tweet_count"`
}

// Clone はProfileのディープコピーを返す。
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Metrics != nil {
		m := *p.Metrics
		cp.Metrics = &m
	}
	return &cp
}

// handlePattern は上流SNSのハンドル名の書式。
var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)

// NormalizeHandle は入力されたハンドル名を正規化して検証する。
// 前後の空白と先頭の@を取り除く。大文字小文字は保持する。
func NormalizeHandle(raw string) (string, error) {
	h := strings.TrimSpace(raw)
	h = strings.TrimPrefix(h, "@")
	if h == "" {
		return "", NewInvalidUsernameError("ユーザー名が空です")
	}
	if !handlePattern.MatchString(h) {
		return "", NewInvalidUsernameError(h)
	}
	return h, nil
}

// HandleKey はハンドル名の比較用キー（小文字）を返す。
func HandleKey(handle string) string {
	return strings.ToLower(handle)
}
