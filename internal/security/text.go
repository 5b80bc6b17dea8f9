package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextNormalizer は上流から受け取った投稿本文や表示名をプレーンテキストに正規化する。
// タグは全て除去し、実体参照は文字に戻す。
type TextNormalizer struct {
	policy *bluemonday.Policy
}

// NewTextNormalizer はTextNormalizerを生成する。
func NewTextNormalizer() *TextNormalizer {
	return &TextNormalizer{policy: bluemonday.StrictPolicy()}
}

// PlainText はタグを除去したテキストを返す。前後の空白は取り除く。
// 同一入力に対して常に同一出力を返す。
func (n *TextNormalizer) PlainText(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(n.policy.Sanitize(raw)))
}
