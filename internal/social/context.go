package social

import "context"

type noFallbackKey struct{}

// WithoutFallback は実モードでの上流失敗時にモックデータへフォールバックせず、エラーを返すよう指定する。
// モックモードでは影響しない。
func WithoutFallback(ctx context.Context) context.Context {
	return context.WithValue(ctx, noFallbackKey{}, true)
}

// FallbackAllowed はコンテキストでモックデータへのフォールバックが許可されているかを返す。
func FallbackAllowed(ctx context.Context) bool {
	v, _ := ctx.Value(noFallbackKey{}).(bool)
	return !v
}
