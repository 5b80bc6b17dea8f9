// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/socialwatch/internal/model"
)

// PrincipalHeader はトークン未設定時にプリンシパルを指定するヘッダー。
const PrincipalHeader = "X-Principal-ID"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストにプリンシパルIDを格納するためのキー。
var principalContextKey = contextKey("principal_id")

// NewPrincipalMiddleware はリクエストのプリンシパルを特定し、コンテキストに注入するミドルウェアを返す。
// tokens（トークン→プリンシパルID）が設定されている場合は Authorization: Bearer のトークンで認証する。
// 未設定の場合は X-Principal-ID ヘッダーの値をそのままプリンシパルとして扱う。
// プリンシパルを特定できないリクエストには401を返す。
func NewPrincipalMiddleware(tokens map[string]string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var principal string
			if len(tokens) > 0 {
				principal = lookupToken(tokens, bearerToken(r))
			} else {
				principal = strings.TrimSpace(r.Header.Get(PrincipalHeader))
			}
			if principal == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError())
				return
			}

			notePrincipal(r.Context(), principal)
			ctx := ContextWithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFromContext はリクエストコンテキストからプリンシパルIDを取得する。
// プリンシパルミドルウェアを通過したリクエストでのみ有効。
func PrincipalFromContext(ctx context.Context) (string, error) {
	principal, ok := ctx.Value(principalContextKey).(string)
	if !ok || principal == "" {
		return "", fmt.Errorf("principal not found in context")
	}
	return principal, nil
}

// ContextWithPrincipal はコンテキストにプリンシパルIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

// lookupToken はトークンに対応するプリンシパルを返す。比較は定数時間で行う。
func lookupToken(tokens map[string]string, token string) string {
	if token == "" {
		return ""
	}
	principal := ""
	for t, p := range tokens {
		if subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			principal = p
		}
	}
	return principal
}
