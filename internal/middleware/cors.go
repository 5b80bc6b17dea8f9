package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// corsMethods はプリフライトで照合するメソッド。
var corsMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}

// corsAllowHeaders はブラウザから送信を許可するリクエストヘッダー。
var corsAllowHeaders = strings.Join([]string{"Content-Type", "Authorization", PrincipalHeader}, ", ")

// NewCORSMiddleware は allowedOrigin からのブラウザアクセスを許可するミドルウェアを返す。
// Authorization を伴うため Access-Control-Allow-Origin にワイルドカードは使わない。
// chi のルーター配下では、プリフライトの Access-Control-Allow-Methods をそのパスに登録されたメソッドに絞る。
// OPTIONS には後段を呼ばずに204で応答する。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowedOrigin)
			h.Set("Access-Control-Allow-Methods", allowedMethods(r))
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// allowedMethods はリクエストパスで受け付けるメソッドを列挙する。
// ルーティング情報がない場合は全メソッドを返す。
func allowedMethods(r *http.Request) string {
	methods := corsMethods
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.Routes != nil {
		methods = nil
		for _, m := range corsMethods {
			if rctx.Routes.Match(chi.NewRouteContext(), m, r.URL.Path) {
				methods = append(methods, m)
			}
		}
	}
	if len(methods) == 0 {
		return http.MethodOptions
	}
	return strings.Join(methods, ", ") + ", " + http.MethodOptions
}
