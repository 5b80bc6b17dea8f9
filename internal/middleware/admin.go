package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/socialwatch/internal/model"
)

// NewAdminMiddleware はプロセス全体に作用する管理操作を admins のプリンシパルに限定するミドルウェアを返す。
// プリンシパルミドルウェアの後段に置くこと。admins が空の場合は全てのリクエストを拒否する。
func NewAdminMiddleware(admins []string, logger *slog.Logger) func(next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(admins))
	for _, a := range admins {
		allowed[a] = struct{}{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := PrincipalFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError())
				return
			}
			if _, ok := allowed[principal]; !ok {
				logger.Warn("管理操作を拒否しました",
					slog.String("principal", principal),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
