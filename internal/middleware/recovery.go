package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// NewRecoveryMiddleware はハンドラー内のpanicを500レスポンスに変換する。
// 認証済みのリクエストであればユーザーIDもログに残す。
func NewRecoveryMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					attrs := []any{
						slog.Any("panic", rec),
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("stack", string(debug.Stack())),
					}
					if userID, err := UserIDFromContext(r.Context()); err == nil {
						attrs = append(attrs, slog.String("user_id", userID))
					}
					slog.Error("panic recovered", attrs...)
					WriteInternalServerError(w)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
