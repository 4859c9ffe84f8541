package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// StatusObserver はレスポンスのステータスコードを受け取る。
// metrics.MetricsCollectorが実装する。
type StatusObserver interface {
	RecordHTTPStatus(statusCode int)
}

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader はステータスコードを記録してから委譲する。
func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write はデータを書き込む。WriteHeaderが未呼び出しの場合は200を記録する。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// Unwrap はhttp.ResponseControllerが元のResponseWriterに到達できるようにする。
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// requestLog は内側のミドルウェアが判明させた値をログ出力時まで保持する。
type requestLog struct {
	userID string
}

var requestLogContextKey = contextKey("request_log")

// setLoggedUserID は認証済みユーザーIDをアクセスログに載せる。
func setLoggedUserID(ctx context.Context, userID string) {
	if rl, ok := ctx.Value(requestLogContextKey).(*requestLog); ok {
		rl.userID = userID
	}
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、user_id（認証済みの場合）を含む。
// observerがnilでなければステータスコードを通知する。
func NewLoggingMiddleware(logger *slog.Logger, observer StatusObserver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			entry := &requestLog{}
			ctx := context.WithValue(r.Context(), requestLogContextKey, entry)

			next.ServeHTTP(rec, r.WithContext(ctx))

			durationMs := float64(time.Since(start).Nanoseconds()) / float64(time.Millisecond)

			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", durationMs),
			}
			if entry.userID != "" {
				args = append(args, slog.String("user_id", entry.userID))
			}

			level := slog.LevelInfo
			if rec.statusCode >= 500 {
				level = slog.LevelError
			} else if rec.statusCode >= 400 {
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "http_request", args...)

			if observer != nil {
				observer.RecordHTTPStatus(rec.statusCode)
			}
		})
	}
}
