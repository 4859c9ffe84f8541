package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthCheckTimeout はDB疎通確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// HealthChecker はヘルスチェックで疎通を確認する依存先。*sql.DB が満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	checker HealthChecker
}

// NewHealthHandler はHealthHandlerを生成する。checkerがnilの場合はプロセスの生存のみを返す。
func NewHealthHandler(checker HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// ServeHTTP はDBへの疎通を確認し、結果を返す。
// GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.checker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := h.checker.PingContext(ctx); err != nil {
			slog.Warn("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
