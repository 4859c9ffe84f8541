package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/speechcoach/internal/model"
)

// ErrCodeInternal は内部エラーのエラーコード。
const ErrCodeInternal = "INTERNAL_ERROR"

// ErrCodeRateLimitExceeded はレート制限超過のエラーコード。
const ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// WriteForbidden はCSRF検証失敗などの403レスポンスを書き込む。
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, http.StatusForbidden, &model.APIError{
		Code:     "FORBIDDEN",
		Message:  message,
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	})
}
