package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/speechcoach/internal/middleware"
	"github.com/hitoshi/speechcoach/internal/model"
)

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidationFailed,
		model.ErrCodeInvalidRequest,
		model.ErrCodeInvalidFilter,
		model.ErrCodeInvalidBulkFields,
		model.ErrCodeInvalidBulkAction,
		model.ErrCodeNoAudioFile,
		model.ErrCodeInvalidAudioFile:
		return http.StatusBadRequest
	case model.ErrCodeSessionNotFound, model.ErrCodeNoValidSessions:
		return http.StatusNotFound
	case model.ErrCodeUnauthorized, model.ErrCodeUserNotFound:
		return http.StatusUnauthorized
	case model.ErrCodeTwoFactorSetupRequired:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// requireUserID はコンテキストから認証済みユーザーIDを取り出す。
// 取り出せない場合は401を書き込んでfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}
