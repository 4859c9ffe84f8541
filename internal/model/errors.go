// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, session, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidationFailed       = "VALIDATION_FAILED"
	ErrCodeInvalidRequest         = "INVALID_REQUEST"
	ErrCodeInvalidFilter          = "INVALID_FILTER"
	ErrCodeInvalidBulkFields      = "INVALID_BULK_FIELDS"
	ErrCodeInvalidBulkAction      = "INVALID_BULK_ACTION"
	ErrCodeNoAudioFile            = "NO_AUDIO_FILE"
	ErrCodeInvalidAudioFile       = "INVALID_AUDIO_FILE"
	ErrCodeSessionNotFound        = "SESSION_NOT_FOUND"
	ErrCodeNoValidSessions        = "NO_VALID_SESSIONS"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeTwoFactorSetupRequired = "TWO_FACTOR_SETUP_REQUIRED"
	ErrCodeUserNotFound           = "USER_NOT_FOUND"
)

// NewValidationError はフィールド値の検証エラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("%s: %s", field, reason),
		Category: "validation",
		Action:   "入力値を確認してください。",
	}
}

// NewInvalidRequestError はリクエスト形式の不備によるエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  reason,
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewInvalidFilterError は無効な絞り込み条件のエラーを生成する。
func NewInvalidFilterError(filter string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFilter,
		Message:  fmt.Sprintf("無効な絞り込み条件です: %s", filter),
		Category: "validation",
		Action:   "status は pending、analyzed、archived のいずれか、日付は YYYY-MM-DD 形式で指定してください。",
	}
}

// NewInvalidBulkFieldsError は一括更新で許可されていないフィールドが指定された場合のエラーを生成する。
func NewInvalidBulkFieldsError(fields []string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidBulkFields,
		Message:  fmt.Sprintf("Invalid fields for bulk update: [%s]", strings.Join(fields, ", ")),
		Category: "validation",
		Action:   "一括更新できるのは status、pacing_analysis、filler_count、confidence_score のみです。",
	}
}

// NewInvalidBulkActionError は未定義の一括操作が指定された場合のエラーを生成する。
func NewInvalidBulkActionError(action string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidBulkAction,
		Message:  fmt.Sprintf("Invalid action: %s", action),
		Category: "validation",
		Action:   "action には delete、archive、mark_analyzed のいずれかを指定してください。",
	}
}

// NewNoAudioFileError は音声ファイルがないセッションを再解析しようとした場合のエラーを生成する。
func NewNoAudioFileError() *APIError {
	return &APIError{
		Code:     ErrCodeNoAudioFile,
		Message:  "No audio file available for analysis",
		Category: "session",
		Action:   "音声ファイルを添付したセッションのみ再解析できます。",
	}
}

// NewInvalidAudioFileError は音声ファイルの形式やサイズが不正な場合のエラーを生成する。
func NewInvalidAudioFileError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAudioFile,
		Message:  fmt.Sprintf("無効な音声ファイルです: %s", reason),
		Category: "validation",
		Action:   "MP3、WAV、M4A、OGG、FLAC 形式の音声ファイルをアップロードしてください。",
	}
}

// NewSessionNotFoundError はセッション未検出エラーを生成する。
// 他ユーザーのセッションも同じエラーとし、存在の有無を区別しない。
func NewSessionNotFoundError(sessionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  fmt.Sprintf("指定されたセッションが見つかりません: %s", sessionID),
		Category: "session",
		Action:   "セッションIDを確認してください。",
	}
}

// NewNoValidSessionsError は一括操作の対象が1件も見つからない場合のエラーを生成する。
func NewNoValidSessionsError() *APIError {
	return &APIError{
		Code:     ErrCodeNoValidSessions,
		Message:  "No valid sessions found",
		Category: "session",
		Action:   "セッションIDを確認してください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewTwoFactorSetupRequiredError は二要素認証のセットアップが未完了の場合のエラーを生成する。
func NewTwoFactorSetupRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeTwoFactorSetupRequired,
		Message:  "Please complete 2FA setup to access speech sessions.",
		Category: "auth",
		Action:   "二要素認証のセットアップを完了してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}
