package middleware

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
)

const (
	// csrfCookieName はCSRFトークンを保持するCookieの名前。
	// JavaScriptとフォームの両方から参照できるよう、HttpOnlyではない。
	csrfCookieName = "csrf_token"

	// csrfHeaderName はJSONリクエストでトークンを送るヘッダー名。
	csrfHeaderName = "X-CSRF-Token"

	// csrfFormField はフォーム送信でトークンを送るフィールド名。
	csrfFormField = "csrf_token"

	csrfCookieMaxAge = 86400
)

// CSRFConfig はCSRFミドルウェアの設定。
type CSRFConfig struct {
	CookieSecure bool
	CookieDomain string
}

// NewCSRFMiddleware はダブルサブミットCookie方式のCSRF対策ミドルウェアを返す。
// 安全なメソッドは検証せずにトークンCookieを発行する。
// 状態変更メソッドはCookieのトークンとヘッダー（またはフォームフィールド）の一致を必須とする。
// Bearerトークンで認証するリクエストはCookieを使わないため検証しない。
func NewCSRFMiddleware(config CSRFConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, ensureCSRFCookie(w, r, config))
				return
			}

			if _, ok := bearerToken(r); ok {
				next.ServeHTTP(w, r)
				return
			}

			cookie, err := r.Cookie(csrfCookieName)
			if err != nil || cookie.Value == "" {
				rejectCSRF(w, r, "missing cookie token")
				return
			}

			submitted := r.Header.Get(csrfHeaderName)
			if submitted == "" {
				submitted = r.PostFormValue(csrfFormField)
			}
			if submitted == "" {
				rejectCSRF(w, r, "missing submitted token")
				return
			}

			if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(submitted)) != 1 {
				rejectCSRF(w, r, "token mismatch")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func rejectCSRF(w http.ResponseWriter, r *http.Request, reason string) {
	slog.Warn("CSRF validation failed",
		slog.String("reason", reason),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
	WriteForbidden(w, "CSRF token validation failed")
}

// NewCSRFTokenHandler はCSRFトークン取得エンドポイントのハンドラーを返す。
// GET /api/csrf-token
// 既存のCSRFトークンCookieがある場合はそれを返し、なければ新規生成する。
func NewCSRFTokenHandler(config CSRFConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := CSRFToken(r)
		if token == "" {
			var err error
			token, err = generateCSRFToken()
			if err != nil {
				slog.Error("failed to generate CSRF token", slog.String("error", err.Error()))
				WriteInternalServerError(w)
				return
			}
			setCSRFCookie(w, token, config)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"token": token,
		})
	})
}

// CSRFToken はリクエストのCSRFトークンを返す。画面のフォームに埋め込むために使う。
// 同じリクエストでNewCSRFMiddlewareが発行したトークンも返す。
func CSRFToken(r *http.Request) string {
	if cookie, err := r.Cookie(csrfCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if token, ok := r.Context().Value(csrfContextKey).(string); ok {
		return token
	}
	return ""
}

var csrfContextKey = contextKey("csrf_token")

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// ensureCSRFCookie はCSRFトークンCookieが未設定の場合に発行し、
// 同じリクエスト内で参照できるようコンテキストに格納したリクエストを返す。
func ensureCSRFCookie(w http.ResponseWriter, r *http.Request, config CSRFConfig) *http.Request {
	if _, err := r.Cookie(csrfCookieName); err == nil {
		return r
	}

	token, err := generateCSRFToken()
	if err != nil {
		slog.Error("failed to generate CSRF token", slog.String("error", err.Error()))
		return r
	}
	setCSRFCookie(w, token, config)
	return r.WithContext(context.WithValue(r.Context(), csrfContextKey, token))
}

func setCSRFCookie(w http.ResponseWriter, token string, config CSRFConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   csrfCookieMaxAge,
		HttpOnly: false,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// generateCSRFToken は暗号的に安全なCSRFトークンを生成する。
func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
