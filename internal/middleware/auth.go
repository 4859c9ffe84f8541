// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/speechcoach/internal/model"
)

const (
	sessionCookieName = "session_id"
	bearerPrefix      = "Bearer "
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// Authenticator はリクエストの認証情報からユーザーIDを解決する。
// auth.Serviceが実装する。
type Authenticator interface {
	UserIDFromSession(ctx context.Context, sessionID string) (string, error)
	UserIDFromToken(token string) (string, error)
}

var errNoCredentials = errors.New("no credentials")

// NewAuthMiddleware は Authorization: Bearer ヘッダーまたは session_id Cookie から
// ユーザーを認証するミドルウェアを返す。Bearerヘッダーがある場合はCookieより優先する。
// 認証できないリクエストはdenyに委譲する。
func NewAuthMiddleware(authn Authenticator, deny http.Handler) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := authenticate(r, authn)
			if err != nil {
				if !errors.Is(err, errNoCredentials) {
					slog.Debug("authentication failed",
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)
				}
				deny.ServeHTTP(w, r)
				return
			}

			setLoggedUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
		})
	}
}

func authenticate(r *http.Request, authn Authenticator) (string, error) {
	if token, ok := bearerToken(r); ok {
		return authn.UserIDFromToken(token)
	}

	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", errNoCredentials
	}
	return authn.UserIDFromSession(r.Context(), cookie.Value)
}

// bearerToken はAuthorizationヘッダーのBearerトークンを返す。
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix))
	return token, token != ""
}

// APIUnauthorized は401と統一エラーフォーマットを返すハンドラー。
func APIUnauthorized() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="speechcoach"`)
		WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
	})
}

// RedirectToLogin はログイン画面へリダイレクトするハンドラー。
// 元のパスは next クエリパラメータで引き継ぐ。
func RedirectToLogin(loginURL string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := loginURL + "?" + url.Values{"next": {r.URL.RequestURI()}}.Encode()
		http.Redirect(w, r, target, http.StatusFound)
	})
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
