package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/speechcoach/internal/model"
)

// UserFinder は二要素認証の設定状況を確認するためにユーザーを取得する。
type UserFinder interface {
	GetUser(ctx context.Context, userID string) (*model.User, error)
}

// NewTwoFactorGuard は二要素認証を有効にしたがセットアップが完了していないユーザーを
// denyに委譲するミドルウェアを返す。認証ミドルウェアの後に配置する。
func NewTwoFactorGuard(users UserFinder, deny http.Handler) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			user, err := users.GetUser(r.Context(), userID)
			if err != nil {
				var apiErr *model.APIError
				if errors.As(err, &apiErr) {
					WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
					return
				}
				slog.Error("failed to load user for 2FA check",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			if user.NeedsTwoFactorSetup() {
				deny.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// APITwoFactorRequired は403とTWO_FACTOR_SETUP_REQUIREDを返すハンドラー。
func APITwoFactorRequired() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteErrorResponse(w, http.StatusForbidden, model.NewTwoFactorSetupRequiredError())
	})
}

// RedirectTo は指定URLへリダイレクトするハンドラー。
func RedirectTo(target string) http.Handler {
	return http.RedirectHandler(target, http.StatusFound)
}
