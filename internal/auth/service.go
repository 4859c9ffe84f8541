// Package auth はAPIトークンの発行とログインセッション・ユーザーの解決を提供する。
// ログイン画面や二要素認証デバイスの登録は外部のIdPが担う。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/speechcoach/internal/model"
	"github.com/hitoshi/speechcoach/internal/repository"
)

// ErrSessionNotFound はログインセッションが存在しないか期限切れの場合に返す。
var ErrSessionNotFound = errors.New("login session not found or expired")

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.LoginSessionRepository
	tokens      *TokenIssuer
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.LoginSessionRepository,
	tokens *TokenIssuer,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		tokens:      tokens,
	}
}

// UserIDFromSession はCookieのセッションIDからユーザーIDを解決する。
func (s *Service) UserIDFromSession(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrSessionNotFound
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to find login session: %w", err)
	}
	if session == nil {
		return "", ErrSessionNotFound
	}
	return session.UserID, nil
}

// UserIDFromToken はBearerトークンからユーザーIDを解決する。
func (s *Service) UserIDFromToken(token string) (string, error) {
	return s.tokens.Parse(token)
}

// GetUser は指定IDのユーザーを取得する。存在しない場合はUSER_NOT_FOUNDを返す。
func (s *Service) GetUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// CreateUser はユーザーを作成する。IdPを持たない環境での初期ユーザー登録に使う。
func (s *Service) CreateUser(ctx context.Context, email, name string, twoFactor bool) (*model.User, error) {
	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, model.NewValidationError("email", "有効なメールアドレスを指定してください")
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		return nil, model.NewValidationError("email", "既に登録されています")
	}

	now := time.Now()
	user := &model.User{
		ID:               uuid.New().String(),
		Email:            email,
		Name:             strings.TrimSpace(name),
		TwoFactorEnabled: twoFactor,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user created",
		slog.String("user_id", user.ID),
		slog.Bool("two_factor_enabled", twoFactor),
	)
	return user, nil
}

// IssueToken は既存ユーザーのAPIトークンを発行する。ttlが0以下の場合は既定値を使う。
func (s *Service) IssueToken(ctx context.Context, userID string, ttl time.Duration) (string, time.Time, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.tokens.Issue(user.ID, user.Email, ttl)
}
