package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken はAPIトークンの検証に失敗した場合に返す。
var ErrInvalidToken = errors.New("invalid api token")

const tokenIssuer = "speechcoach"

// Claims はAPIトークンのペイロード。ユーザーIDはsubjectに格納する。
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer はHS256署名のAPIトークンを発行・検証する。
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。ttlが0以下の場合は24時間とする。
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue はユーザーのAPIトークンを発行し、トークン文字列と有効期限を返す。
// ttlが0以下の場合は既定の有効期間を使う。
func (i *TokenIssuer) Issue(userID, email string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = i.ttl
	}
	now := i.now()
	expiresAt := now.Add(ttl)

	claims := &Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse はトークンを検証し、ユーザーIDを返す。
// 署名アルゴリズムはHS256のみ受け付ける。
func (i *TokenIssuer) Parse(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
