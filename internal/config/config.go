// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Session / Token
	SessionSecret string // APIトークン(JWT)の署名鍵を兼ねる
	SessionMaxAge int
	TokenTTL      time.Duration

	// Media
	MediaRoot     string
	MediaMaxBytes int64

	// Pagination
	PageSize       int
	APIMaxPageSize int

	// Rate Limit（req/min/user）
	RateLimitGeneral int
	RateLimitUpload  int

	// Worker
	CleanupInterval time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// 外部の認証フローへのリダイレクト先
	LoginURL          string
	TwoFactorSetupURL string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 24*time.Hour)
	cfg.MediaRoot = getEnvString("MEDIA_ROOT", "./media")
	cfg.MediaMaxBytes = getEnvInt64("MEDIA_MAX_BYTES", 52428800)
	cfg.PageSize = getEnvInt("PAGE_SIZE", 10)
	cfg.APIMaxPageSize = getEnvInt("API_MAX_PAGE_SIZE", 100)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitUpload = getEnvInt("RATE_LIMIT_UPLOAD", 10)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "") // 空の場合はCORSヘッダーを付与しない
	cfg.LoginURL = getEnvString("LOGIN_URL", "/accounts/login/")
	cfg.TwoFactorSetupURL = getEnvString("TWO_FACTOR_SETUP_URL", "/coach/setup-2fa/")

	// 0以下の値は意味を持たないためデフォルトに戻す
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if cfg.APIMaxPageSize < cfg.PageSize {
		cfg.APIMaxPageSize = cfg.PageSize
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
