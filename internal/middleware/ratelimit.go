package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/speechcoach/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API・画面全般のレート（req/sec）
	GeneralBurst    int           // 全般のバーストサイズ
	UploadRate      rate.Limit    // 音声アップロードを伴う作成のレート（req/sec）
	UploadBurst     int           // アップロードのバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// PerMinute は1分あたりのリクエスト数からレートとバーストを求める。
// 0以下の場合は1 req/minとする。
func PerMinute(n int) (rate.Limit, int) {
	if n <= 0 {
		n = 1
	}
	return rate.Limit(float64(n) / 60.0), n
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 全般 120 req/min/user、アップロード 10 req/min/user。
func DefaultRateLimiterConfig() RateLimiterConfig {
	generalRate, generalBurst := PerMinute(120)
	uploadRate, uploadBurst := PerMinute(10)
	return RateLimiterConfig{
		GeneralRate:     generalRate,
		GeneralBurst:    generalBurst,
		UploadRate:      uploadRate,
		UploadBurst:     uploadBurst,
		CleanupInterval: 5 * time.Minute,
	}
}

// limiterEntry はユーザーごとのレートリミッターと最終アクセス時刻を保持する。
type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet は1種類のレート制限についてユーザーごとのリミッターを管理する。
type limiterSet struct {
	name  string
	limit rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

func newLimiterSet(name string, limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{name: name, limit: limit, burst: burst, entries: make(map[string]*limiterEntry)}
}

// get はユーザーのリミッターを取得し、なければ作成する。
func (s *limiterSet) get(userID string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[userID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.entries[userID] = e
	}
	e.lastAccess = now
	return e.limiter
}

// sweep は最終アクセスからttl以上経過したエントリを削除する。
func (s *limiterSet) sweep(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for userID, e := range s.entries {
		if now.Sub(e.lastAccess) > ttl {
			delete(s.entries, userID)
		}
	}
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RateLimiter はユーザーごとのレート制限を管理する。
// 全般とアップロードの2種類を独立に提供する。
type RateLimiter struct {
	config  RateLimiterConfig
	general *limiterSet
	upload  *limiterSet
	stopCh  chan struct{}
	once    sync.Once
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:  config,
		general: newLimiterSet("general", config.GeneralRate, config.GeneralBurst),
		upload:  newLimiterSet("upload", config.UploadRate, config.UploadBurst),
		stopCh:  make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware は全般のレート制限ミドルウェアを返す。
// 認証ミドルウェアの後に配置する。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general)
}

// UploadMiddleware はセッション作成（音声アップロード）用のレート制限ミドルウェアを返す。
// 全般のレート制限とは独立に動作する。
func (rl *RateLimiter) UploadMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.upload)
}

func (rl *RateLimiter) middleware(set *limiterSet) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if !set.get(userID, time.Now()).Allow() {
				slog.Warn("rate limit exceeded",
					slog.String("user_id", userID),
					slog.String("limit_type", set.name),
				)
				writeRateLimitResponse(w, set.limit)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は管理中の全般リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.len()
}

// UploadLimiterCount は管理中のアップロードリミッターのエントリ数を返す。
func (rl *RateLimiter) UploadLimiterCount() int {
	return rl.upload.len()
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2
	rl.general.sweep(now, ttl)
	rl.upload.sweep(now, ttl)
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーには1トークンが補充されるまでの秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, limit rate.Limit) {
	retryAfterSec := 1
	if limit > 0 {
		retryAfterSec = max(1, int(math.Ceil(1.0/float64(limit))))
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, &model.APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Retry-After に示された秒数待ってから再度お試しください。",
	})
}
