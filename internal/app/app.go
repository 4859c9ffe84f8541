package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/speechcoach/internal/analysis"
	"github.com/hitoshi/speechcoach/internal/analytics"
	"github.com/hitoshi/speechcoach/internal/auth"
	"github.com/hitoshi/speechcoach/internal/config"
	"github.com/hitoshi/speechcoach/internal/database"
	"github.com/hitoshi/speechcoach/internal/handler"
	"github.com/hitoshi/speechcoach/internal/logger"
	"github.com/hitoshi/speechcoach/internal/media"
	"github.com/hitoshi/speechcoach/internal/metrics"
	"github.com/hitoshi/speechcoach/internal/middleware"
	"github.com/hitoshi/speechcoach/internal/repository"
	"github.com/hitoshi/speechcoach/internal/security"
	"github.com/hitoshi/speechcoach/internal/speech"
	"github.com/hitoshi/speechcoach/internal/worker/cleanup"
)

// multipartOverhead はアップロード上限に加えて許容するフォームフィールド分のボディサイズ。
const multipartOverhead = 1 << 20

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, cfg.LogLevel)
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := NewRootCommand(w)
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

// components はDB接続から組み立てたリポジトリとサービスの集合。
type components struct {
	db            *sql.DB
	users         *repository.PostgresUserRepo
	loginSessions *repository.PostgresLoginSessionRepo
	sessions      *repository.PostgresSpeechSessionRepo

	registry *prometheus.Registry
	metrics  *metrics.Collector

	auth      *auth.Service
	speech    *speech.Service
	analytics *analytics.Service
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newComponents は全依存関係をワイヤリングする。
func newComponents(cfg *config.Config, db *sql.DB) *components {
	// 1. リポジトリの初期化
	c := &components{
		db:            db,
		users:         repository.NewPostgresUserRepo(db),
		loginSessions: repository.NewPostgresLoginSessionRepo(db),
		sessions:      repository.NewPostgresSpeechSessionRepo(db),
	}

	// 2. メトリクス
	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.metrics = metrics.NewCollector(c.registry)

	// 3. ドメインサービスの初期化
	tokens := auth.NewTokenIssuer(cfg.SessionSecret, cfg.TokenTTL)
	c.auth = auth.NewService(c.users, c.loginSessions, tokens)

	c.speech = speech.NewService(
		c.sessions,
		analysis.NewSimulator(),
		media.NewStore(cfg.MediaRoot, cfg.MediaMaxBytes),
		security.NewTextSanitizer(),
		c.metrics,
	)
	c.analytics = analytics.NewService(c.sessions, c.metrics)

	return c
}

// withComponents はDBに接続して依存関係を組み立て、fnの終了後に接続を閉じる。
func withComponents(cfg *config.Config, fn func(c *components) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(newComponents(cfg, db))
}

// newRouterDeps はHTTPルーターの依存関係を組み立てる。
func newRouterDeps(cfg *config.Config, c *components, rl *middleware.RateLimiter) *handler.RouterDeps {
	return &handler.RouterDeps{
		Logger:         slog.Default(),
		StatusObserver: c.metrics,
		MetricsHandler: metrics.Handler(c.registry),
		HealthChecker:  c.db,

		Authenticator:     c.auth,
		UserFinder:        c.auth,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:  rl,
		MaxBodyBytes: cfg.MediaMaxBytes + multipartOverhead,

		LoginURL:          cfg.LoginURL,
		TwoFactorSetupURL: cfg.TwoFactorSetupURL,

		SessionService:   c.speech,
		AnalyticsService: c.analytics,
		SessionConfig: handler.SessionHandlerConfig{
			BaseURL:     cfg.BaseURL,
			PageSize:    cfg.PageSize,
			MaxPageSize: cfg.APIMaxPageSize,
		},
		PageConfig: handler.PageHandlerConfig{
			PageSize:     cfg.PageSize,
			CookieSecure: cfg.CookieSecure,
		},
	}
}

// newRateLimiter は設定のreq/min値からレートリミッターを生成する。
func newRateLimiter(cfg *config.Config) *middleware.RateLimiter {
	rlCfg := middleware.DefaultRateLimiterConfig()
	rlCfg.GeneralRate, rlCfg.GeneralBurst = middleware.PerMinute(cfg.RateLimitGeneral)
	rlCfg.UploadRate, rlCfg.UploadBurst = middleware.PerMinute(cfg.RateLimitUpload)
	return middleware.NewRateLimiter(rlCfg)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting application",
		slog.String("command", "serve"),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	c := newComponents(cfg, db)
	rl := newRateLimiter(cfg)
	defer rl.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(newRouterDeps(cfg, c, rl)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れログインセッションのクリーンアップを起動直後と一定間隔で実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	job := cleanup.NewCleanupJob(repository.NewPostgresLoginSessionRepo(db), slog.Default())

	slog.Info("worker starting", slog.Duration("cleanup_interval", cfg.CleanupInterval))
	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(url string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
