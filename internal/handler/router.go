package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/speechcoach/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger         *slog.Logger
	StatusObserver middleware.StatusObserver
	MetricsHandler http.Handler
	HealthChecker  HealthChecker

	// ミドルウェア依存
	Authenticator     middleware.Authenticator
	UserFinder        middleware.UserFinder
	CORSAllowedOrigin string
	CSRF              middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	MaxBodyBytes      int64

	// 画面の認証失敗時のリダイレクト先
	LoginURL          string
	TwoFactorSetupURL string

	// スピーチセッション
	SessionService   SessionServiceInterface
	AnalyticsService AnalyticsServiceInterface
	SessionConfig    SessionHandlerConfig
	PageConfig       PageHandlerConfig
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → BodyLimit → CSRF → Auth → TwoFactor → RateLimit(General)
//
// /health、/metrics、/api/csrf-token は認証不要。
// APIは401/403のJSONを返し、画面はログイン画面・2FAセットアップ画面へリダイレクトする。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusObserver))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.MaxBodyBytes > 0 {
		r.Use(middleware.NewBodyLimitMiddleware(deps.MaxBodyBytes))
	}

	sessionHandler := NewSessionHandler(deps.SessionService, deps.AnalyticsService, deps.SessionConfig)
	pageHandler := NewPageHandler(deps.SessionService, deps.AnalyticsService, deps.PageConfig)

	// --- 認証不要のルート ---
	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/sessions/", http.StatusFound)
	})

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		// REST API
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewAuthMiddleware(deps.Authenticator, middleware.APIUnauthorized()))
			r.Use(middleware.NewTwoFactorGuard(deps.UserFinder, middleware.APITwoFactorRequired()))
			useGeneralLimit(r, deps.RateLimiter)

			registerSessionAPIRoutes(r, sessionHandler, uploadLimit(deps.RateLimiter))
		})

		// 画面
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewAuthMiddleware(deps.Authenticator, middleware.RedirectToLogin(deps.LoginURL)))
			r.Use(middleware.NewTwoFactorGuard(deps.UserFinder, middleware.RedirectTo(deps.TwoFactorSetupURL)))
			useGeneralLimit(r, deps.RateLimiter)

			registerSessionPageRoutes(r, pageHandler, uploadLimit(deps.RateLimiter))
		})
	})

	return r
}

// registerSessionAPIRoutes はスピーチセッションREST APIのルートを登録する。
// uploadは作成エンドポイントにのみ適用する。
func registerSessionAPIRoutes(r chi.Router, h *SessionHandler, upload []func(http.Handler) http.Handler) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", h.ListSessions)
		r.With(upload...).Post("/", h.CreateSession)

		r.Get("/analytics/", h.Analytics)
		r.Get("/export/", h.Export)
		r.Post("/bulk_update/", h.BulkUpdate)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Put("/", h.ReplaceSession)
			r.Patch("/", h.PatchSession)
			r.Delete("/", h.DeleteSession)
			r.Post("/reanalyze/", h.Reanalyze)
			r.Get("/audio/", h.DownloadAudio)
		})
	})
}

// registerSessionPageRoutes は画面のルートを登録する。
func registerSessionPageRoutes(r chi.Router, h *PageHandler, upload []func(http.Handler) http.Handler) {
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.ListPage)
		r.Get("/create/", h.CreatePage)
		r.With(upload...).Post("/create/", h.CreatePage)
		r.Get("/analytics/", h.AnalyticsPage)
		r.Post("/bulk-action/", h.BulkAction)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.DetailPage)
			r.Get("/update/", h.UpdatePage)
			r.Post("/update/", h.UpdatePage)
			r.Get("/delete/", h.DeletePage)
			r.Post("/delete/", h.DeletePage)
		})
	})
}

func useGeneralLimit(r chi.Router, rl *middleware.RateLimiter) {
	if rl != nil {
		r.Use(rl.GeneralMiddleware())
	}
}

func uploadLimit(rl *middleware.RateLimiter) []func(http.Handler) http.Handler {
	if rl == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{rl.UploadMiddleware()}
}
