package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/todoman/internal/metrics"
	"github.com/hitoshi/todoman/internal/middleware"
)

// SetupAuthRoutes は認証不要の認証フロー関連ルーティングを設定したchi.Routerを返す。
func SetupAuthRoutes(service AuthServiceInterface, config AuthHandlerConfig) http.Handler {
	r := chi.NewRouter()
	mountPublicAuthRoutes(r, NewAuthHandler(service, config))
	return r
}

func mountPublicAuthRoutes(r chi.Router, h *AuthHandler) {
	// OIDCフロー
	r.Get("/auth/login", h.Login)
	r.Get("/auth/callback", h.Callback)
	r.Get("/auth/error", h.AuthError)
	r.Post("/auth/error", h.AuthError)

	// セッション管理
	r.Get("/auth/logout", h.Logout)
	r.Post("/auth/logout", h.Logout)
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 運用
	HealthChecker   HealthChecker
	MetricsGatherer prometheus.Gatherer
	HTTPMetrics     middleware.HTTPMetricsRecorder
	Logger          *slog.Logger

	// ミドルウェア依存
	IdentityResolver  middleware.IdentityResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// タスク
	TodoService TodoServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → CorrelationID → Logging → Metrics → SecurityHeaders → CORS
//	  → (認証必須グループ) Identity → RateLimit(General) → CSRF
//
// POST /todos にはタスク作成専用のレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpMetrics := deps.HTTPMetrics
	if httpMetrics == nil {
		httpMetrics = metrics.Nop{}
	}
	gatherer := deps.MetricsGatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewCorrelationIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(httpMetrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	csrfConfig := middleware.CSRFConfig{
		CookieSecure: deps.AuthConfig.CookieSecure,
		CookieDomain: deps.AuthConfig.CookieDomain,
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	todoHandler := NewTodoHandler(deps.TodoService)

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	r.Handle("/metrics", metrics.Handler(gatherer))
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(csrfConfig).ServeHTTP)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Identity → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewIdentityMiddleware(deps.IdentityResolver))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(csrfConfig))

		r.Get("/auth/me", authHandler.Me)
		r.Post("/auth/sync-user", authHandler.SyncUser)

		r.Route("/todos", func(r chi.Router) {
			r.Get("/", todoHandler.ListTodos)
			// POST /todos - タスク作成（作成専用レート制限を追加）
			r.With(deps.RateLimiter.TodoCreationMiddleware()).Post("/", todoHandler.CreateTodo)

			r.Patch("/{id}", todoHandler.UpdateTodo)
			r.Delete("/{id}", todoHandler.DeleteTodo)
		})

		r.Get("/dashboard/stats", todoHandler.DashboardStats)
	})

	// 認証フロー（/auth/me, /auth/sync-user 以外）
	mountPublicAuthRoutes(r, authHandler)

	return r
}
