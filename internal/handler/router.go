package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/accounts/internal/metrics"
	"github.com/hitoshi/accounts/internal/middleware"
	"github.com/hitoshi/accounts/internal/model"
)

// RouterDeps は両サービスのルーターに共通する依存関係をまとめた構造体。
type RouterDeps struct {
	Logger            *slog.Logger
	CORSAllowedOrigin string
	TrustProxy        bool
	RateLimiter       *middleware.RateLimiter
	Metrics           middleware.HTTPRecorder
	Gatherer          prometheus.Gatherer
	HealthChecker     HealthChecker
}

// newBaseRouter は共通のミドルウェアチェーンと運用エンドポイントを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP(TrustProxy時のみ) → Recovery → Logging → Metrics → SecurityHeaders → CORS
//
// /health と /metrics はレート制限の外に配置する。
func newBaseRouter(deps *RouterDeps) chi.Router {
	r := chi.NewRouter()

	if deps.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewRecoveryMiddleware())

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r.Use(middleware.NewLoggingMiddleware(logger))

	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteAPIError(w, model.NewNotFoundError("Endpoint"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteAPIError(w, &model.APIError{
			Code:    "METHOD_NOT_ALLOWED",
			Message: "Method not allowed",
			Status:  http.StatusMethodNotAllowed,
		})
	})

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	return r
}

// NewAuthRouter は認証サービスのルーティングを構成したchi.Routerを返す。
// パスワードリセット系のルートにはIP単位の厳しいレート制限を追加する。
func NewAuthRouter(deps *RouterDeps, service AccountServiceInterface) http.Handler {
	r := newBaseRouter(deps)
	h := NewAuthHandler(service)

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", h.Signup)
			r.Post("/login", h.Login)
			r.Get("/verify-email", h.VerifyEmail)

			r.Route("/forgot-password", func(r chi.Router) {
				r.Use(deps.RateLimiter.SensitiveMiddleware())

				r.Post("/request", h.RequestPasswordReset)
				r.Post("/verify", h.VerifyOtp)
				r.Post("/reset", h.ResetPassword)
			})
		})
	})

	return r
}

// NewUserRouter はプロフィールサービスのルーティングを構成したchi.Routerを返す。
// すべての /user ルートでBearerトークンを要求する。
func NewUserRouter(deps *RouterDeps, service ProfileServiceInterface, tokens middleware.TokenParser) http.Handler {
	r := newBaseRouter(deps)
	h := NewUserHandler(service)

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewBearerMiddleware(tokens))

		r.Route("/user", func(r chi.Router) {
			r.Get("/profile", h.GetProfile)
			r.Put("/update-profile", h.UpdateProfile)
		})
	})

	return r
}

// NewOpsRouter は /health と /metrics のみを公開するルーターを返す。
// HTTP APIを持たないワーカープロセスのプローブ用。
func NewOpsRouter(deps *RouterDeps) http.Handler {
	return newBaseRouter(deps)
}
