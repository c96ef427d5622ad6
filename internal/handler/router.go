package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/skillport/internal/metrics"
	"github.com/hitoshi/skillport/internal/middleware"
	"github.com/hitoshi/skillport/internal/model"
)

// publicPages は公開ページのパスと記述子名。
var publicPages = map[string]string{
	"/":             "landing",
	"/login":        "login",
	"/signup":       "signup",
	"/about":        "about",
	"/contact":      "contact",
	"/unauthorized": "unauthorized",
	"/registration": "registration",
}

// HealthChecker はヘルスチェックで疎通を確認する依存。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	UserResolver      middleware.UserResolver
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 監視
	HealthChecker   HealthChecker
	Metrics         metrics.MetricsCollector
	MetricsGatherer prometheus.Gatherer

	// 認証
	AuthService     AuthServiceInterface
	AuthConfig      AuthHandlerConfig
	ProfileResolver ProfileResolver
	SessionSources  SessionSourceFactory

	// プロフィール
	ProfileService ProfileServiceInterface

	// 管理者向けユーザー管理
	UserService UserServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CORS → CSRF
//
// ページはルートガード配下、/api/* はセッションミドルウェア配下に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.Nop{}
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(mc))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

	guard := middleware.NewGuard(deps.UserResolver, mc)
	session := middleware.NewSessionMiddleware(deps.UserResolver)

	authHandler := NewAuthHandler(deps.AuthService, deps.ProfileResolver, deps.AuthConfig)
	streamHandler := NewStreamHandler(deps.SessionSources, deps.ProfileResolver, mc)
	profileHandler := NewProfileHandler(deps.ProfileService)
	userHandler := NewUserHandler(deps.UserService)

	// --- 監視 ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}
	r.Handle("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// --- 認証 ---
	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.LoginMiddleware())
			r.Post("/signup", authHandler.SignUp)
			r.Post("/login", authHandler.Login)
		})

		r.Post("/logout", authHandler.Logout)
		r.Post("/refresh", authHandler.Refresh)
		r.Get("/session", authHandler.Session)
		r.Get("/stream", streamHandler.Stream)

		r.Get("/google/login", authHandler.GoogleLogin)
		r.Get("/google/callback", authHandler.GoogleCallback)

		r.With(session).Get("/me", authHandler.Me)
	})

	// --- 認証が必要なAPI ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(session)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/profile", profileHandler.Get)
		r.Patch("/api/profile", profileHandler.Update)
	})

	// --- 管理者API ---
	r.Group(func(r chi.Router) {
		r.Use(guard.Require(model.RoleAdmin))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/admin/users", userHandler.List)
		r.Patch("/admin/users/{id}", userHandler.Update)
	})

	// --- ページ ---
	r.Group(func(r chi.Router) {
		r.Use(guard.Require())

		for path, name := range publicPages {
			r.Get(path, PublicPage(name))
		}
		r.Get("/registration/*", PublicPage("registration"))

		r.Get("/{role}/dashboard", RolePage)
		r.Get("/{role}/*", RolePage)
	})

	return r
}

// healthHandler はDBの疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
