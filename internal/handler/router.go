package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/smarbl/internal/metrics"
	"github.com/hitoshi/smarbl/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 共通
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler
	HealthChecker     HealthChecker
	CORSAllowedOrigin string

	// 認証
	Authenticator middleware.Authenticator
	AuthService   AuthServiceInterface

	// ドメイン
	UserService UserServiceInterface
	PostService PostServiceInterface
	Importer    ImporterInterface
	LikeService LikeServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Metrics → Recovery → SecurityHeaders → CORS → (/api/v1) Authenticator
//
// Authenticatorは/api/v1の全ルートでベアラートークンを検証し、
// 認証必須のルートはさらにRequireAuthenticationで保護する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}

	r := chi.NewRouter()
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.Get("/health", NewHealthHandler(deps.HealthChecker).ServeHTTP)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(deps.AuthService)
	userHandler := NewUserHandler(deps.UserService)
	postHandler := NewPostHandler(deps.PostService, deps.Importer)
	likeHandler := NewLikeHandler(deps.LikeService)
	requireAuth := middleware.RequireAuthentication()

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.NewAuthenticatorMiddleware(deps.Authenticator, collector))

		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.With(requireAuth).Get("/me", authHandler.Me)

		r.Route("/users", func(r chi.Router) {
			r.Get("/", userHandler.List)
			r.Get("/{userID}", userHandler.Get)
			r.With(requireAuth).Put("/{userID}", userHandler.Update)
			r.With(requireAuth).Delete("/{userID}", userHandler.Delete)
		})

		r.Route("/post", func(r chi.Router) {
			r.With(requireAuth).Post("/", postHandler.Create)
			r.With(requireAuth).Post("/import", postHandler.Import)
			r.Get("/user/{userID}", postHandler.ListByUser)
			r.Get("/{postID}", postHandler.Get)
			r.With(requireAuth).Delete("/{postID}", postHandler.Delete)
		})

		r.Route("/like", func(r chi.Router) {
			r.With(requireAuth).Post("/", likeHandler.Like)
			r.Get("/count", likeHandler.Count)
			r.Get("/users/{postID}", likeHandler.Likers)
		})
	})

	return r
}
