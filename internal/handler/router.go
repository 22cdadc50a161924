package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/umarket/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger   *slog.Logger
	Renderer *Renderer

	// ミドルウェア依存
	BrowserSession middleware.BrowserSessionConfig
	CSRF           middleware.CSRFConfig
	RateLimiter    *middleware.RateLimiter
	StatusRecorder middleware.StatusRecorder

	// 認証
	Auth AuthHandlerConfig

	// リスティング・注文
	Listings ListingServiceInterface
	Orders   OrderServiceInterface
	Searcher SearcherInterface

	// プロフィール
	Profiles       ProfileFactory
	PublicProfiles PublicProfileLoader

	// 運用
	Health  HealthChecker
	Metrics http.Handler
}

// NewRouter は全ページのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → BrowserSession → CSRF → RateLimit(Mutation)
//
// /health・/metrics・/static/* はブラウザセッションの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger, deps.Renderer.Error))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))

	// --- セッション不要のルート ---
	r.Get("/health", NewHealthHandler(deps.Health))
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(StaticFS()))))

	listingHandler := NewListingHandler(deps.Listings, deps.Searcher, deps.Renderer, logger)
	orderHandler := NewOrderHandler(deps.Orders, listingHandler, deps.Renderer, logger)
	dashboardHandler := NewDashboardHandler(deps.Listings, deps.Profiles, deps.Renderer, logger)
	authHandler := NewAuthHandler(deps.Auth, deps.Renderer, logger)
	userHandler := NewUserHandler(deps.PublicProfiles, deps.Renderer)
	gate := middleware.NewGate(deps.Listings, deps.Renderer.Error, logger)

	// --- ページ ---
	// ミドルウェアスタック: BrowserSession → CSRF → RateLimit(Mutation)
	r.Group(func(r chi.Router) {
		bs := deps.BrowserSession
		if bs.Logger == nil {
			bs.Logger = logger
		}
		r.Use(middleware.NewBrowserSessionMiddleware(bs))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.MutationMiddleware())
		}

		// 誰でも閲覧できるページ
		r.Get("/", listingHandler.Home)
		r.Get("/search", listingHandler.Search)
		r.Get("/items/{id}", listingHandler.Detail)
		r.Get("/users/{id}", userHandler.PublicProfile)

		// サインイン
		r.Get("/login", authHandler.LoginPage)
		r.Route("/auth", func(r chi.Router) {
			r.Get("/google/login", authHandler.GoogleLogin)
			r.Get("/callback", authHandler.Callback)
			r.Post("/google/onetap", authHandler.OneTap)
			r.Post("/logout", authHandler.Logout)
		})

		// サインインが必要なページ
		r.Group(func(r chi.Router) {
			r.Use(gate.RequireAuthenticated)

			r.Get("/items/new", listingHandler.NewForm)
			r.Post("/items/new", listingHandler.Create)
			r.Post("/items/{id}/orders", orderHandler.Purchase)

			r.Route("/dashboard", func(r chi.Router) {
				r.Get("/listings", dashboardHandler.Listings)
				r.Get("/orders", orderHandler.Orders)
				r.Get("/profile", dashboardHandler.Profile)
				r.Post("/profile", dashboardHandler.SaveDescription)
				r.Post("/profile/avatar", dashboardHandler.UploadAvatar)
			})
		})

		// 出品者本人のみのページ
		r.Group(func(r chi.Router) {
			r.Use(gate.RequireOwner)

			r.Get("/items/{id}/edit", listingHandler.EditForm)
			r.Post("/items/{id}/edit", listingHandler.Update)
			r.Get("/items/{id}/delete", listingHandler.DeleteConfirm)
			r.Post("/items/{id}/delete", listingHandler.Delete)
			r.Post("/items/{id}/sold", listingHandler.ToggleSold)
		})
	})

	return r
}
