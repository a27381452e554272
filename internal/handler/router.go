package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/vocabstore/internal/metrics"
	"github.com/hitoshi/vocabstore/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger // nilの場合はslog.Default()
	SessionValidator  middleware.SessionValidator
	CORSAllowedOrigin string
	HSTS              bool
	RateLimiter       *middleware.RateLimiter

	// メトリクス（MetricsHandlerがnilの場合 /metrics は公開しない）
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler

	// ヘルスチェック
	HealthChecker HealthChecker

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// カタログ
	CatalogService CatalogServiceInterface

	// 購入
	OrderService OrderServiceInterface

	// ダウンロード
	Gate         RetrievalAuthorizer
	AssetFetcher AssetFetcher
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Metrics → Recovery → SecurityHeaders → CORS
//
// ルートごとに Session → RateLimit(General) または RateLimit(Auth) を追加する。
// Webhookは署名で認証するためセッションとレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	catalogHandler := NewCatalogHandler(deps.CatalogService)
	orderHandler := NewOrderHandler(deps.OrderService)
	downloadHandler := NewDownloadHandler(deps.Gate, deps.AssetFetcher, collector)

	sessionMiddleware := middleware.NewSessionMiddleware(deps.SessionValidator)

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		// 決済プロバイダーからの通知（署名検証）
		r.Post("/orders/webhook", orderHandler.Webhook)

		// --- 認証系（IP単位の厳しいレート制限） ---
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())

			r.Post("/auth/register", authHandler.Register)
			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/forgot-password", authHandler.ForgotPassword)
			r.Post("/auth/reset-password", authHandler.ResetPassword)
		})

		// --- 認証不要のルート ---
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/auth/google", authHandler.GoogleLogin)
			r.Get("/auth/google/callback", authHandler.GoogleCallback)
			r.Post("/auth/logout", authHandler.Logout)

			r.Get("/pdfs", catalogHandler.ListItems)
			r.Get("/pdfs/languages/list", catalogHandler.ListLanguages)
			r.Get("/pdfs/{id}", catalogHandler.GetItem)
		})

		// --- 認証が必要なルート ---
		// ミドルウェアスタック: Session → RateLimit(General)
		r.Group(func(r chi.Router) {
			r.Use(sessionMiddleware)
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/auth/me", authHandler.Me)

			r.Post("/orders/create-checkout-session", orderHandler.CreateCheckoutSession)
			r.Post("/orders/verify-payment", orderHandler.VerifyPayment)
			r.Get("/orders/my-orders", orderHandler.ListMyOrders)

			r.Get("/download/{id}", downloadHandler.Download)

			// カタログ管理（管理者のみ）
			r.Group(func(r chi.Router) {
				r.Use(middleware.NewAdminMiddleware())
				r.Post("/pdfs", catalogHandler.CreateItem)
				r.Put("/pdfs/{id}", catalogHandler.UpdateItem)
				r.Delete("/pdfs/{id}", catalogHandler.DeleteItem)
			})
		})
	})

	return r
}
