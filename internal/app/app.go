package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/vocabstore/internal/asset"
	"github.com/hitoshi/vocabstore/internal/auth"
	"github.com/hitoshi/vocabstore/internal/catalog"
	"github.com/hitoshi/vocabstore/internal/config"
	"github.com/hitoshi/vocabstore/internal/database"
	"github.com/hitoshi/vocabstore/internal/entitlement"
	"github.com/hitoshi/vocabstore/internal/handler"
	"github.com/hitoshi/vocabstore/internal/logger"
	"github.com/hitoshi/vocabstore/internal/metrics"
	"github.com/hitoshi/vocabstore/internal/middleware"
	"github.com/hitoshi/vocabstore/internal/notify"
	"github.com/hitoshi/vocabstore/internal/payment"
	"github.com/hitoshi/vocabstore/internal/purchase"
	"github.com/hitoshi/vocabstore/internal/repository"
	"github.com/hitoshi/vocabstore/internal/security"
	"github.com/hitoshi/vocabstore/internal/worker/reconcile"
)

// dotenvFile はローカル開発用の環境変数ファイル。存在しない場合は無視する。
const dotenvFile = ".env"

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envがあれば読み込む（既存の環境変数は上書きしない）
	if err := godotenv.Load(dotenvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", dotenvFile, err)
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.Execute()
}

func execute(w io.Writer, cmd Command) error {
	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("env", cfg.AppEnv),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandReconcile:
		return runReconcile(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := database.Connect(connectCtx, cfg.DatabaseURL)
	cancelConnect()
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	itemRepo := repository.NewPostgresItemRepo(db)
	orderRepo := repository.NewPostgresOrderRepo(db)

	// 3. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 4. セキュリティサービスの初期化
	assetGuard := security.NewAssetURLGuard()
	sanitizer := security.NewDescriptionSanitizer()

	// 5. ドメインサービスの初期化
	tokens := auth.NewTokenManager(cfg.SessionSecret, cfg.SessionTTL())
	authService := auth.NewService(
		newOAuthProvider(cfg), userRepo, identRepo, tokens, newResetNotifier(cfg),
		auth.ServiceConfig{
			ResetTokenTTL: cfg.ResetTokenTTL,
			ClientURL:     cfg.ClientURL,
			Production:    cfg.IsProduction(),
		},
	)

	catalogService := catalog.NewService(itemRepo, sanitizer, assetGuard, cfg.CatalogCacheTTL)

	stripeClient := payment.NewStripeClient(payment.StripeConfig{
		SecretKey:         cfg.StripeSecretKey,
		APIBase:           cfg.StripeAPIBase,
		Timeout:           cfg.PaymentTimeout,
		MaxNetworkRetries: cfg.PaymentMaxRetries,
	})
	purchaseService := purchase.NewService(
		userRepo, itemRepo, orderRepo,
		stripeClient, payment.NewWebhookVerifier(cfg.StripeWebhookSecret), collector,
		purchase.Config{ClientURL: cfg.ClientURL},
	)

	gate := entitlement.NewGate(userRepo, itemRepo, orderRepo, collector)
	fetcher := asset.NewFetcher(assetGuard.NewClient(cfg.AssetFetchTimeout), cfg.AssetMaxSize)

	// 6. ルーターの構築
	// configのRateLimitはreq/min単位
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitAuth),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		SessionValidator:  authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		HSTS:              cfg.CookieSecure,
		RateLimiter:       rateLimiter,

		Metrics:        collector,
		MetricsHandler: metrics.Handler(reg),
		HealthChecker:  db,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			ClientURL:     cfg.ClientURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		CatalogService: catalogService,
		OrderService:   handler.NewPurchaseServiceAdapter(purchaseService, catalogService),

		Gate:         gate,
		AssetFetcher: fetcher,
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	// ダウンロードはアセットをストリーミングするため書き込みタイムアウトを取得タイムアウトに合わせる
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: max(15*time.Second, cfg.AssetFetchTimeout),
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.Bool("google_oauth", cfg.GoogleOAuthEnabled()),
			slog.Bool("smtp", cfg.SMTPEnabled()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newOAuthProvider は資格情報が揃っている場合のみGoogle OAuthプロバイダーを返す。
func newOAuthProvider(cfg *config.Config) auth.OAuthProvider {
	if !cfg.GoogleOAuthEnabled() {
		slog.Warn("google oauth is not configured; social login disabled")
		return nil
	}
	return auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
}

// newResetNotifier はリセットリンクの通知手段を選ぶ。
// SMTP未設定の場合、開発環境ではログに出力し、本番環境では送信不可とする。
func newResetNotifier(cfg *config.Config) auth.ResetNotifier {
	if cfg.SMTPEnabled() {
		return notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:    cfg.SMTPHost,
			Port:    cfg.SMTPPort,
			User:    cfg.SMTPUser,
			Pass:    cfg.SMTPPass,
			From:    cfg.SMTPFrom,
			Timeout: cfg.SMTPTimeout,
		})
	}
	if cfg.IsProduction() {
		slog.Warn("smtp is not configured; password reset emails cannot be sent")
		return notify.Unavailable{}
	}
	return notify.LogNotifier{}
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

// runReconcile は購入済み集合を注文台帳から一括で修復する。
func runReconcile(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	job := reconcile.NewJob(repository.NewPostgresUserRepo(db), db, nil, slog.Default())
	if _, err := job.Run(ctx); err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
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

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	return u.Redacted()
}
