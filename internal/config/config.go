package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// 実行環境の名前。
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Environment
	AppEnv string `env:"APP_ENV" envDefault:"development"`

	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// OAuth（未設定の場合Googleログインは無効）
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`

	// Session
	SessionSecret string `env:"SESSION_SECRET,required,notEmpty"`
	SessionMaxAge int    `env:"SESSION_MAX_AGE" envDefault:"604800"`

	// Payment
	StripeSecretKey     string        `env:"STRIPE_SECRET_KEY,required,notEmpty"`
	StripeWebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET,required,notEmpty"`
	StripeAPIBase       string        `env:"STRIPE_API_BASE" envDefault:"https://api.stripe.com"`
	PaymentTimeout      time.Duration `env:"PAYMENT_TIMEOUT" envDefault:"10s"`
	PaymentMaxRetries   int64         `env:"PAYMENT_MAX_RETRIES" envDefault:"2"`

	// Mail
	SMTPHost    string        `env:"SMTP_HOST"`
	SMTPPort    int           `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser    string        `env:"SMTP_USER"`
	SMTPPass    string        `env:"SMTP_PASS"`
	SMTPFrom    string        `env:"SMTP_FROM"`
	SMTPTimeout time.Duration `env:"SMTP_TIMEOUT" envDefault:"10s"`

	// Password reset
	ResetTokenTTL time.Duration `env:"RESET_TOKEN_TTL" envDefault:"1h"`

	// Asset
	AssetFetchTimeout time.Duration `env:"ASSET_FETCH_TIMEOUT" envDefault:"30s"`
	AssetMaxSize      int64         `env:"ASSET_MAX_SIZE" envDefault:"104857600"`

	// Catalog
	CatalogCacheTTL time.Duration `env:"CATALOG_CACHE_TTL" envDefault:"5m"`

	// Rate Limit（req/min）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitAuth    int `env:"RATE_LIMIT_AUTH" envDefault:"10"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,required,notEmpty"`
	ClientURL  string `env:"CLIENT_URL" envDefault:"http://localhost:3000"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS（未設定の場合はClientURL）
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.AppEnv = strings.ToLower(strings.TrimSpace(cfg.AppEnv))
	cfg.ClientURL = strings.TrimRight(cfg.ClientURL, "/")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	if cfg.CORSAllowedOrigin == "" {
		cfg.CORSAllowedOrigin = cfg.ClientURL
	}
	if cfg.SessionMaxAge <= 0 {
		return nil, fmt.Errorf("SESSION_MAX_AGE must be positive: %d", cfg.SessionMaxAge)
	}

	return cfg, nil
}

// IsProduction は本番環境で動作しているかを返す。
func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// GoogleOAuthEnabled はGoogle OAuthの資格情報が揃っているかを返す。
func (c *Config) GoogleOAuthEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// SMTPEnabled はメール送信に必要な設定が揃っているかを返す。
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != "" && c.SMTPUser != "" && c.SMTPPass != ""
}

// SessionTTL はセッショントークンの有効期間を返す。
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
}
