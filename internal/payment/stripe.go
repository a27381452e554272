// Package payment はStripe Checkoutとの通信とWebhook署名検証を提供する。
// 通信と署名検証はstripe-goに委ね、サービス層にはドメインの型のみを公開する。
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
)

const defaultStripeTimeout = 10 * time.Second

// セッションのmetadataに格納するキー。
const (
	MetadataUserID = "userId"
	MetadataItemID = "pdfId"
)

// PaymentStatusPaid は支払い完了を表すpayment_status。
const PaymentStatusPaid = string(stripe.CheckoutSessionPaymentStatusPaid)

// CheckoutSessionParams はCheckoutセッション作成時のパラメータ。
type CheckoutSessionParams struct {
	AmountCents   int64
	Currency      string
	ProductName   string
	Description   string
	SuccessURL    string
	CancelURL     string
	CustomerEmail string
	Metadata      map[string]string
}

// CheckoutSession はStripe Checkoutセッションを表す。
type CheckoutSession struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	PaymentStatus string            `json:"payment_status"`
	PaymentIntent string            `json:"payment_intent"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	CustomerEmail string            `json:"customer_email"`
	Metadata      map[string]string `json:"metadata"`
}

// Paid は支払いが完了しているかを返す。
func (s *CheckoutSession) Paid() bool {
	return s.PaymentStatus == PaymentStatusPaid
}

// Amount はamount_total（最小通貨単位）を小数の金額に変換する。
func (s *CheckoutSession) Amount() decimal.Decimal {
	return decimal.New(s.AmountTotal, -2)
}

// PaymentReference は決済の一意キーを返す。
// payment_intentが未設定の場合はセッションIDで代用する。
func (s *CheckoutSession) PaymentReference() string {
	if s.PaymentIntent != "" {
		return s.PaymentIntent
	}
	return s.ID
}

func fromStripeSession(s *stripe.CheckoutSession) *CheckoutSession {
	cs := &CheckoutSession{
		ID:            s.ID,
		URL:           s.URL,
		PaymentStatus: string(s.PaymentStatus),
		AmountTotal:   s.AmountTotal,
		Currency:      string(s.Currency),
		CustomerEmail: s.CustomerEmail,
		Metadata:      s.Metadata,
	}
	if s.PaymentIntent != nil {
		cs.PaymentIntent = s.PaymentIntent.ID
	}
	return cs
}

// StripeError はStripe APIのエラーレスポンスを表す。
type StripeError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

// Error はerrorインターフェースを実装する。
func (e *StripeError) Error() string {
	return fmt.Sprintf("stripe API error (status %d, type %s): %s", e.StatusCode, e.Type, e.Message)
}

// toStripeError はstripe-goのAPIエラーをStripeErrorに変換する。
// それ以外のエラー（通信失敗など）はそのまま返す。
func toStripeError(err error) error {
	var apiErr *stripe.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	return &StripeError{
		StatusCode: apiErr.HTTPStatusCode,
		Type:       string(apiErr.Type),
		Code:       string(apiErr.Code),
		Message:    apiErr.Msg,
	}
}

// StripeConfig はStripeクライアントの設定。
type StripeConfig struct {
	SecretKey         string
	APIBase           string        // テスト用にオーバーライド可能
	Timeout           time.Duration // 0の場合は10秒
	MaxNetworkRetries int64
}

// StripeClient はstripe-goのCheckoutセッションクライアントをラップする。
type StripeClient struct {
	sessions session.Client
}

// NewStripeClient はStripeClientを生成する。
func NewStripeClient(cfg StripeConfig) *StripeClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultStripeTimeout
	}
	backendConfig := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
		LeveledLogger:     slogLeveledLogger{logger: slog.Default()},
	}
	if cfg.APIBase != "" {
		backendConfig.URL = stripe.String(cfg.APIBase)
	}
	return &StripeClient{
		sessions: session.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig),
			Key: cfg.SecretKey,
		},
	}
}

// CreateCheckoutSession は1商品の支払い用Checkoutセッションを作成する。
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error) {
	product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(params.ProductName),
	}
	if params.Description != "" {
		product.Description = stripe.String(params.Description)
	}

	sp := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:    stripe.String(params.Currency),
					UnitAmount:  stripe.Int64(params.AmountCents),
					ProductData: product,
				},
			},
		},
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
	}
	if params.CustomerEmail != "" {
		sp.CustomerEmail = stripe.String(params.CustomerEmail)
	}
	for k, v := range params.Metadata {
		sp.AddMetadata(k, v)
	}
	sp.Context = ctx

	s, err := c.sessions.New(sp)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", toStripeError(err))
	}
	return fromStripeSession(s), nil
}

// RetrieveCheckoutSession はCheckoutセッションを取得する。
func (c *StripeClient) RetrieveCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	sp := &stripe.CheckoutSessionParams{}
	sp.Context = ctx

	s, err := c.sessions.Get(sessionID, sp)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve checkout session: %w", toStripeError(err))
	}
	return fromStripeSession(s), nil
}

// slogLeveledLogger はstripe-goのログをslogに出力する。
type slogLeveledLogger struct {
	logger *slog.Logger
}

func (l slogLeveledLogger) Debugf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...), slog.String("component", "stripe"))
}

func (l slogLeveledLogger) Infof(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...), slog.String("component", "stripe"))
}

func (l slogLeveledLogger) Warnf(format string, v ...any) {
	l.logger.Warn(fmt.Sprintf(format, v...), slog.String("component", "stripe"))
}

func (l slogLeveledLogger) Errorf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...), slog.String("component", "stripe"))
}

var _ stripe.LeveledLoggerInterface = slogLeveledLogger{}
