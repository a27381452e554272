package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Webhookで処理するイベント種別。
const (
	EventCheckoutSessionCompleted             = string(stripe.EventTypeCheckoutSessionCompleted)
	EventCheckoutSessionAsyncPaymentSucceeded = string(stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded)
)

// DefaultSignatureTolerance は署名タイムスタンプの許容誤差。
const DefaultSignatureTolerance = webhook.DefaultTolerance

// ErrInvalidSignature はWebhook署名の検証に失敗したことを表す。
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Event はStripe Webhookイベントを表す。
type Event struct {
	ID   string
	Type string
	Data struct {
		Object json.RawMessage
	}
}

// CheckoutSession はイベントのdata.objectをCheckoutセッションとしてデコードする。
func (e *Event) CheckoutSession() (*CheckoutSession, error) {
	var s stripe.CheckoutSession
	if err := json.Unmarshal(e.Data.Object, &s); err != nil {
		return nil, fmt.Errorf("failed to decode checkout session from event %s: %w", e.ID, err)
	}
	return fromStripeSession(&s), nil
}

// WebhookVerifier はStripe-Signatureヘッダーを検証する。
type WebhookVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewWebhookVerifier はWebhookVerifierを生成する。
func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret, tolerance: DefaultSignatureTolerance}
}

// ConstructEvent は署名を検証し、ペイロードをイベントとしてデコードする。
// 署名が不正な場合はErrInvalidSignatureを返す。
// イベントのAPIバージョンはライブラリのバージョンと一致しなくてもよい。
func (v *WebhookVerifier) ConstructEvent(payload []byte, header string) (*Event, error) {
	if v.secret == "" || header == "" {
		return nil, ErrInvalidSignature
	}

	se, err := webhook.ConstructEventWithOptions(payload, header, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	event := &Event{ID: se.ID, Type: string(se.Type)}
	if se.Data != nil {
		event.Data.Object = se.Data.Raw
	}
	return event, nil
}

// SignatureHeader はStripe-Signatureヘッダーの値を生成する。
// ローカルでのWebhook送信やテストに使う。
func SignatureHeader(secret string, payload []byte, at time.Time) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
	})
	return signed.Header
}
