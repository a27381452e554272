// Package purchase は決済セッションの作成と、決済完了の照合（台帳記録と購入済み集合への反映）を提供する。
//
// 決済完了はクライアントからの確認とプロバイダーからのWebhookの2経路で届く。
// どちらの経路も同じ照合処理を通り、1つの決済につき注文は1件だけ記録される。
package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/vocabstore/internal/metrics"
	"github.com/hitoshi/vocabstore/internal/model"
	"github.com/hitoshi/vocabstore/internal/payment"
	"github.com/hitoshi/vocabstore/internal/repository"
)

const defaultCurrency = "usd"

// PaymentProcessor は決済プロセッサのインターフェース。
type PaymentProcessor interface {
	CreateCheckoutSession(ctx context.Context, params payment.CheckoutSessionParams) (*payment.CheckoutSession, error)
	RetrieveCheckoutSession(ctx context.Context, sessionID string) (*payment.CheckoutSession, error)
}

// EventVerifier はWebhookペイロードの署名を検証してイベントを返す。
type EventVerifier interface {
	ConstructEvent(payload []byte, header string) (*payment.Event, error)
}

// Config は購入サービスの設定。
type Config struct {
	ClientURL string // success_url / cancel_url の生成に使用する
	Currency  string
}

// CheckoutResult はCheckoutセッション作成の結果。
type CheckoutResult struct {
	SessionID string
	URL       string
}

// Service は購入フローのビジネスロジックを提供する。
type Service struct {
	userRepo  repository.UserRepository
	itemRepo  repository.ItemRepository
	orderRepo repository.OrderRepository
	processor PaymentProcessor
	verifier  EventVerifier
	metrics   metrics.MetricsCollector
	config    Config
	now       func() time.Time
}

// NewService はServiceを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewService(
	userRepo repository.UserRepository,
	itemRepo repository.ItemRepository,
	orderRepo repository.OrderRepository,
	processor PaymentProcessor,
	verifier EventVerifier,
	collector metrics.MetricsCollector,
	config Config,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if config.Currency == "" {
		config.Currency = defaultCurrency
	}
	config.ClientURL = strings.TrimRight(config.ClientURL, "/")
	return &Service{
		userRepo:  userRepo,
		itemRepo:  itemRepo,
		orderRepo: orderRepo,
		processor: processor,
		verifier:  verifier,
		metrics:   collector,
		config:    config,
		now:       time.Now,
	}
}

// CreateCheckoutSession は商品購入のためのCheckoutセッションを作成する。
// 購入済みの商品に対してはALREADY_OWNEDを返し、プロセッサには問い合わせない。
func (s *Service) CreateCheckoutSession(ctx context.Context, userID, itemID string) (*CheckoutResult, error) {
	if strings.TrimSpace(itemID) == "" {
		return nil, model.NewValidationError(model.FieldError{Field: "pdfId", Message: "pdfId is required"})
	}

	item, err := s.findItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, model.NewItemNotFoundError(itemID)
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthenticatedError()
	}
	if user.Owns(item.ID) {
		return nil, model.NewAlreadyOwnedError()
	}

	params := payment.CheckoutSessionParams{
		AmountCents:   item.PriceCents(),
		Currency:      s.config.Currency,
		ProductName:   item.Title,
		Description:   "Language: " + item.Language,
		SuccessURL:    s.config.ClientURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     s.config.ClientURL + "/checkout/cancel",
		CustomerEmail: user.Email,
		Metadata: map[string]string{
			payment.MetadataUserID: user.ID,
			payment.MetadataItemID: item.ID,
		},
	}

	start := time.Now()
	session, err := s.processor.CreateCheckoutSession(ctx, params)
	s.metrics.RecordPaymentLatency(time.Since(start))
	if err != nil {
		s.metrics.RecordCheckoutSession(metrics.OutcomeFailed)
		slog.Error("failed to create checkout session",
			slog.String("user_id", user.ID),
			slog.String("item_id", item.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamFailureError("stripe")
	}
	s.metrics.RecordCheckoutSession(metrics.OutcomeCreated)

	slog.Info("checkout session created",
		slog.String("user_id", user.ID),
		slog.String("item_id", item.ID),
		slog.String("session_id", session.ID),
	)
	return &CheckoutResult{SessionID: session.ID, URL: session.URL}, nil
}

// VerifyPayment はクライアントから通知されたセッションの支払いを確認し、照合する。
// 既に照合済みの決済に対しては既存の注文を返す。
func (s *Service) VerifyPayment(ctx context.Context, userID, sessionID string) (*model.Order, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, model.NewValidationError(model.FieldError{Field: "sessionId", Message: "sessionId is required"})
	}

	start := time.Now()
	session, err := s.processor.RetrieveCheckoutSession(ctx, sessionID)
	s.metrics.RecordPaymentLatency(time.Since(start))
	if err != nil {
		var stripeErr *payment.StripeError
		if errors.As(err, &stripeErr) && stripeErr.StatusCode == http.StatusNotFound {
			return nil, model.NewValidationError(model.FieldError{Field: "sessionId", Message: "unknown checkout session"})
		}
		slog.Error("failed to retrieve checkout session",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamFailureError("stripe")
	}

	if !session.Paid() {
		return nil, model.NewPaymentIncompleteError()
	}

	ownerID := session.Metadata[payment.MetadataUserID]
	itemID := session.Metadata[payment.MetadataItemID]
	if ownerID != userID {
		slog.Warn("checkout session verified by different user",
			slog.String("session_id", sessionID),
			slog.String("user_id", userID),
		)
		return nil, model.NewForbiddenError("This payment belongs to another account")
	}
	if itemID == "" {
		return nil, model.NewValidationError(model.FieldError{Field: "sessionId", Message: "checkout session has no item"})
	}

	order, err := s.reconcile(ctx, metrics.SourceVerify, session.PaymentReference(), ownerID, itemID, session.Amount())
	if err != nil {
		return nil, err
	}
	return order, nil
}

// HandleWebhook はプロバイダーからのWebhookを検証し、決済完了イベントを照合する。
// 署名が不正な場合はINVALID_SIGNATUREを返し、何も変更しない。
// 照合に失敗した場合はエラーを返し、プロバイダーの再送に任せる。
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	event, err := s.verifier.ConstructEvent(payload, signatureHeader)
	if err != nil {
		s.metrics.RecordWebhookRejected()
		slog.Warn("webhook signature rejected", slog.String("error", err.Error()))
		return model.NewInvalidSignatureError()
	}

	switch event.Type {
	case payment.EventCheckoutSessionCompleted, payment.EventCheckoutSessionAsyncPaymentSucceeded:
	default:
		slog.Debug("webhook event ignored",
			slog.String("event_id", event.ID),
			slog.String("event_type", event.Type),
		)
		return nil
	}

	session, err := event.CheckoutSession()
	if err != nil {
		slog.Warn("webhook payload could not be decoded",
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)
		return model.NewValidationError(model.FieldError{Field: "data.object", Message: "malformed checkout session"})
	}

	// completedイベントは非同期決済の場合に未払いのまま届く
	if event.Type == payment.EventCheckoutSessionCompleted && !session.Paid() {
		slog.Info("checkout session completed without payment",
			slog.String("event_id", event.ID),
			slog.String("session_id", session.ID),
		)
		return nil
	}

	userID := session.Metadata[payment.MetadataUserID]
	itemID := session.Metadata[payment.MetadataItemID]
	if userID == "" || itemID == "" {
		slog.Error("checkout session without purchase metadata",
			slog.String("event_id", event.ID),
			slog.String("session_id", session.ID),
		)
		return nil
	}

	// 再送しても成功しないメタデータは受領して破棄する
	valid, err := s.purchaseMetadataResolves(ctx, userID, itemID)
	if err != nil {
		return err
	}
	if !valid {
		slog.Error("checkout session metadata does not resolve",
			slog.String("event_id", event.ID),
			slog.String("session_id", session.ID),
			slog.String("user_id", userID),
			slog.String("item_id", itemID),
		)
		return nil
	}

	if _, err := s.reconcile(ctx, metrics.SourceWebhook, session.PaymentReference(), userID, itemID, session.Amount()); err != nil {
		return err
	}
	return nil
}

// purchaseMetadataResolves はメタデータのユーザーと商品が実在するかを返す。
// 検索自体の失敗は再試行可能なエラーとして返す。
func (s *Service) purchaseMetadataResolves(ctx context.Context, userID, itemID string) (bool, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return false, nil
	}
	if _, err := uuid.Parse(itemID); err != nil {
		return false, nil
	}
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to find user: %w", err)
	}
	item, err := s.itemRepo.FindByID(ctx, itemID)
	if err != nil {
		return false, fmt.Errorf("failed to find item: %w", err)
	}
	return user != nil && item != nil, nil
}

// ListMyOrders はユーザーの注文履歴を新しい順に返す。
func (s *Service) ListMyOrders(ctx context.Context, userID string) ([]*model.OrderWithItem, error) {
	orders, err := s.orderRepo.ListByUserIDWithItem(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	if orders == nil {
		orders = []*model.OrderWithItem{}
	}
	return orders, nil
}

// reconcile は決済完了を台帳に記録し、購入済み集合に商品を追加する。
//
//  1. 同じ決済IDの注文があれば照合済みとして何も変更しない
//  2. 注文をcompletedで作成する。同時実行で先を越された場合は既存の注文を返す
//  3. 購入済み集合に商品がなければ追加する
//
// 3の失敗は再試行可能なエラーとして返す。集合は台帳から修復できる。
func (s *Service) reconcile(ctx context.Context, source, paymentRef, userID, itemID string, amount decimal.Decimal) (*model.Order, error) {
	existing, err := s.orderRepo.FindByPaymentIntentID(ctx, paymentRef)
	if err != nil {
		s.metrics.RecordReconciliation(source, metrics.OutcomeFailed)
		return nil, fmt.Errorf("failed to find order: %w", err)
	}
	if existing != nil {
		s.metrics.RecordReconciliation(source, metrics.OutcomeDuplicate)
		slog.Info("payment already reconciled",
			slog.String("source", source),
			slog.String("payment_intent_id", paymentRef),
			slog.String("order_id", existing.ID),
		)
		// 前回の試行で集合への追加だけが失敗していた場合はここで完了させる
		if err := s.ensureEntitled(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	order := &model.Order{
		ID:              uuid.New().String(),
		UserID:          userID,
		ItemID:          itemID,
		PaymentIntentID: paymentRef,
		Amount:          amount,
		Status:          model.OrderStatusCompleted,
		CreatedAt:       s.now(),
	}
	created, err := s.orderRepo.CreateIfAbsent(ctx, order)
	if err != nil {
		s.metrics.RecordReconciliation(source, metrics.OutcomeFailed)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	if !created {
		// もう一方の経路が先に記録した
		s.metrics.RecordReconciliation(source, metrics.OutcomeDuplicate)
		winner, err := s.orderRepo.FindByPaymentIntentID(ctx, paymentRef)
		if err != nil {
			return nil, fmt.Errorf("failed to find order: %w", err)
		}
		if winner == nil {
			return nil, fmt.Errorf("order for payment %s vanished after conflict", paymentRef)
		}
		if err := s.ensureEntitled(ctx, winner); err != nil {
			return nil, err
		}
		return winner, nil
	}

	if _, err := s.userRepo.AddPurchasedItem(ctx, userID, itemID); err != nil {
		s.metrics.RecordReconciliation(source, metrics.OutcomeFailed)
		slog.Error("order recorded but entitlement set update failed",
			slog.String("source", source),
			slog.String("order_id", order.ID),
			slog.String("user_id", userID),
			slog.String("item_id", itemID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to add purchased item (retryable): %w", err)
	}

	s.metrics.RecordReconciliation(source, metrics.OutcomeCreated)
	slog.Info("payment reconciled",
		slog.String("source", source),
		slog.String("payment_intent_id", paymentRef),
		slog.String("order_id", order.ID),
		slog.String("user_id", userID),
		slog.String("item_id", itemID),
		slog.String("amount", amount.StringFixed(2)),
	)
	return order, nil
}

// ensureEntitled は記録済みの注文の商品が購入済み集合に含まれていなければ追加する。
func (s *Service) ensureEntitled(ctx context.Context, order *model.Order) error {
	added, err := s.userRepo.AddPurchasedItem(ctx, order.UserID, order.ItemID)
	if err != nil {
		return fmt.Errorf("failed to add purchased item (retryable): %w", err)
	}
	if added {
		s.metrics.RecordEntitlementRepairs(1)
		slog.Warn("entitlement set repaired from ledger",
			slog.String("order_id", order.ID),
			slog.String("user_id", order.UserID),
			slog.String("item_id", order.ItemID),
		)
	}
	return nil
}

func (s *Service) findItem(ctx context.Context, itemID string) (*model.Item, error) {
	if _, err := uuid.Parse(itemID); err != nil {
		return nil, nil
	}
	item, err := s.itemRepo.FindByID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to find item: %w", err)
	}
	return item, nil
}
