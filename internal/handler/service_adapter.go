package handler

import (
	"context"
	"log/slog"

	"github.com/hitoshi/vocabstore/internal/model"
	"github.com/hitoshi/vocabstore/internal/purchase"
)

// PurchaseService はPurchaseServiceAdapterが依存する購入サービスの操作。
type PurchaseService interface {
	CreateCheckoutSession(ctx context.Context, userID, itemID string) (*purchase.CheckoutResult, error)
	VerifyPayment(ctx context.Context, userID, sessionID string) (*model.Order, error)
	ListMyOrders(ctx context.Context, userID string) ([]*model.OrderWithItem, error)
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error
}

// ItemFinder は商品IDから商品を取得する。
type ItemFinder interface {
	Get(ctx context.Context, id string) (*model.Item, error)
}

// PurchaseServiceAdapter は purchase.Service を OrderServiceInterface に適合させるアダプタ。
type PurchaseServiceAdapter struct {
	svc   PurchaseService
	items ItemFinder
}

// NewPurchaseServiceAdapter はPurchaseServiceAdapterを生成する。
func NewPurchaseServiceAdapter(svc PurchaseService, items ItemFinder) *PurchaseServiceAdapter {
	return &PurchaseServiceAdapter{svc: svc, items: items}
}

// CreateCheckoutSession は決済セッションを作成しhandlerレスポンス型で返す。
func (a *PurchaseServiceAdapter) CreateCheckoutSession(ctx context.Context, userID, itemID string) (*checkoutResponse, error) {
	result, err := a.svc.CreateCheckoutSession(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}
	return &checkoutResponse{SessionID: result.SessionID, URL: result.URL}, nil
}

// VerifyPayment は決済を確認し、商品情報を付けた注文をhandlerレスポンス型で返す。
func (a *PurchaseServiceAdapter) VerifyPayment(ctx context.Context, userID, sessionID string) (*orderResponse, error) {
	order, err := a.svc.VerifyPayment(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	resp := orderResponse{
		ID:        order.ID,
		PDF:       orderItemResponse{ID: order.ItemID},
		Amount:    order.Amount,
		Status:    string(order.Status),
		CreatedAt: order.CreatedAt,
	}

	// 注文は記録済みのため、商品情報が取れなくても成功として返す
	item, err := a.items.Get(ctx, order.ItemID)
	if err != nil {
		slog.Warn("failed to load item for verified order",
			slog.String("order_id", order.ID),
			slog.String("item_id", order.ItemID),
			slog.String("error", err.Error()),
		)
		return &resp, nil
	}
	resp.PDF = orderItemResponse{
		ID:            item.ID,
		Title:         item.Title,
		Language:      item.Language,
		Price:         item.Price,
		CoverImageURL: item.CoverImageURL,
	}
	return &resp, nil
}

// ListMyOrders は購入履歴をhandlerレスポンス型で返す。
func (a *PurchaseServiceAdapter) ListMyOrders(ctx context.Context, userID string) ([]orderResponse, error) {
	orders, err := a.svc.ListMyOrders(ctx, userID)
	if err != nil {
		return nil, err
	}

	results := make([]orderResponse, len(orders))
	for i, o := range orders {
		results[i] = toOrderResponse(o)
	}
	return results, nil
}

// HandleWebhook はWebhookをそのまま購入サービスに渡す。
func (a *PurchaseServiceAdapter) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	return a.svc.HandleWebhook(ctx, payload, signatureHeader)
}

// toOrderResponse は商品情報付きの注文をhandlerのレスポンス型に変換する。
func toOrderResponse(o *model.OrderWithItem) orderResponse {
	return orderResponse{
		ID: o.ID,
		PDF: orderItemResponse{
			ID:            o.ItemID,
			Title:         o.ItemTitle,
			Language:      o.ItemLanguage,
			Price:         o.ItemPrice,
			CoverImageURL: o.ItemCoverImageURL,
		},
		Amount:    o.Amount,
		Status:    string(o.Status),
		CreatedAt: o.CreatedAt,
	}
}

var (
	_ OrderServiceInterface = (*PurchaseServiceAdapter)(nil)
	_ PurchaseService       = (*purchase.Service)(nil)
)
