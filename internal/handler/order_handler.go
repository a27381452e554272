package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/vocabstore/internal/middleware"
	"github.com/hitoshi/vocabstore/internal/model"
)

// webhookSignatureHeader は決済プロバイダーが署名を載せるヘッダー。
const webhookSignatureHeader = "Stripe-Signature"

// maxWebhookBodySize はWebhookペイロードの上限（512KB）。
const maxWebhookBodySize = 512 << 10

// OrderServiceInterface は注文ハンドラーが必要とするサービスインターフェース。
type OrderServiceInterface interface {
	CreateCheckoutSession(ctx context.Context, userID, itemID string) (*checkoutResponse, error)
	VerifyPayment(ctx context.Context, userID, sessionID string) (*orderResponse, error)
	ListMyOrders(ctx context.Context, userID string) ([]orderResponse, error)
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error
}

// OrderHandler は購入フローのHTTPハンドラー。
type OrderHandler struct {
	service OrderServiceInterface
}

// NewOrderHandler はOrderHandlerを生成する。
func NewOrderHandler(service OrderServiceInterface) *OrderHandler {
	return &OrderHandler{service: service}
}

type createCheckoutRequest struct {
	PDFID string `json:"pdfId"`
}

type verifyPaymentRequest struct {
	SessionID string `json:"sessionId"`
}

type checkoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// orderItemResponse は注文に紐づく商品の概要。
type orderItemResponse struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Language      string          `json:"language"`
	Price         decimal.Decimal `json:"price"`
	CoverImageURL string          `json:"coverImageUrl,omitempty"`
}

type orderResponse struct {
	ID        string            `json:"id"`
	PDF       orderItemResponse `json:"pdf"`
	Amount    decimal.Decimal   `json:"amount"`
	Status    string            `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
}

type verifyPaymentResponse struct {
	Message string        `json:"message"`
	Order   orderResponse `json:"order"`
}

type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
}

type webhookResponse struct {
	Received bool `json:"received"`
}

// CreateCheckoutSession は決済セッションを作成する。
// POST /api/orders/create-checkout-session
func (h *OrderHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createCheckoutRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	resp, err := h.service.CreateCheckoutSession(r.Context(), userID, req.PDFID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// VerifyPayment はクライアントからの決済完了確認を処理する。
// 処理済みの決済に対しては既存の注文を返す。
// POST /api/orders/verify-payment
func (h *OrderHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req verifyPaymentRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	order, err := h.service.VerifyPayment(r.Context(), userID, req.SessionID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, verifyPaymentResponse{
		Message: "決済を確認しました。",
		Order:   *order,
	})
}

// ListMyOrders はログインユーザーの購入履歴を返す。
// GET /api/orders/my-orders
func (h *OrderHandler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	orders, err := h.service.ListMyOrders(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if orders == nil {
		orders = []orderResponse{}
	}
	writeJSON(w, http.StatusOK, orderListResponse{Orders: orders})
}

// Webhook は決済プロバイダーからのイベント通知を処理する。
// 署名検証のため生のボディをそのまま渡す。照合に失敗した場合は5xxを返し再送させる。
// POST /api/orders/webhook
func (h *OrderHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		slog.Warn("failed to read webhook body", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(
			model.FieldError{Field: "body", Message: "リクエストボディを読み込めませんでした。"},
		))
		return
	}

	if err := h.service.HandleWebhook(r.Context(), payload, r.Header.Get(webhookSignatureHeader)); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{Received: true})
}
