package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/vocabstore/internal/catalog"
	"github.com/hitoshi/vocabstore/internal/middleware"
	"github.com/hitoshi/vocabstore/internal/model"
)

// CatalogServiceInterface はカタログハンドラーが必要とするサービスインターフェース。
type CatalogServiceInterface interface {
	List(ctx context.Context) ([]*model.Item, error)
	Get(ctx context.Context, id string) (*model.Item, error)
	Create(ctx context.Context, input catalog.ItemInput) (*model.Item, error)
	Update(ctx context.Context, id string, input catalog.ItemInput) (*model.Item, error)
	Delete(ctx context.Context, id string) error
	Languages(ctx context.Context) ([]string, error)
}

// CatalogHandler は商品カタログのHTTPハンドラー。
type CatalogHandler struct {
	service CatalogServiceInterface
}

// NewCatalogHandler はCatalogHandlerを生成する。
func NewCatalogHandler(service CatalogServiceInterface) *CatalogHandler {
	return &CatalogHandler{service: service}
}

// itemRequest は商品作成・更新のリクエスト。アセットはアップロード済みのURLで受け取る。
type itemRequest struct {
	Title         string           `json:"title"`
	Language      string           `json:"language"`
	Price         *decimal.Decimal `json:"price"`
	Description   string           `json:"description"`
	CoverImageURL string           `json:"coverImageUrl"`
	PDFFileURL    string           `json:"pdfFileUrl"`
}

// itemResponse は公開する商品情報。PDF本体のURLは購入者向けダウンロード経由でのみ提供する。
type itemResponse struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Language      string          `json:"language"`
	Price         decimal.Decimal `json:"price"`
	Description   string          `json:"description"`
	CoverImageURL string          `json:"coverImageUrl"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// adminItemResponse は管理者向けの商品情報。
type adminItemResponse struct {
	itemResponse
	PDFFileURL string `json:"pdfFileUrl"`
}

type itemListResponse struct {
	PDFs []itemResponse `json:"pdfs"`
}

type languageListResponse struct {
	Languages []string `json:"languages"`
}

type itemDetailResponse struct {
	PDF itemResponse `json:"pdf"`
}

type adminItemDetailResponse struct {
	Message string            `json:"message"`
	PDF     adminItemResponse `json:"pdf"`
}

func toItemResponse(item *model.Item) itemResponse {
	return itemResponse{
		ID:            item.ID,
		Title:         item.Title,
		Language:      item.Language,
		Price:         item.Price,
		Description:   item.Description,
		CoverImageURL: item.CoverImageURL,
		CreatedAt:     item.CreatedAt,
		UpdatedAt:     item.UpdatedAt,
	}
}

func toAdminItemResponse(item *model.Item) adminItemResponse {
	return adminItemResponse{
		itemResponse: toItemResponse(item),
		PDFFileURL:   item.PDFFileURL,
	}
}

func (req itemRequest) toInput() catalog.ItemInput {
	return catalog.ItemInput{
		Title:         req.Title,
		Language:      req.Language,
		Price:         req.Price,
		Description:   req.Description,
		CoverImageURL: req.CoverImageURL,
		PDFFileURL:    req.PDFFileURL,
	}
}

// ListItems は商品一覧を返す。
// GET /api/pdfs
func (h *CatalogHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := itemListResponse{PDFs: make([]itemResponse, 0, len(items))}
	for _, item := range items {
		resp.PDFs = append(resp.PDFs, toItemResponse(item))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetItem は商品詳細を返す。
// GET /api/pdfs/{id}
func (h *CatalogHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, itemDetailResponse{PDF: toItemResponse(item)})
}

// CreateItem は商品を登録する。管理者のみ。
// POST /api/pdfs
func (h *CatalogHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	item, err := h.service.Create(r.Context(), req.toInput())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, adminItemDetailResponse{
		Message: "商品を登録しました。",
		PDF:     toAdminItemResponse(item),
	})
}

// UpdateItem は商品を更新する。管理者のみ。
// PUT /api/pdfs/{id}
func (h *CatalogHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	item, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), req.toInput())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, adminItemDetailResponse{
		Message: "商品を更新しました。",
		PDF:     toAdminItemResponse(item),
	})
}

// DeleteItem は商品を削除する。管理者のみ。購入履歴のある商品は削除できない。
// DELETE /api/pdfs/{id}
func (h *CatalogHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "商品を削除しました。"})
}

// ListLanguages は登録済み商品の言語一覧を返す。
// GET /api/pdfs/languages/list
func (h *CatalogHandler) ListLanguages(w http.ResponseWriter, r *http.Request) {
	languages, err := h.service.Languages(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, languageListResponse{Languages: languages})
}
