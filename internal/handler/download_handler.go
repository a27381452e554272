package handler

import (
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/vocabstore/internal/asset"
	"github.com/hitoshi/vocabstore/internal/entitlement"
	"github.com/hitoshi/vocabstore/internal/metrics"
	"github.com/hitoshi/vocabstore/internal/middleware"
	"github.com/hitoshi/vocabstore/internal/model"
	"github.com/hitoshi/vocabstore/internal/security"
)

// RetrievalAuthorizer は購入済みかを判定してアセット参照を返す。
type RetrievalAuthorizer interface {
	AuthorizeRetrieval(ctx context.Context, userID, itemID string) (*entitlement.AssetRef, error)
}

// AssetFetcher はアセットストアからPDFを取得する。
type AssetFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*asset.Object, error)
}

// DownloadHandler は購入済みPDFのダウンロードを中継するHTTPハンドラー。
type DownloadHandler struct {
	gate    RetrievalAuthorizer
	fetcher AssetFetcher
	metrics metrics.MetricsCollector
}

// NewDownloadHandler はDownloadHandlerを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewDownloadHandler(gate RetrievalAuthorizer, fetcher AssetFetcher, collector metrics.MetricsCollector) *DownloadHandler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &DownloadHandler{gate: gate, fetcher: fetcher, metrics: collector}
}

// Download は購入済みユーザーにPDFをストリームで返す。
// GET /api/download/{id}
func (h *DownloadHandler) Download(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	ref, err := h.gate.AuthorizeRetrieval(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	obj, err := h.fetcher.Fetch(r.Context(), ref.URL)
	if err != nil {
		h.metrics.RecordDownload(metrics.OutcomeFailed)
		slog.Error("failed to fetch asset",
			slog.String("item_id", ref.ItemID),
			slog.String("error", err.Error()),
		)
		if r.Context().Err() != nil {
			return
		}
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewUpstreamFailureError("asset store"))
		return
	}
	defer obj.Body.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": security.AttachmentFilename(ref.Title),
	}))
	if obj.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, obj.Body)
	if err != nil {
		// ヘッダー送信後のためステータスは変更できない
		h.metrics.RecordDownload(metrics.OutcomeFailed)
		slog.Warn("asset stream interrupted",
			slog.String("item_id", ref.ItemID),
			slog.Int64("bytes", n),
			slog.String("error", err.Error()),
		)
		return
	}

	h.metrics.RecordDownload(metrics.OutcomeServed)
	slog.Info("asset served",
		slog.String("user_id", userID),
		slog.String("item_id", ref.ItemID),
		slog.Int64("bytes", n),
	)
}
