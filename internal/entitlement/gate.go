// Package entitlement は購入済みユーザーだけにPDFの取得を許可するゲートを提供する。
package entitlement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hitoshi/vocabstore/internal/metrics"
	"github.com/hitoshi/vocabstore/internal/model"
	"github.com/hitoshi/vocabstore/internal/repository"
)

// AssetRef は取得を許可されたアセットへの参照。
type AssetRef struct {
	ItemID string
	Title  string
	URL    string
}

// Gate はダウンロード要求を購入済み集合と注文台帳に照らして判定する。
// アセットの取得自体は行わない。
type Gate struct {
	userRepo  repository.UserRepository
	itemRepo  repository.ItemRepository
	orderRepo repository.OrderRepository
	metrics   metrics.MetricsCollector
}

// NewGate はGateを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewGate(
	userRepo repository.UserRepository,
	itemRepo repository.ItemRepository,
	orderRepo repository.OrderRepository,
	collector metrics.MetricsCollector,
) *Gate {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Gate{
		userRepo:  userRepo,
		itemRepo:  itemRepo,
		orderRepo: orderRepo,
		metrics:   collector,
	}
}

// AuthorizeRetrieval はユーザーが商品を取得できるかを判定し、アセット参照を返す。
//
// 購入済み集合に含まれていれば許可する。含まれていなくても台帳に完了済み注文があれば
// 集合を修復して許可する。どちらもなければFORBIDDENを返す。
func (g *Gate) AuthorizeRetrieval(ctx context.Context, userID, itemID string) (*AssetRef, error) {
	if _, err := uuid.Parse(itemID); err != nil {
		return nil, model.NewItemNotFoundError(itemID)
	}
	item, err := g.itemRepo.FindByID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to find item: %w", err)
	}
	if item == nil {
		return nil, model.NewItemNotFoundError(itemID)
	}

	user, err := g.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthenticatedError()
	}

	ref := &AssetRef{ItemID: item.ID, Title: item.Title, URL: item.PDFFileURL}
	if user.Owns(item.ID) {
		return ref, nil
	}

	completed, err := g.orderRepo.ExistsCompleted(ctx, user.ID, item.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check orders: %w", err)
	}
	if !completed {
		g.metrics.RecordDownload(metrics.OutcomeForbidden)
		return nil, model.NewForbiddenError("You must purchase this PDF to download it")
	}

	added, err := g.userRepo.AddPurchasedItem(ctx, user.ID, item.ID)
	if err != nil {
		// 台帳が根拠なので修復に失敗しても許可する
		slog.Error("failed to repair entitlement set",
			slog.String("user_id", user.ID),
			slog.String("item_id", item.ID),
			slog.String("error", err.Error()),
		)
		return ref, nil
	}
	if added {
		g.metrics.RecordEntitlementRepairs(1)
		g.metrics.RecordReconciliation(metrics.SourceGate, metrics.OutcomeCreated)
		slog.Info("entitlement set repaired from ledger",
			slog.String("user_id", user.ID),
			slog.String("item_id", item.ID),
		)
	}
	return ref, nil
}
