// Package reconcile は購入済み集合を注文台帳から再構築するバッチジョブを提供する。
// 完了済み注文があるのに購入済み集合に含まれない商品を一括で追加し、
// 期限切れのパスワードリセットトークンを破棄する。
package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/vocabstore/internal/metrics"
)

// EntitlementSyncer は完了済み注文を購入済み集合に反映する。
type EntitlementSyncer interface {
	SyncPurchasedItemsFromOrders(ctx context.Context) (int64, error)
}

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Result はジョブ1回分の処理件数。
type Result struct {
	RepairedUsers      int64
	ExpiredResetTokens int64
}

// Job は購入済み集合の一括修復ジョブ。冪等であり、何度実行しても結果は変わらない。
type Job struct {
	users   EntitlementSyncer
	db      Executor // nilの場合はリセットトークンの破棄を行わない
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewJob は新しいJobを生成する。
func NewJob(users EntitlementSyncer, db Executor, collector metrics.MetricsCollector, logger *slog.Logger) *Job {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{users: users, db: db, metrics: collector, logger: logger}
}

// Run は購入済み集合を修復し、期限切れのリセットトークンを破棄する。
func (j *Job) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	repaired, err := j.users.SyncPurchasedItemsFromOrders(ctx)
	if err != nil {
		j.logger.Error("entitlement reconcile failed",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to reconcile entitlements: %w", err)
	}
	if repaired > 0 {
		j.metrics.RecordEntitlementRepairs(int(repaired))
	}

	res := &Result{RepairedUsers: repaired}

	if j.db != nil {
		expired, err := j.expireResetTokens(ctx)
		if err != nil {
			j.logger.Error("reset token cleanup failed",
				slog.String("error", err.Error()),
			)
			return nil, err
		}
		res.ExpiredResetTokens = expired
	}

	j.logger.Info("reconcile job completed",
		slog.Int64("repaired_users", res.RepairedUsers),
		slog.Int64("expired_reset_tokens", res.ExpiredResetTokens),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return res, nil
}

func (j *Job) expireResetTokens(ctx context.Context) (int64, error) {
	result, err := j.db.ExecContext(ctx,
		`UPDATE users
		 SET reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = now()
		 WHERE reset_token_expires_at IS NOT NULL AND reset_token_expires_at < now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire reset tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
