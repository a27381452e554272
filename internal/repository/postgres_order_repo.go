package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/vocabstore/internal/model"
)

// PostgresOrderRepo はPostgreSQLを使用した注文台帳リポジトリ。
type PostgresOrderRepo struct {
	db *sql.DB
}

// NewPostgresOrderRepo はPostgresOrderRepoを生成する。
func NewPostgresOrderRepo(db *sql.DB) *PostgresOrderRepo {
	return &PostgresOrderRepo{db: db}
}

// FindByPaymentIntentID は決済IDで注文を取得する。見つからない場合はnilを返す。
func (r *PostgresOrderRepo) FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*model.Order, error) {
	order := &model.Order{}
	var status string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, item_id, payment_intent_id, amount, status, created_at
		 FROM orders
		 WHERE payment_intent_id = $1`,
		paymentIntentID,
	).Scan(&order.ID, &order.UserID, &order.ItemID, &order.PaymentIntentID, &order.Amount, &status, &order.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find order by payment intent: %w", err)
	}

	order.Status = model.OrderStatus(status)
	return order, nil
}

// CreateIfAbsent は注文を作成する。
// payment_intent_idの一意制約により、同時に2つの経路から呼ばれても1件しか作成されない。
func (r *PostgresOrderRepo) CreateIfAbsent(ctx context.Context, order *model.Order) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, item_id, payment_intent_id, amount, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (payment_intent_id) DO NOTHING`,
		order.ID, order.UserID, order.ItemID, order.PaymentIntentID, order.Amount, string(order.Status), order.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert order: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// ExistsCompleted はユーザーと商品の組み合わせで完了済み注文が存在するかを返す。
func (r *PostgresOrderRepo) ExistsCompleted(ctx context.Context, userID, itemID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM orders WHERE user_id = $1 AND item_id = $2 AND status = 'completed'
		 )`,
		userID, itemID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check completed order: %w", err)
	}
	return exists, nil
}

// ListByUserIDWithItem はユーザーの注文を商品情報付きで作成日時の降順に返す。
func (r *PostgresOrderRepo) ListByUserIDWithItem(ctx context.Context, userID string) ([]*model.OrderWithItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT o.id, o.user_id, o.item_id, o.payment_intent_id, o.amount, o.status, o.created_at,
		        i.title, i.language, i.price, i.cover_image_url
		 FROM orders o
		 JOIN items i ON i.id = o.item_id
		 WHERE o.user_id = $1
		 ORDER BY o.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []*model.OrderWithItem
	for rows.Next() {
		o := &model.OrderWithItem{}
		var status string
		if err := rows.Scan(
			&o.ID, &o.UserID, &o.ItemID, &o.PaymentIntentID, &o.Amount, &status, &o.CreatedAt,
			&o.ItemTitle, &o.ItemLanguage, &o.ItemPrice, &o.ItemCoverImageURL,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.Status = model.OrderStatus(status)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}
	return orders, nil
}

// compile-time interface check
var _ OrderRepository = (*PostgresOrderRepo)(nil)
