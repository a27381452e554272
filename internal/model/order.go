package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus は注文の状態を表す。
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
)

// Order は決済完了を記録する台帳エントリ。
// PaymentIntentIDは決済ごとに一意で、同じ決済から2件作られることはない。
type Order struct {
	ID              string
	UserID          string
	ItemID          string
	PaymentIntentID string
	Amount          decimal.Decimal
	Status          OrderStatus
	CreatedAt       time.Time
}

// OrderWithItem は注文と商品情報を結合したモデル。
// 購入履歴の表示に使う。
type OrderWithItem struct {
	Order
	ItemTitle         string
	ItemLanguage      string
	ItemPrice         decimal.Decimal
	ItemCoverImageURL string
}
