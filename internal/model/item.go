// Package model はドメインモデルを定義する。
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item は販売する単語帳PDFを表す。
type Item struct {
	ID            string
	Title         string
	Language      string // カテゴリラベル（例: Spanish）
	Price         decimal.Decimal
	Description   string // サニタイズ済み
	CoverImageURL string
	PDFFileURL    string // アセットストア上のPDF参照
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PriceCents は価格をセント単位の整数で返す。
func (i *Item) PriceCents() int64 {
	return i.Price.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
