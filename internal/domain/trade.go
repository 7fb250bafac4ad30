package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Purchase is an append-only record of a buy. Price holds the total cost of
// the trade, not the unit price.
type Purchase struct {
	ID           uint            `gorm:"primaryKey"`
	BuyerID      uint            `gorm:"not null;index"`
	StockName    string          `gorm:"size:255;not null"`
	Price        decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	SharesNumber int64           `gorm:"not null"`
	Symbol       string          `gorm:"size:16;not null"`
	Time         time.Time       `gorm:"not null;index"`
}

// TableName keeps the historical table name
func (Purchase) TableName() string { return "purchase" }

// Sale is an append-only record of a sell. Price holds the total proceeds.
type Sale struct {
	ID           uint            `gorm:"primaryKey"`
	SellerID     uint            `gorm:"not null;index"`
	Symbol       string          `gorm:"size:16;not null"`
	StockName    string          `gorm:"size:255;not null"`
	SharesNumber int64           `gorm:"not null"`
	Price        decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	Time         time.Time       `gorm:"not null;index"`
}

// TableName keeps the historical table name
func (Sale) TableName() string { return "sold" }

// TradeKind tells purchases and sales apart in the history view
type TradeKind string

// Trade kinds
const (
	TradeBuy  TradeKind = "buy"
	TradeSell TradeKind = "sell"
)

// HistoryEntry is one row of the merged purchase/sale history
type HistoryEntry struct {
	ID     uint            `json:"id"`
	Kind   TradeKind       `json:"kind"`
	Symbol string          `json:"symbol"`
	Name   string          `json:"name"`
	Shares int64           `json:"shares"`
	Total  decimal.Decimal `json:"total"`
	Time   time.Time       `json:"time"`
}
