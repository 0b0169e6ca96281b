package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TradeSideBuy  = "buy"
	TradeSideSell = "sell"

	TradeStatusFilled    = "filled"
	TradeStatusPending   = "pending"
	TradeStatusCancelled = "cancelled"

	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

// Trade is the immutable record of a single simulated order. Everything
// except Status is fixed at creation time. Status only moves forward:
// pending -> filled or pending -> cancelled; filled and cancelled are
// terminal. Total is stored redundantly (= Price * Shares) for audit.
type Trade struct {
	ID        string          `gorm:"primaryKey;size:36" json:"id"`
	AccountID uint            `gorm:"not null;index" json:"account_id"`
	Symbol    string          `gorm:"size:12;not null" json:"symbol"`
	Side      string          `gorm:"size:4;not null" json:"type"`
	Shares    int64           `gorm:"not null" json:"shares"`
	Price     decimal.Decimal `gorm:"type:numeric;not null" json:"price"`
	Total     decimal.Decimal `gorm:"type:numeric;not null" json:"total"`
	Status    string          `gorm:"size:16;not null;default:pending" json:"status"`
	Timestamp time.Time       `gorm:"not null;index" json:"timestamp"`
}

func (Trade) TableName() string {
	return "trades"
}

// ValidStatusTransition reports whether a trade status may move from one
// value to another. Pending is the only non-terminal status.
func ValidStatusTransition(from, to string) bool {
	if from != TradeStatusPending {
		return false
	}
	return to == TradeStatusFilled || to == TradeStatusCancelled
}

// ValidTradeSide reports whether side is one of the two accepted values.
func ValidTradeSide(side string) bool {
	return side == TradeSideBuy || side == TradeSideSell
}

// ValidOrderType reports whether orderType is market or limit.
func ValidOrderType(orderType string) bool {
	return orderType == OrderTypeMarket || orderType == OrderTypeLimit
}
