package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the current holding for one symbol inside an account.
// There is at most one row per (account, symbol). A position that reaches
// zero shares is deleted, never kept around.
type Position struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	AccountID uint            `gorm:"not null;index:idx_account_symbol,unique" json:"account_id"`
	Symbol    string          `gorm:"size:12;not null;index:idx_account_symbol,unique" json:"symbol"`
	Shares    int64           `gorm:"not null" json:"shares"`
	AvgPrice  decimal.Decimal `gorm:"type:numeric;not null" json:"avg_price"`
	TotalCost decimal.Decimal `gorm:"type:numeric;not null" json:"total_cost"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}
