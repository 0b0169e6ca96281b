package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// InitialBalance is the cash every paper-trading account starts with.
// ResetPortfolio restores the balance to exactly this amount.
var InitialBalance = decimal.NewFromInt(100000)

// Account holds the simulated cash balance for one user. Positions and
// trades reference the account by ID. The balance is only mutated through
// the ledger service; handlers never write it directly.
type Account struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	UserID    string          `gorm:"size:120;not null;uniqueIndex" json:"user_id"`
	Balance   decimal.Decimal `gorm:"type:numeric;not null" json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}
