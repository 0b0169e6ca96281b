package model

import "time"

// StockAnalysis is the durable cache row for one symbol's AI-derived
// analysis. Payload holds the serialized analysis JSON; the row is
// considered expired once GeneratedAt is older than the analysis cache
// window (24h) and is overwritten in place on refresh.
type StockAnalysis struct {
	Symbol      string    `gorm:"primaryKey;size:12" json:"symbol"`
	Payload     string    `gorm:"type:text;not null" json:"payload"`
	GeneratedAt time.Time `gorm:"not null" json:"generated_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (StockAnalysis) TableName() string {
	return "stock_analyses"
}
