package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"papertrader/src/database"
	"papertrader/src/model"
)

// AnalysisRepository persists AI-derived stock analyses. Expiry is decided
// by the caller from GeneratedAt; this layer only stores and fetches rows.
type AnalysisRepository struct {
	db *gorm.DB
}

func NewAnalysisRepository() *AnalysisRepository {
	return &AnalysisRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *AnalysisRepository) WithDB(db *gorm.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Get fetches the cached analysis for a symbol.
// Returns (nil, nil) when nothing has been stored yet.
func (r *AnalysisRepository) Get(ctx context.Context, symbol string) (*model.StockAnalysis, error) {
	var entry model.StockAnalysis

	err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":   "AnalysisRepository",
			"op":     "Get",
			"symbol": symbol,
		}).WithError(err).Error("Failed to fetch analysis")

		return nil, err
	}

	return &entry, nil
}

// Put overwrites the entry for the symbol with a fresh payload and
// timestamp. Every successful analysis computation lands here immediately.
func (r *AnalysisRepository) Put(ctx context.Context, entry *model.StockAnalysis) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "generated_at", "updated_at"}),
		}).
		Create(entry).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "AnalysisRepository",
			"op":     "Put",
			"symbol": entry.Symbol,
		}).WithError(err).Error("Failed to store analysis")

		return err
	}

	return nil
}
