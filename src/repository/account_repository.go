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

// AccountRepository handles read/write operations for accounts, positions
// and trade history. Every mutation is flushed to the durable store
// synchronously with the in-memory update; the ledger service is the only
// caller of the write methods.
type AccountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new repository instance using the main database.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *AccountRepository) WithDB(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// LoadOrCreate fetches the account for the given user, creating it with
// the initial balance on first use.
func (r *AccountRepository) LoadOrCreate(ctx context.Context, userID string) (*model.Account, error) {
	var account model.Account

	err := r.db.WithContext(ctx).
		Where(model.Account{UserID: userID}).
		Attrs(model.Account{Balance: model.InitialBalance}).
		FirstOrCreate(&account).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "AccountRepository",
			"op":      "LoadOrCreate",
			"user_id": userID,
		}).WithError(err).Error("Failed to load account")

		return nil, err
	}

	return &account, nil
}

// Positions returns every open position for the account, ordered by symbol.
func (r *AccountRepository) Positions(ctx context.Context, accountID uint) ([]model.Position, error) {
	var positions []model.Position

	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("symbol ASC").
		Find(&positions).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "AccountRepository",
			"op":         "Positions",
			"account_id": accountID,
		}).WithError(err).Error("Failed to fetch positions")

		return nil, err
	}

	return positions, nil
}

// PositionBySymbol fetches one position by its symbol key.
// Returns (nil, nil) if the account holds no shares of the symbol.
func (r *AccountRepository) PositionBySymbol(ctx context.Context, accountID uint, symbol string) (*model.Position, error) {
	var position model.Position

	err := r.db.WithContext(ctx).
		Where("account_id = ? AND symbol = ?", accountID, symbol).
		First(&position).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":       "AccountRepository",
			"op":         "PositionBySymbol",
			"account_id": accountID,
			"symbol":     symbol,
		}).WithError(err).Error("Failed to fetch position")

		return nil, err
	}

	return &position, nil
}

// Trades returns the trade history newest-first.
func (r *AccountRepository) Trades(ctx context.Context, accountID uint, limit int) ([]model.Trade, error) {
	if limit <= 0 {
		limit = 50
	}

	var trades []model.Trade

	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&trades).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "AccountRepository",
			"op":         "Trades",
			"account_id": accountID,
		}).WithError(err).Error("Failed to fetch trades")

		return nil, err
	}

	return trades, nil
}

// TradeByID fetches one trade scoped to the account.
// Returns (nil, nil) when the account has no such trade.
func (r *AccountRepository) TradeByID(ctx context.Context, accountID uint, tradeID string) (*model.Trade, error) {
	var trade model.Trade

	err := r.db.WithContext(ctx).
		Where("account_id = ? AND id = ?", accountID, tradeID).
		First(&trade).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":       "AccountRepository",
			"op":         "TradeByID",
			"account_id": accountID,
			"trade_id":   tradeID,
		}).WithError(err).Error("Failed to fetch trade")

		return nil, err
	}

	return &trade, nil
}

// CommitTrade persists a trade and the resulting balance in one
// transaction, so the history and the cash never diverge.
func (r *AccountRepository) CommitTrade(ctx context.Context, account *model.Account, trade *model.Trade) error {
	logger.WithFields(map[string]interface{}{
		"repo":     "AccountRepository",
		"op":       "CommitTrade",
		"trade_id": trade.ID,
		"symbol":   trade.Symbol,
		"side":     trade.Side,
		"shares":   trade.Shares,
	}).Debug("Committing trade")

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Account{}).
			Where("id = ?", account.ID).
			Update("balance", account.Balance).Error; err != nil {
			logger.WithError(err).Error("Failed to update balance inside transaction")
			return err
		}

		if err := tx.Create(trade).Error; err != nil {
			logger.WithError(err).Error("Failed to create trade inside transaction")
			return err
		}

		return nil
	})
}

// RevertTrade persists a cancellation: the restored balance, the trade's
// terminal status and the reverted position move in one transaction.
// A zero-share position is deleted rather than stored.
func (r *AccountRepository) RevertTrade(ctx context.Context, account *model.Account, trade *model.Trade, position *model.Position) error {
	logger.WithFields(map[string]interface{}{
		"repo":     "AccountRepository",
		"op":       "RevertTrade",
		"trade_id": trade.ID,
		"symbol":   trade.Symbol,
	}).Debug("Reverting trade")

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Account{}).
			Where("id = ?", account.ID).
			Update("balance", account.Balance).Error; err != nil {
			logger.WithError(err).Error("Failed to restore balance inside transaction")
			return err
		}

		if err := tx.Model(&model.Trade{}).
			Where("id = ?", trade.ID).
			Update("status", trade.Status).Error; err != nil {
			logger.WithError(err).Error("Failed to update trade status inside transaction")
			return err
		}

		if position.Shares == 0 {
			if err := tx.Where("account_id = ? AND symbol = ?", account.ID, position.Symbol).
				Delete(&model.Position{}).Error; err != nil {
				logger.WithError(err).Error("Failed to delete position inside transaction")
				return err
			}
			return nil
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "symbol"}},
			DoUpdates: clause.AssignmentColumns([]string{"shares", "avg_price", "total_cost", "updated_at"}),
		}).Create(position).Error; err != nil {
			logger.WithError(err).Error("Failed to restore position inside transaction")
			return err
		}

		return nil
	})
}

// UpsertPosition replaces any existing position for the trade's symbol
// with the given, fully-computed one.
func (r *AccountRepository) UpsertPosition(ctx context.Context, position *model.Position) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "symbol"}},
			DoUpdates: clause.AssignmentColumns([]string{"shares", "avg_price", "total_cost", "updated_at"}),
		}).
		Create(position).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "AccountRepository",
			"op":         "UpsertPosition",
			"account_id": position.AccountID,
			"symbol":     position.Symbol,
		}).WithError(err).Error("Failed to upsert position")

		return err
	}

	return nil
}

// DeletePosition removes a position outright. Called when a sell brings
// the share count to zero; zero-share rows are never retained.
func (r *AccountRepository) DeletePosition(ctx context.Context, accountID uint, symbol string) error {
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND symbol = ?", accountID, symbol).
		Delete(&model.Position{}).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "AccountRepository",
			"op":         "DeletePosition",
			"account_id": accountID,
			"symbol":     symbol,
		}).WithError(err).Error("Failed to delete position")

		return err
	}

	return nil
}

// Reset restores the balance and wipes positions and trades in one
// transaction. The account's Balance field must already hold the initial
// constant when this is called.
func (r *AccountRepository) Reset(ctx context.Context, account *model.Account) error {
	logger.WithFields(map[string]interface{}{
		"repo":       "AccountRepository",
		"op":         "Reset",
		"account_id": account.ID,
	}).Info("Resetting portfolio")

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Account{}).
			Where("id = ?", account.ID).
			Update("balance", account.Balance).Error; err != nil {
			logger.WithError(err).Error("Failed to restore balance inside transaction")
			return err
		}

		if err := tx.Where("account_id = ?", account.ID).
			Delete(&model.Position{}).Error; err != nil {
			logger.WithError(err).Error("Failed to clear positions inside transaction")
			return err
		}

		if err := tx.Where("account_id = ?", account.ID).
			Delete(&model.Trade{}).Error; err != nil {
			logger.WithError(err).Error("Failed to clear trades inside transaction")
			return err
		}

		return nil
	})
}
