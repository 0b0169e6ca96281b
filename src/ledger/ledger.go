package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"papertrader/src/model"
)

// Store is the persistence boundary of the ledger. The repository package
// provides the production implementation; tests substitute an in-memory one.
type Store interface {
	LoadOrCreate(ctx context.Context, userID string) (*model.Account, error)
	Positions(ctx context.Context, accountID uint) ([]model.Position, error)
	PositionBySymbol(ctx context.Context, accountID uint, symbol string) (*model.Position, error)
	Trades(ctx context.Context, accountID uint, limit int) ([]model.Trade, error)
	TradeByID(ctx context.Context, accountID uint, tradeID string) (*model.Trade, error)
	CommitTrade(ctx context.Context, account *model.Account, trade *model.Trade) error
	RevertTrade(ctx context.Context, account *model.Account, trade *model.Trade, position *model.Position) error
	UpsertPosition(ctx context.Context, position *model.Position) error
	DeletePosition(ctx context.Context, accountID uint, symbol string) error
	Reset(ctx context.Context, account *model.Account) error
}

var (
	// ErrTradeNotFound means the account has no trade with the given ID.
	ErrTradeNotFound = errors.New("trade not found")
	// ErrTradeNotCancellable means the trade is filled or already
	// cancelled; both states are terminal.
	ErrTradeNotCancellable = errors.New("only pending trades can be cancelled")
)

// TradeInput carries the fully-resolved terms of a trade into the ledger.
// Callers must validate before calling AddTrade; the ledger itself applies
// the input unconditionally.
type TradeInput struct {
	Symbol string
	Side   string
	Shares int64
	Price  decimal.Decimal
	Status string
}

// Snapshot is a read-only view of one account's state.
type Snapshot struct {
	Balance   decimal.Decimal  `json:"balance"`
	Positions []model.Position `json:"positions"`
	Trades    []model.Trade    `json:"trades"`
}

// Service owns balance, positions and trade history for every account.
// Each mutation updates the in-memory view and the durable store in one
// step. Mutations for the same user are serialized with a per-user lock;
// the single-threaded assumption of the original runtime does not hold here.
type Service struct {
	store Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now   func() time.Time
	newID func() string
}

func NewService(store Store) *Service {
	return &Service{
		store: store,
		locks: make(map[string]*sync.Mutex),
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// LockUser acquires the per-user mutation lock and returns its release
// func. The order simulator holds it across validate-then-commit so two
// orders for one account cannot interleave mid-update.
func (s *Service) LockUser(userID string) func() {
	s.mu.Lock()
	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// NextBalance is the pure balance transition: buys subtract the trade
// total, sells add it, regardless of order type.
func NextBalance(balance decimal.Decimal, side string, total decimal.Decimal) decimal.Decimal {
	if side == model.TradeSideBuy {
		return balance.Sub(total)
	}
	return balance.Add(total)
}

// buildTrade freezes the immutable trade record. Total is computed here
// and never recomputed afterwards.
func buildTrade(accountID uint, in TradeInput, id string, ts time.Time) *model.Trade {
	return &model.Trade{
		ID:        id,
		AccountID: accountID,
		Symbol:    in.Symbol,
		Side:      in.Side,
		Shares:    in.Shares,
		Price:     in.Price,
		Total:     in.Price.Mul(decimal.NewFromInt(in.Shares)),
		Status:    in.Status,
		Timestamp: ts,
	}
}

// AddTrade constructs a trade from the input, adjusts the balance by
// exactly price*shares, and commits both atomically. No sufficiency
// validation happens here; the order simulator rejects bad orders before
// they reach the ledger.
func (s *Service) AddTrade(ctx context.Context, userID string, in TradeInput) (*model.Trade, error) {
	account, err := s.store.LoadOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	trade := buildTrade(account.ID, in, s.newID(), s.now())
	account.Balance = NextBalance(account.Balance, in.Side, trade.Total)

	if err := s.store.CommitTrade(ctx, account, trade); err != nil {
		return nil, fmt.Errorf("commit trade: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"component": "ledger",
		"trade_id":  trade.ID,
		"symbol":    trade.Symbol,
		"side":      trade.Side,
		"shares":    trade.Shares,
		"total":     trade.Total.String(),
		"balance":   account.Balance.String(),
	}).Info("Trade committed")

	return trade, nil
}

// CancelTrade moves a pending trade to cancelled and reverses its
// balance and position effects, all in one store transaction. The status
// machine only moves forward, so filled and cancelled trades are
// rejected with ErrTradeNotCancellable.
func (s *Service) CancelTrade(ctx context.Context, userID, tradeID string) (*model.Trade, error) {
	unlock := s.LockUser(userID)
	defer unlock()

	account, err := s.store.LoadOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	trade, err := s.store.TradeByID(ctx, account.ID, tradeID)
	if err != nil {
		return nil, err
	}
	if trade == nil {
		return nil, ErrTradeNotFound
	}
	if !model.ValidStatusTransition(trade.Status, model.TradeStatusCancelled) {
		return nil, ErrTradeNotCancellable
	}

	position, err := s.store.PositionBySymbol(ctx, account.ID, trade.Symbol)
	if err != nil {
		return nil, err
	}

	// Undoing the trade is applying its total with the side flipped.
	reverse := model.TradeSideSell
	if trade.Side == model.TradeSideSell {
		reverse = model.TradeSideBuy
	}
	account.Balance = NextBalance(account.Balance, reverse, trade.Total)
	trade.Status = model.TradeStatusCancelled

	if err := s.store.RevertTrade(ctx, account, trade, revertedPosition(position, trade)); err != nil {
		return nil, fmt.Errorf("cancel trade: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"component": "ledger",
		"trade_id":  trade.ID,
		"symbol":    trade.Symbol,
		"side":      trade.Side,
		"balance":   account.Balance.String(),
	}).Info("Trade cancelled")

	return trade, nil
}

// revertedPosition undoes the trade's position effect. Cancelling a buy
// removes the bought shares and their cost; cancelling a sell restores
// the sold shares at the unchanged average price, or at the trade price
// when the holding was fully sold out in between. A zero-share result is
// deleted by the store, not retained.
func revertedPosition(prev *model.Position, trade *model.Trade) *model.Position {
	next := &model.Position{AccountID: trade.AccountID, Symbol: trade.Symbol}
	if prev != nil {
		clone := *prev
		next = &clone
	}

	if trade.Side == model.TradeSideBuy {
		next.Shares -= trade.Shares
		if next.Shares <= 0 {
			next.Shares = 0
			next.TotalCost = decimal.Zero
			return next
		}
		next.TotalCost = next.TotalCost.Sub(trade.Total)
		next.AvgPrice = next.TotalCost.Div(decimal.NewFromInt(next.Shares))
		return next
	}

	next.Shares += trade.Shares
	if next.AvgPrice.IsZero() {
		next.AvgPrice = trade.Price
	}
	next.TotalCost = next.AvgPrice.Mul(decimal.NewFromInt(next.Shares))
	return next
}

// UpdatePosition replaces the position for the given symbol with the
// fully-computed one (upsert by symbol key). A zero-share position is
// removed rather than stored.
func (s *Service) UpdatePosition(ctx context.Context, userID string, position model.Position) error {
	account, err := s.store.LoadOrCreate(ctx, userID)
	if err != nil {
		return err
	}

	position.AccountID = account.ID
	if position.Shares == 0 {
		return s.store.DeletePosition(ctx, account.ID, position.Symbol)
	}

	return s.store.UpsertPosition(ctx, &position)
}

// Position returns the current holding for one symbol, or nil.
func (s *Service) Position(ctx context.Context, userID, symbol string) (*model.Position, error) {
	account, err := s.store.LoadOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.store.PositionBySymbol(ctx, account.ID, symbol)
}

// Balance returns the current cash balance.
func (s *Service) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	account, err := s.store.LoadOrCreate(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

// Snapshot returns balance, open positions and recent trade history
// (newest first).
func (s *Service) Snapshot(ctx context.Context, userID string, tradeLimit int) (*Snapshot, error) {
	account, err := s.store.LoadOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	positions, err := s.store.Positions(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	trades, err := s.store.Trades(ctx, account.ID, tradeLimit)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Balance:   account.Balance,
		Positions: positions,
		Trades:    trades,
	}, nil
}

// ResetPortfolio restores the balance to the initial constant and clears
// positions and trades, regardless of prior state.
func (s *Service) ResetPortfolio(ctx context.Context, userID string) error {
	unlock := s.LockUser(userID)
	defer unlock()

	account, err := s.store.LoadOrCreate(ctx, userID)
	if err != nil {
		return err
	}

	account.Balance = model.InitialBalance
	if err := s.store.Reset(ctx, account); err != nil {
		return fmt.Errorf("reset portfolio: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"component": "ledger",
		"user_id":   userID,
	}).Info("Portfolio reset")

	return nil
}
