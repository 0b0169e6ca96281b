package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"papertrader/src/model"
)

// memStore is an in-memory Store so the transition logic is testable
// without a database backend.
type memStore struct {
	account   model.Account
	positions map[string]model.Position
	trades    []model.Trade
	nextPosID uint
}

func newMemStore() *memStore {
	return &memStore{
		account:   model.Account{ID: 1, UserID: "local", Balance: model.InitialBalance},
		positions: make(map[string]model.Position),
	}
}

func (m *memStore) LoadOrCreate(_ context.Context, _ string) (*model.Account, error) {
	account := m.account
	return &account, nil
}

func (m *memStore) Positions(_ context.Context, _ uint) ([]model.Position, error) {
	out := make([]model.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) PositionBySymbol(_ context.Context, _ uint, symbol string) (*model.Position, error) {
	p, ok := m.positions[symbol]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memStore) Trades(_ context.Context, _ uint, limit int) ([]model.Trade, error) {
	if limit <= 0 || limit > len(m.trades) {
		limit = len(m.trades)
	}
	return m.trades[:limit], nil
}

func (m *memStore) TradeByID(_ context.Context, _ uint, tradeID string) (*model.Trade, error) {
	for i := range m.trades {
		if m.trades[i].ID == tradeID {
			trade := m.trades[i]
			return &trade, nil
		}
	}
	return nil, nil
}

func (m *memStore) CommitTrade(_ context.Context, account *model.Account, trade *model.Trade) error {
	m.account.Balance = account.Balance
	m.trades = append([]model.Trade{*trade}, m.trades...)
	return nil
}

func (m *memStore) RevertTrade(_ context.Context, account *model.Account, trade *model.Trade, position *model.Position) error {
	m.account.Balance = account.Balance
	for i := range m.trades {
		if m.trades[i].ID == trade.ID {
			m.trades[i].Status = trade.Status
		}
	}
	if position.Shares == 0 {
		delete(m.positions, position.Symbol)
		return nil
	}
	m.positions[position.Symbol] = *position
	return nil
}

func (m *memStore) UpsertPosition(_ context.Context, position *model.Position) error {
	if position.ID == 0 {
		m.nextPosID++
		position.ID = m.nextPosID
	}
	m.positions[position.Symbol] = *position
	return nil
}

func (m *memStore) DeletePosition(_ context.Context, _ uint, symbol string) error {
	delete(m.positions, symbol)
	return nil
}

func (m *memStore) Reset(_ context.Context, account *model.Account) error {
	m.account.Balance = account.Balance
	m.positions = make(map[string]model.Position)
	m.trades = nil
	return nil
}

func newTestService(store *memStore) *Service {
	svc := NewService(store)
	svc.now = func() time.Time { return time.Date(2024, 6, 3, 15, 30, 0, 0, time.UTC) }
	return svc
}

func TestAddTradeBalanceDeltas(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	steps := []struct {
		side    string
		shares  int64
		price   string
		status  string
		balance string
	}{
		{model.TradeSideBuy, 10, "150.00", model.TradeStatusFilled, "98500"},
		{model.TradeSideBuy, 3, "99.99", model.TradeStatusFilled, "98200.03"},
		{model.TradeSideSell, 5, "420.00", model.TradeStatusPending, "100300.03"},
		{model.TradeSideSell, 1, "0.01", model.TradeStatusFilled, "100300.04"},
	}

	for _, step := range steps {
		before, err := svc.Balance(ctx, "local")
		if err != nil {
			t.Fatalf("unexpected error reading balance: %v", err)
		}

		price := decimal.RequireFromString(step.price)
		trade, err := svc.AddTrade(ctx, "local", TradeInput{
			Symbol: "AAPL",
			Side:   step.side,
			Shares: step.shares,
			Price:  price,
			Status: step.status,
		})
		if err != nil {
			t.Fatalf("unexpected error adding trade: %v", err)
		}

		wantTotal := price.Mul(decimal.NewFromInt(step.shares))
		if !trade.Total.Equal(wantTotal) {
			t.Fatalf("total = %s, want %s", trade.Total, wantTotal)
		}

		wantDelta := wantTotal
		if step.side == model.TradeSideBuy {
			wantDelta = wantTotal.Neg()
		}

		after, _ := svc.Balance(ctx, "local")
		if !after.Sub(before).Equal(wantDelta) {
			t.Fatalf("balance delta = %s, want %s", after.Sub(before), wantDelta)
		}
		if !after.Equal(decimal.RequireFromString(step.balance)) {
			t.Fatalf("balance = %s, want %s", after, step.balance)
		}
	}
}

func TestAddTradeScenarioMarketBuy(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	trade, err := svc.AddTrade(ctx, "local", TradeInput{
		Symbol: "AAPL",
		Side:   model.TradeSideBuy,
		Shares: 10,
		Price:  decimal.RequireFromString("150.00"),
		Status: model.TradeStatusFilled,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if trade.Status != model.TradeStatusFilled {
		t.Fatalf("status = %s, want filled", trade.Status)
	}
	if !trade.Total.Equal(decimal.RequireFromString("1500.00")) {
		t.Fatalf("total = %s, want 1500.00", trade.Total)
	}

	balance, _ := svc.Balance(ctx, "local")
	if !balance.Equal(decimal.RequireFromString("98500.00")) {
		t.Fatalf("balance = %s, want 98500.00", balance)
	}

	snap, err := svc.Snapshot(ctx, "local", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Trades) != 1 {
		t.Fatalf("expected 1 trade in history, got %d", len(snap.Trades))
	}
}

func TestTradeHistoryNewestFirst(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	for _, symbol := range []string{"AAPL", "MSFT", "NVDA"} {
		if _, err := svc.AddTrade(ctx, "local", TradeInput{
			Symbol: symbol,
			Side:   model.TradeSideBuy,
			Shares: 1,
			Price:  decimal.NewFromInt(10),
			Status: model.TradeStatusFilled,
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	snap, err := svc.Snapshot(ctx, "local", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"NVDA", "MSFT", "AAPL"}
	for i, symbol := range want {
		if snap.Trades[i].Symbol != symbol {
			t.Fatalf("trades[%d] = %s, want %s", i, snap.Trades[i].Symbol, symbol)
		}
	}
}

func TestTradeIDsUnique(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		trade, err := svc.AddTrade(ctx, "local", TradeInput{
			Symbol: "AAPL",
			Side:   model.TradeSideBuy,
			Shares: 1,
			Price:  decimal.NewFromInt(1),
			Status: model.TradeStatusFilled,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seen[trade.ID] {
			t.Fatalf("trade id %q reused", trade.ID)
		}
		seen[trade.ID] = true
	}
}

func TestUpdatePositionUpsertAndRemoval(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	pos := model.Position{
		Symbol:    "AAPL",
		Shares:    10,
		AvgPrice:  decimal.RequireFromString("150.00"),
		TotalCost: decimal.RequireFromString("1500.00"),
	}
	if err := svc.UpdatePosition(ctx, "local", pos); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Replacing the same symbol must not create a second position.
	pos.Shares = 15
	pos.TotalCost = decimal.RequireFromString("2280.00")
	pos.AvgPrice = decimal.RequireFromString("152.00")
	if err := svc.UpdatePosition(ctx, "local", pos); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.positions) != 1 {
		t.Fatalf("expected exactly one position per symbol, got %d", len(store.positions))
	}
	if store.positions["AAPL"].Shares != 15 {
		t.Fatalf("shares = %d, want 15", store.positions["AAPL"].Shares)
	}

	// Zero shares removes the position instead of retaining it.
	pos.Shares = 0
	if err := svc.UpdatePosition(ctx, "local", pos); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.positions["AAPL"]; ok {
		t.Fatal("zero-share position was retained")
	}
}

func TestCancelTradeRevertsPendingBuy(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	trade, err := svc.AddTrade(ctx, "local", TradeInput{
		Symbol: "AAPL",
		Side:   model.TradeSideBuy,
		Shares: 10,
		Price:  decimal.RequireFromString("150.00"),
		Status: model.TradeStatusPending,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.UpdatePosition(ctx, "local", model.Position{
		Symbol: "AAPL", Shares: 10,
		AvgPrice:  decimal.RequireFromString("150.00"),
		TotalCost: decimal.RequireFromString("1500.00"),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cancelled, err := svc.CancelTrade(ctx, "local", trade.ID)
	if err != nil {
		t.Fatalf("unexpected error cancelling trade: %v", err)
	}

	if cancelled.Status != model.TradeStatusCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}
	if store.trades[0].Status != model.TradeStatusCancelled {
		t.Fatalf("stored status = %s, want cancelled", store.trades[0].Status)
	}

	balance, _ := svc.Balance(ctx, "local")
	if !balance.Equal(model.InitialBalance) {
		t.Fatalf("balance after cancel = %s, want %s", balance, model.InitialBalance)
	}
	if _, ok := store.positions["AAPL"]; ok {
		t.Fatal("cancelled buy left its position behind")
	}
}

func TestCancelTradeRevertsPendingSell(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	store.positions["MSFT"] = model.Position{
		ID: 1, AccountID: 1, Symbol: "MSFT", Shares: 2,
		AvgPrice:  decimal.RequireFromString("400.00"),
		TotalCost: decimal.RequireFromString("800.00"),
	}

	trade, err := svc.AddTrade(ctx, "local", TradeInput{
		Symbol: "MSFT",
		Side:   model.TradeSideSell,
		Shares: 5,
		Price:  decimal.RequireFromString("420.00"),
		Status: model.TradeStatusPending,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.CancelTrade(ctx, "local", trade.ID); err != nil {
		t.Fatalf("unexpected error cancelling trade: %v", err)
	}

	// The sell added 2100; cancelling must take it back out.
	balance, _ := svc.Balance(ctx, "local")
	if !balance.Equal(model.InitialBalance) {
		t.Fatalf("balance after cancel = %s, want %s", balance, model.InitialBalance)
	}

	pos := store.positions["MSFT"]
	if pos.Shares != 7 {
		t.Fatalf("restored shares = %d, want 7", pos.Shares)
	}
	if !pos.AvgPrice.Equal(decimal.RequireFromString("400.00")) {
		t.Fatalf("average price changed on sell cancel: %s", pos.AvgPrice)
	}
	if !pos.TotalCost.Equal(decimal.RequireFromString("2800.00")) {
		t.Fatalf("restored cost = %s, want 2800.00", pos.TotalCost)
	}
}

func TestCancelTradeRejectsTerminalStatuses(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	for _, status := range []string{model.TradeStatusFilled, model.TradeStatusCancelled} {
		trade, err := svc.AddTrade(ctx, "local", TradeInput{
			Symbol: "AAPL",
			Side:   model.TradeSideBuy,
			Shares: 1,
			Price:  decimal.NewFromInt(100),
			Status: status,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		before, _ := svc.Balance(ctx, "local")
		if _, err := svc.CancelTrade(ctx, "local", trade.ID); err != ErrTradeNotCancellable {
			t.Fatalf("cancelling %s trade: err = %v, want ErrTradeNotCancellable", status, err)
		}
		after, _ := svc.Balance(ctx, "local")
		if !after.Equal(before) {
			t.Fatalf("rejected cancel moved the balance: %s -> %s", before, after)
		}
	}
}

func TestCancelTradeUnknownID(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)

	if _, err := svc.CancelTrade(context.Background(), "local", "no-such-trade"); err != ErrTradeNotFound {
		t.Fatalf("err = %v, want ErrTradeNotFound", err)
	}
}

func TestResetPortfolio(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	if _, err := svc.AddTrade(ctx, "local", TradeInput{
		Symbol: "MSFT",
		Side:   model.TradeSideBuy,
		Shares: 7,
		Price:  decimal.RequireFromString("411.55"),
		Status: model.TradeStatusFilled,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.UpdatePosition(ctx, "local", model.Position{
		Symbol: "MSFT", Shares: 7,
		AvgPrice:  decimal.RequireFromString("411.55"),
		TotalCost: decimal.RequireFromString("2880.85"),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.ResetPortfolio(ctx, "local"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap, err := svc.Snapshot(ctx, "local", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !snap.Balance.Equal(model.InitialBalance) {
		t.Fatalf("balance after reset = %s, want %s", snap.Balance, model.InitialBalance)
	}
	if len(snap.Positions) != 0 || len(snap.Trades) != 0 {
		t.Fatalf("reset left %d positions, %d trades", len(snap.Positions), len(snap.Trades))
	}
}
