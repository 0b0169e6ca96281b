package simulator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"papertrader/src/ledger"
	"papertrader/src/metrics"
	"papertrader/src/model"
)

// Validation errors are rejected before any ledger mutation and surfaced
// as a message to the caller, never retried.
var (
	ErrEmptySymbol       = errors.New("symbol is required")
	ErrInvalidSide       = errors.New("order side must be buy or sell")
	ErrInvalidOrderType  = errors.New("order type must be market or limit")
	ErrInvalidShares     = errors.New("shares must be a positive whole number")
	ErrInvalidLimitPrice = errors.New("limit price must be a positive number")

	ErrInsufficientFunds  = errors.New("insufficient funds for this order")
	ErrInsufficientShares = errors.New("insufficient shares to sell")
)

// IsValidation reports whether err is a bad-parameter rejection (as
// opposed to an insufficiency or upstream failure).
func IsValidation(err error) bool {
	for _, v := range []error{ErrEmptySymbol, ErrInvalidSide, ErrInvalidOrderType, ErrInvalidShares, ErrInvalidLimitPrice} {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}

// OrderRequest is a user-supplied order as it arrives from the UI.
// Shares and LimitPrice come in as strings and must parse; that mirrors
// the order-entry form, where both are free-text fields.
type OrderRequest struct {
	Symbol     string `json:"symbol"`
	Side       string `json:"type"`
	Shares     string `json:"shares"`
	OrderType  string `json:"orderType"`
	LimitPrice string `json:"limitPrice,omitempty"`
}

// Ledger is the slice of the account ledger the simulator needs.
type Ledger interface {
	LockUser(userID string) func()
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	Position(ctx context.Context, userID, symbol string) (*model.Position, error)
	AddTrade(ctx context.Context, userID string, in ledger.TradeInput) (*model.Trade, error)
	UpdatePosition(ctx context.Context, userID string, position model.Position) error
}

// PriceSource supplies the current market price for a symbol, normally
// the cached quote service.
type PriceSource interface {
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Simulator translates user-supplied orders into ledger mutations.
// Market orders execute at the current quoted price and are recorded
// filled. Limit orders execute immediately at the requested limit price
// but are recorded pending; there is no matching against market movement.
type Simulator struct {
	ledger Ledger
	quotes PriceSource
}

func New(l Ledger, quotes PriceSource) *Simulator {
	return &Simulator{ledger: l, quotes: quotes}
}

// parsedOrder is an OrderRequest after validation.
type parsedOrder struct {
	symbol     string
	side       string
	orderType  string
	shares     int64
	limitPrice decimal.Decimal
}

func parseOrder(req OrderRequest) (*parsedOrder, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, ErrEmptySymbol
	}
	if !model.ValidTradeSide(req.Side) {
		return nil, ErrInvalidSide
	}
	if !model.ValidOrderType(req.OrderType) {
		return nil, ErrInvalidOrderType
	}

	shares, err := strconv.ParseInt(strings.TrimSpace(req.Shares), 10, 64)
	if err != nil || shares <= 0 {
		return nil, ErrInvalidShares
	}

	order := &parsedOrder{
		symbol:    symbol,
		side:      req.Side,
		orderType: req.OrderType,
		shares:    shares,
	}

	if req.OrderType == model.OrderTypeLimit {
		limit, err := decimal.NewFromString(strings.TrimSpace(req.LimitPrice))
		if err != nil || !limit.IsPositive() {
			return nil, ErrInvalidLimitPrice
		}
		order.limitPrice = limit
	}

	return order, nil
}

// PlaceOrder validates the request, resolves the execution price, checks
// funds/shares sufficiency and commits the trade plus the recomputed
// position. Rejections leave balance, positions and history untouched.
func (s *Simulator) PlaceOrder(ctx context.Context, userID string, req OrderRequest) (*model.Trade, error) {
	order, err := parseOrder(req)
	if err != nil {
		return nil, err
	}

	// Orders for one account are serialized end to end, so nothing can
	// change between the sufficiency check and the commit.
	unlock := s.ledger.LockUser(userID)
	defer unlock()

	price := order.limitPrice
	status := model.TradeStatusPending
	if order.orderType == model.OrderTypeMarket {
		current, err := s.quotes.CurrentPrice(ctx, order.symbol)
		if err != nil {
			return nil, fmt.Errorf("fetch current price for %s: %w", order.symbol, err)
		}
		price = current
		status = model.TradeStatusFilled
	}

	total := price.Mul(decimal.NewFromInt(order.shares))

	position, err := s.ledger.Position(ctx, userID, order.symbol)
	if err != nil {
		return nil, err
	}

	switch order.side {
	case model.TradeSideBuy:
		balance, err := s.ledger.Balance(ctx, userID)
		if err != nil {
			return nil, err
		}
		if balance.LessThan(total) {
			return nil, ErrInsufficientFunds
		}
	case model.TradeSideSell:
		if position == nil || position.Shares < order.shares {
			return nil, ErrInsufficientShares
		}
	}

	trade, err := s.ledger.AddTrade(ctx, userID, ledger.TradeInput{
		Symbol: order.symbol,
		Side:   order.side,
		Shares: order.shares,
		Price:  price,
		Status: status,
	})
	if err != nil {
		return nil, err
	}

	next := nextPosition(position, order, price, total)
	if err := s.ledger.UpdatePosition(ctx, userID, next); err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "simulator",
			"trade_id":  trade.ID,
			"symbol":    order.symbol,
		}).WithError(err).Error("Trade committed but position update failed")

		return trade, err
	}

	metrics.IncTradePlaced(trade.Side, trade.Status)

	return trade, nil
}

// nextPosition computes the replacement position: buys fold the trade
// into the volume-weighted average entry price, sells reduce the holding
// at the unchanged average cost.
func nextPosition(prev *model.Position, order *parsedOrder, price, total decimal.Decimal) model.Position {
	next := model.Position{Symbol: order.symbol}
	if prev != nil {
		next = *prev
	}

	if order.side == model.TradeSideBuy {
		next.Shares += order.shares
		next.TotalCost = next.TotalCost.Add(total)
		next.AvgPrice = next.TotalCost.Div(decimal.NewFromInt(next.Shares))
		return next
	}

	next.Shares -= order.shares
	next.TotalCost = next.AvgPrice.Mul(decimal.NewFromInt(next.Shares))
	return next
}
