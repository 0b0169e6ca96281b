package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"papertrader/src/auth"
	"papertrader/src/ledger"
	"papertrader/src/marketdata"
	"papertrader/src/model"
	"papertrader/src/repository"
	"papertrader/src/simulator"
)

type orderPlacer interface {
	PlaceOrder(ctx context.Context, userID string, req simulator.OrderRequest) (*model.Trade, error)
}

type portfolioReader interface {
	Snapshot(ctx context.Context, userID string, tradeLimit int) (*ledger.Snapshot, error)
}

type portfolioResetter interface {
	ResetPortfolio(ctx context.Context, userID string) error
}

type orderCanceler interface {
	CancelTrade(ctx context.Context, userID, tradeID string) (*model.Trade, error)
}

// PlaceOrderHandler returns a handler that executes one paper trade for
// the authenticated user. Bad parameters are 400, insufficiency is 422,
// upstream quote failures are 502.
func PlaceOrderHandler(sim orderPlacer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		var req simulator.OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		trade, err := sim.PlaceOrder(r.Context(), user.Email, req)
		if err != nil {
			switch {
			case simulator.IsValidation(err):
				writeError(w, http.StatusBadRequest, err.Error())
			case errors.Is(err, simulator.ErrInsufficientFunds), errors.Is(err, simulator.ErrInsufficientShares):
				writeError(w, http.StatusUnprocessableEntity, err.Error())
			default:
				logger.WithError(err).Error("failed to place order")
				writeError(w, http.StatusBadGateway, "order could not be executed")
			}
			return
		}

		writeJSON(w, http.StatusCreated, trade)
	}
}

// PortfolioHandler returns balance, open positions and recent trades for
// the authenticated user.
func PortfolioHandler(lgr portfolioReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		snapshot, err := lgr.Snapshot(r.Context(), user.Email, 50)
		if err != nil {
			logger.WithError(err).Error("failed to load portfolio")
			writeError(w, http.StatusInternalServerError, "failed to load portfolio")
			return
		}

		writeJSON(w, http.StatusOK, snapshot)
	}
}

// TradesHandler lists recent trade history, newest first. `limit` caps
// the page size.
func TradesHandler(lgr portfolioReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		limit := 50
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			parsed, err := strconv.Atoi(limitParam)
			if err != nil || parsed <= 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = parsed
		}

		snapshot, err := lgr.Snapshot(r.Context(), user.Email, limit)
		if err != nil {
			logger.WithError(err).Error("failed to load trades")
			writeError(w, http.StatusInternalServerError, "failed to load trades")
			return
		}

		writeJSON(w, http.StatusOK, snapshot.Trades)
	}
}

// ResetPortfolioHandler restores the authenticated user's account to its
// initial state.
func ResetPortfolioHandler(lgr portfolioResetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		if err := lgr.ResetPortfolio(r.Context(), user.Email); err != nil {
			logger.WithError(err).Error("failed to reset portfolio")
			writeError(w, http.StatusInternalServerError, "failed to reset portfolio")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	}
}

var (
	defaultLedgerOnce sync.Once
	defaultLedger     *ledger.Service
)

// CancelOrderHandler cancels a pending order, reversing its balance and
// position effects. Unknown trades are 404; filled or already-cancelled
// trades are 409.
func CancelOrderHandler(lgr orderCanceler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		trade, err := lgr.CancelTrade(r.Context(), user.Email, chi.URLParam(r, "id"))
		if err != nil {
			switch {
			case errors.Is(err, ledger.ErrTradeNotFound):
				writeError(w, http.StatusNotFound, "trade not found")
			case errors.Is(err, ledger.ErrTradeNotCancellable):
				writeError(w, http.StatusConflict, "only pending trades can be cancelled")
			default:
				logger.WithError(err).Error("failed to cancel order")
				writeError(w, http.StatusInternalServerError, "failed to cancel order")
			}
			return
		}

		writeJSON(w, http.StatusOK, trade)
	}
}

// DefaultLedger wires the production ledger over the account repository.
// The instance is shared by every handler so the per-user lock is global:
// an order and a reset for the same user can never interleave.
func DefaultLedger() *ledger.Service {
	defaultLedgerOnce.Do(func() {
		defaultLedger = ledger.NewService(repository.NewAccountRepository())
	})
	return defaultLedger
}

// DefaultPlaceOrderHandler wires the simulator to the production ledger
// and the shared quote service.
func DefaultPlaceOrderHandler() http.HandlerFunc {
	return PlaceOrderHandler(simulator.New(DefaultLedger(), marketdata.DefaultService()))
}

func DefaultPortfolioHandler() http.HandlerFunc {
	return PortfolioHandler(DefaultLedger())
}

func DefaultTradesHandler() http.HandlerFunc {
	return TradesHandler(DefaultLedger())
}

func DefaultResetPortfolioHandler() http.HandlerFunc {
	return ResetPortfolioHandler(DefaultLedger())
}

func DefaultCancelOrderHandler() http.HandlerFunc {
	return CancelOrderHandler(DefaultLedger())
}
