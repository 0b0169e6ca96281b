package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"papertrader/src/marketdata"
)

type marketReader interface {
	PreviousClose(ctx context.Context, symbol string) (*marketdata.PreviousClose, error)
	DailyBars(ctx context.Context, symbol, from, to string, limit int) ([]marketdata.Bar, error)
	SearchTickers(ctx context.Context, query string) ([]marketdata.TickerSummary, error)
	TickerDetails(ctx context.Context, symbol string) (*marketdata.TickerDetails, error)
	TickerNews(ctx context.Context, symbol string, limit int) ([]marketdata.NewsArticle, error)
	MarketNews(ctx context.Context, limit int) ([]marketdata.NewsArticle, error)
	MarketStatus(ctx context.Context) (*marketdata.MarketStatus, error)
}

func writeMarketError(w http.ResponseWriter, err error, fallback string) {
	var pErr *marketdata.PolygonError
	if errors.As(err, &pErr) {
		switch pErr.Code {
		case marketdata.ErrCodeNotFound:
			writeError(w, http.StatusNotFound, pErr.Message)
			return
		case marketdata.ErrCodeRateLimit:
			writeError(w, http.StatusTooManyRequests, pErr.Message)
			return
		}
	}

	logger.WithError(err).Error(fallback)
	writeError(w, http.StatusBadGateway, fallback)
}

// PrevCloseHandler serves the prior day's aggregate for a symbol.
func PrevCloseHandler(market marketReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := chi.URLParam(r, "symbol")
		if symbol == "" {
			writeError(w, http.StatusBadRequest, "symbol is required")
			return
		}

		prev, err := market.PreviousClose(r.Context(), symbol)
		if err != nil {
			writeMarketError(w, err, "failed to fetch previous close")
			return
		}

		writeJSON(w, http.StatusOK, prev)
	}
}

// BarsHandler serves the daily aggregate series for a symbol. `from` and
// `to` are YYYY-MM-DD and default to the trailing year.
func BarsHandler(market marketReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := chi.URLParam(r, "symbol")
		if symbol == "" {
			writeError(w, http.StatusBadRequest, "symbol is required")
			return
		}

		now := time.Now().UTC()
		from := r.URL.Query().Get("from")
		if from == "" {
			from = now.AddDate(-1, 0, 0).Format("2006-01-02")
		}
		to := r.URL.Query().Get("to")
		if to == "" {
			to = now.Format("2006-01-02")
		}

		limit := 0
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			parsed, err := strconv.Atoi(limitParam)
			if err != nil || parsed <= 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = parsed
		}

		bars, err := market.DailyBars(r.Context(), symbol, from, to, limit)
		if err != nil {
			writeMarketError(w, err, "failed to fetch bars")
			return
		}

		writeJSON(w, http.StatusOK, bars)
	}
}

// SearchHandler serves ticker search. Queries under two characters
// return an empty list.
func SearchHandler(market marketReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, err := market.SearchTickers(r.Context(), r.URL.Query().Get("q"))
		if err != nil {
			writeMarketError(w, err, "failed to search tickers")
			return
		}
		if results == nil {
			results = []marketdata.TickerSummary{}
		}

		writeJSON(w, http.StatusOK, results)
	}
}

// TickerDetailsHandler serves the reference record for one symbol.
func TickerDetailsHandler(market marketReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := chi.URLParam(r, "symbol")
		if symbol == "" {
			writeError(w, http.StatusBadRequest, "symbol is required")
			return
		}

		details, err := market.TickerDetails(r.Context(), symbol)
		if err != nil {
			writeMarketError(w, err, "failed to fetch ticker details")
			return
		}

		writeJSON(w, http.StatusOK, details)
	}
}

// NewsHandler serves recent articles, filtered to one symbol when the
// `symbol` query parameter is set.
func NewsHandler(market marketReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 10
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			parsed, err := strconv.Atoi(limitParam)
			if err != nil || parsed <= 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = parsed
		}

		var (
			articles []marketdata.NewsArticle
			err      error
		)
		if symbol := r.URL.Query().Get("symbol"); symbol != "" {
			articles, err = market.TickerNews(r.Context(), symbol, limit)
		} else {
			articles, err = market.MarketNews(r.Context(), limit)
		}
		if err != nil {
			writeMarketError(w, err, "failed to fetch news")
			return
		}
		if articles == nil {
			articles = []marketdata.NewsArticle{}
		}

		writeJSON(w, http.StatusOK, articles)
	}
}

// MarketStatusHandler serves the exchange open/closed snapshot. The
// service already degrades failures to a closed default, so this never
// reports upstream errors.
func MarketStatusHandler(market marketReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := market.MarketStatus(r.Context())
		if err != nil {
			writeMarketError(w, err, "failed to fetch market status")
			return
		}

		writeJSON(w, http.StatusOK, status)
	}
}

func DefaultPrevCloseHandler() http.HandlerFunc {
	return PrevCloseHandler(marketdata.DefaultService())
}

func DefaultBarsHandler() http.HandlerFunc {
	return BarsHandler(marketdata.DefaultService())
}

func DefaultSearchHandler() http.HandlerFunc {
	return SearchHandler(marketdata.DefaultService())
}

func DefaultTickerDetailsHandler() http.HandlerFunc {
	return TickerDetailsHandler(marketdata.DefaultService())
}

func DefaultNewsHandler() http.HandlerFunc {
	return NewsHandler(marketdata.DefaultService())
}

func DefaultMarketStatusHandler() http.HandlerFunc {
	return MarketStatusHandler(marketdata.DefaultService())
}
