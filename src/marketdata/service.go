package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"papertrader/src/metrics"
)

// Cache validity windows per data class. Quotes go stale in seconds,
// reference data survives much longer.
const (
	SnapshotTTL  = 30 * time.Second
	BarsTTL      = 5 * time.Minute
	NewsTTL      = 5 * time.Minute
	SearchTTL    = 5 * time.Minute
	ReferenceTTL = 30 * time.Minute
	StatusTTL    = 1 * time.Minute
)

// provider is the raw upstream client surface the service fronts.
type provider interface {
	GetPreviousClose(ctx context.Context, symbol string) (*PreviousClose, error)
	GetDailyBars(ctx context.Context, symbol, from, to string, limit int) ([]Bar, error)
	SearchTickers(ctx context.Context, query string, limit int) ([]TickerSummary, error)
	GetTickerDetails(ctx context.Context, symbol string) (*TickerDetails, error)
	GetNews(ctx context.Context, symbol string, limit int) ([]NewsArticle, error)
	GetMarketStatus(ctx context.Context) (*MarketStatus, error)
}

// Service gives callers a plain "get current data for symbol" interface
// while preventing redundant and over-rate upstream calls: reads hit the
// TTL cache first, misses go through the serialized request queue, and
// successful results are written back before being returned.
type Service struct {
	client provider
	cache  *Cache
	queue  *Queue
}

func NewService(client provider, minInterval time.Duration) *Service {
	return &Service{
		client: client,
		cache:  NewCache(),
		queue:  NewQueue(minInterval, DefaultRetryPolicy(minInterval)),
	}
}

var (
	defaultOnce    sync.Once
	defaultService *Service
)

// DefaultService wires the production Polygon client from env config.
// The instance is shared so every caller sees one cache and one request
// queue.
func DefaultService() *Service {
	defaultOnce.Do(func() {
		cfg := GetConfig()
		defaultService = NewService(NewPolygonClient(cfg), cfg.MinInterval)
	})
	return defaultService
}

// fetch is the shared cache-then-queue read path.
func fetch[T any](ctx context.Context, s *Service, class, key string, ttl time.Duration, call func() (T, error)) (T, error) {
	if v, ok := s.cache.Get(key, ttl); ok {
		metrics.IncCacheHit(class)
		return v.(T), nil
	}
	metrics.IncCacheMiss(class)

	out, err := s.queue.Do(ctx, func() (interface{}, error) { return call() })
	if err != nil {
		var zero T
		return zero, err
	}

	result := out.(T)
	s.cache.Set(key, result)
	return result, nil
}

// PreviousClose returns the prior day's aggregate for a symbol. On
// upstream failure an expired cache entry, if any, is served as a
// degraded fallback instead of the error.
func (s *Service) PreviousClose(ctx context.Context, symbol string) (*PreviousClose, error) {
	key := "prev-close-" + symbol
	result, err := fetch(ctx, s, "snapshot", key, SnapshotTTL, func() (*PreviousClose, error) {
		return s.client.GetPreviousClose(ctx, symbol)
	})
	if err != nil {
		if stale, ok := s.cache.GetStale(key); ok {
			logger.WithFields(map[string]interface{}{
				"component": "marketdata",
				"symbol":    symbol,
			}).WithError(err).Warn("Serving stale previous close after upstream failure")

			return stale.(*PreviousClose), nil
		}
		return nil, err
	}
	return result, nil
}

// CurrentPrice resolves the execution price for market orders from the
// latest previous-close aggregate.
func (s *Service) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prev, err := s.PreviousClose(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}

	price := decimal.NewFromFloat(prev.Close)
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("no positive close price for %s", symbol)
	}
	return price, nil
}

// DailyBars returns the aggregate series for a date range (YYYY-MM-DD).
func (s *Service) DailyBars(ctx context.Context, symbol, from, to string, limit int) ([]Bar, error) {
	key := fmt.Sprintf("bars-%s-%s-%s-%d", symbol, from, to, limit)
	return fetch(ctx, s, "bars", key, BarsTTL, func() ([]Bar, error) {
		return s.client.GetDailyBars(ctx, symbol, from, to, limit)
	})
}

// SearchTickers returns matching active tickers. Queries shorter than two
// characters return nothing without touching the upstream.
func (s *Service) SearchTickers(ctx context.Context, query string) ([]TickerSummary, error) {
	if len(query) < 2 {
		return nil, nil
	}

	return fetch(ctx, s, "search", "search-"+query, SearchTTL, func() ([]TickerSummary, error) {
		return s.client.SearchTickers(ctx, query, 10)
	})
}

// TickerDetails returns the reference record for one symbol.
func (s *Service) TickerDetails(ctx context.Context, symbol string) (*TickerDetails, error) {
	return fetch(ctx, s, "reference", "ticker-details-"+symbol, ReferenceTTL, func() (*TickerDetails, error) {
		return s.client.GetTickerDetails(ctx, symbol)
	})
}

// TickerNews returns recent articles mentioning the symbol.
func (s *Service) TickerNews(ctx context.Context, symbol string, limit int) ([]NewsArticle, error) {
	key := fmt.Sprintf("news-%s-%d", symbol, limit)
	return fetch(ctx, s, "news", key, NewsTTL, func() ([]NewsArticle, error) {
		return s.client.GetNews(ctx, symbol, limit)
	})
}

// MarketNews returns recent market-wide articles.
func (s *Service) MarketNews(ctx context.Context, limit int) ([]NewsArticle, error) {
	key := fmt.Sprintf("news-market-%d", limit)
	return fetch(ctx, s, "news", key, NewsTTL, func() ([]NewsArticle, error) {
		return s.client.GetNews(ctx, "", limit)
	})
}

// MarketStatus returns the exchange open/closed snapshot. Failures
// degrade to a closed-market default so status widgets never error out.
func (s *Service) MarketStatus(ctx context.Context) (*MarketStatus, error) {
	status, err := fetch(ctx, s, "status", "market-status", StatusTTL, func() (*MarketStatus, error) {
		return s.client.GetMarketStatus(ctx)
	})
	if err != nil {
		logger.WithError(err).Warn("Market status unavailable, reporting closed")

		fallback := &MarketStatus{Market: "closed", ServerTime: time.Now().UTC().Format(time.RFC3339)}
		fallback.Exchanges.Nasdaq = "closed"
		fallback.Exchanges.NYSE = "closed"
		fallback.Exchanges.OTC = "closed"
		return fallback, nil
	}
	return status, nil
}
