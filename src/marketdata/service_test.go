package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	prevCloseCalls int
	prevClose      *PreviousClose
	prevCloseErr   error

	searchCalls int
	search      []TickerSummary

	statusErr error
	status    *MarketStatus
}

func (f *fakeProvider) GetPreviousClose(ctx context.Context, symbol string) (*PreviousClose, error) {
	f.prevCloseCalls++
	if f.prevCloseErr != nil {
		return nil, f.prevCloseErr
	}
	return f.prevClose, nil
}

func (f *fakeProvider) GetDailyBars(ctx context.Context, symbol, from, to string, limit int) ([]Bar, error) {
	return nil, nil
}

func (f *fakeProvider) SearchTickers(ctx context.Context, query string, limit int) ([]TickerSummary, error) {
	f.searchCalls++
	return f.search, nil
}

func (f *fakeProvider) GetTickerDetails(ctx context.Context, symbol string) (*TickerDetails, error) {
	return &TickerDetails{Ticker: symbol}, nil
}

func (f *fakeProvider) GetNews(ctx context.Context, symbol string, limit int) ([]NewsArticle, error) {
	return nil, nil
}

func (f *fakeProvider) GetMarketStatus(ctx context.Context) (*MarketStatus, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.status, nil
}

func TestPreviousCloseCachedBetweenCalls(t *testing.T) {
	upstream := &fakeProvider{prevClose: &PreviousClose{Symbol: "AAPL", Close: 187.44}}
	svc := NewService(upstream, time.Millisecond)

	first, err := svc.PreviousClose(context.Background(), "AAPL")
	require.NoError(t, err)

	second, err := svc.PreviousClose(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, upstream.prevCloseCalls, "second read must be served from cache")
}

func TestPreviousCloseStaleFallback(t *testing.T) {
	upstream := &fakeProvider{prevClose: &PreviousClose{Symbol: "MSFT", Close: 412.10}}
	svc := NewService(upstream, time.Millisecond)

	now := time.Now()
	svc.cache.now = func() time.Time { return now }

	_, err := svc.PreviousClose(context.Background(), "MSFT")
	require.NoError(t, err)

	// Expire the entry, then break the upstream.
	now = now.Add(SnapshotTTL + time.Second)
	upstream.prevCloseErr = &PolygonError{Status: 429, Code: ErrCodeRateLimit}

	prev, err := svc.PreviousClose(context.Background(), "MSFT")
	require.NoError(t, err, "stale data must be served instead of the error")
	assert.Equal(t, 412.10, prev.Close)
}

func TestPreviousCloseErrorWithoutStaleData(t *testing.T) {
	upstream := &fakeProvider{prevCloseErr: &PolygonError{Status: 404, Code: ErrCodeNotFound}}
	svc := NewService(upstream, time.Millisecond)

	_, err := svc.PreviousClose(context.Background(), "ZZZZ")
	require.Error(t, err)
}

func TestCurrentPriceFromPreviousClose(t *testing.T) {
	upstream := &fakeProvider{prevClose: &PreviousClose{Symbol: "NVDA", Close: 131.26}}
	svc := NewService(upstream, time.Millisecond)

	price, err := svc.CurrentPrice(context.Background(), "NVDA")
	require.NoError(t, err)
	assert.Equal(t, "131.26", price.String())
}

func TestCurrentPriceRejectsNonPositiveClose(t *testing.T) {
	upstream := &fakeProvider{prevClose: &PreviousClose{Symbol: "HALT", Close: 0}}
	svc := NewService(upstream, time.Millisecond)

	_, err := svc.CurrentPrice(context.Background(), "HALT")
	require.Error(t, err)
}

func TestSearchTickersShortQuerySkipsUpstream(t *testing.T) {
	upstream := &fakeProvider{search: []TickerSummary{{Ticker: "AAPL"}}}
	svc := NewService(upstream, time.Millisecond)

	results, err := svc.SearchTickers(context.Background(), "a")
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 0, upstream.searchCalls)

	results, err = svc.SearchTickers(context.Background(), "aa")
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, 1, upstream.searchCalls)
}

func TestMarketStatusDefaultsToClosed(t *testing.T) {
	upstream := &fakeProvider{statusErr: &PolygonError{Status: 500, Message: "upstream down"}}
	svc := NewService(upstream, time.Millisecond)

	status, err := svc.MarketStatus(context.Background())
	require.NoError(t, err, "status failures degrade to closed, never error")
	assert.Equal(t, "closed", status.Market)
	assert.Equal(t, "closed", status.Exchanges.Nasdaq)
	assert.Equal(t, "closed", status.Exchanges.NYSE)
	assert.Equal(t, "closed", status.Exchanges.OTC)
}

func TestMarketStatusPassesThroughOpenMarket(t *testing.T) {
	open := &MarketStatus{Market: "open"}
	open.Exchanges.Nasdaq = "open"
	upstream := &fakeProvider{status: open}
	svc := NewService(upstream, time.Millisecond)

	status, err := svc.MarketStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "open", status.Market)
}
