package marketdata

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

// -----------------------------
// TYPES
// -----------------------------

// PreviousClose is the prior trading day's OHLCV aggregate for a symbol.
type PreviousClose struct {
	Symbol string  `json:"T"`
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
	VWAP   float64 `json:"vw"`
	Time   int64   `json:"t"`
}

// Bar is one aggregate in a daily (or intraday) series.
type Bar struct {
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
	VWAP   float64 `json:"vw"`
	Time   int64   `json:"t"`
}

// TickerSummary is one ticker-search result.
type TickerSummary struct {
	Ticker          string `json:"ticker"`
	Name            string `json:"name"`
	Market          string `json:"market"`
	PrimaryExchange string `json:"primary_exchange"`
	Type            string `json:"type"`
	Active          bool   `json:"active"`
	CurrencyName    string `json:"currency_name"`
}

// TickerDetails is the reference record for one symbol.
type TickerDetails struct {
	Ticker          string  `json:"ticker"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	MarketCap       float64 `json:"market_cap"`
	HomepageURL     string  `json:"homepage_url"`
	PrimaryExchange string  `json:"primary_exchange"`
	TotalEmployees  int64   `json:"total_employees"`
	ListDate        string  `json:"list_date"`
}

// NewsPublisher identifies the source of a news article.
type NewsPublisher struct {
	Name        string `json:"name"`
	HomepageURL string `json:"homepage_url"`
	LogoURL     string `json:"logo_url"`
}

// NewsArticle is one news item with publisher and ticker metadata.
type NewsArticle struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Publisher    NewsPublisher `json:"publisher"`
	Tickers      []string      `json:"tickers"`
	PublishedUTC string        `json:"published_utc"`
	ArticleURL   string        `json:"article_url"`
	ImageURL     string        `json:"image_url"`
}

// MarketStatus is the exchange open/closed snapshot.
type MarketStatus struct {
	AfterHours bool   `json:"afterHours"`
	EarlyHours bool   `json:"earlyHours"`
	Market     string `json:"market"`
	ServerTime string `json:"serverTime"`
	Exchanges  struct {
		Nasdaq string `json:"nasdaq"`
		NYSE   string `json:"nyse"`
		OTC    string `json:"otc"`
	} `json:"exchanges"`
}

// apiEnvelope is the provider's standard response wrapper.
type apiEnvelope[T any] struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
	Count     int    `json:"count"`
	Results   T      `json:"results"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
}

// -----------------------------
// ERRORS
// -----------------------------

const (
	ErrCodeRateLimit    = "RATE_LIMIT"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeNotFound     = "NOT_FOUND"
)

// PolygonError is a typed upstream failure. RateLimited errors are
// retried by the request queue; everything else surfaces to the caller.
type PolygonError struct {
	Status  int
	Code    string
	Message string
}

func (e *PolygonError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("polygon: %s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("polygon: status %d: %s", e.Status, e.Message)
}

func (e *PolygonError) RateLimited() bool {
	return e.Status == 429
}

func newPolygonError(status int, message string) *PolygonError {
	err := &PolygonError{Status: status, Message: message}
	switch status {
	case 429:
		err.Code = ErrCodeRateLimit
		err.Message = "Rate limit exceeded. Please try again later."
	case 403:
		err.Code = ErrCodeUnauthorized
		err.Message = "API key invalid or unauthorized access."
	case 404:
		err.Code = ErrCodeNotFound
		err.Message = "Resource not found."
	}
	return err
}

// -----------------------------
// CLIENT
// -----------------------------

// PolygonClient is the raw REST client for the market-data provider.
// Callers should go through Service, which adds caching and dispatch
// pacing; the client itself performs one request per call.
type PolygonClient struct {
	http *resty.Client
}

func NewPolygonClient(cfg Config) *PolygonClient {
	baseURL := strings.TrimRight(cfg.PolygonBaseURL, "/")

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.RequestTimeout).
		SetQueryParam("apiKey", cfg.PolygonAPIKey).
		SetHeader("Authorization", "Bearer "+cfg.PolygonAPIKey)

	return &PolygonClient{http: httpClient}
}

// WithHTTP overrides the underlying resty client. Useful for tests.
func (c *PolygonClient) WithHTTP(http *resty.Client) *PolygonClient {
	return &PolygonClient{http: http}
}

func checkResponse(resp *resty.Response, apiErr, apiMsg string) error {
	if !resp.IsError() {
		return nil
	}

	message := apiErr
	if message == "" {
		message = apiMsg
	}
	if message == "" {
		message = resp.Status()
	}

	logger.WithFields(map[string]interface{}{
		"component": "polygon",
		"status":    resp.StatusCode(),
		"url":       resp.Request.URL,
	}).Warn("Upstream returned an error")

	return newPolygonError(resp.StatusCode(), message)
}

// GetPreviousClose fetches the prior day's OHLCV aggregate.
func (c *PolygonClient) GetPreviousClose(ctx context.Context, symbol string) (*PreviousClose, error) {
	var env apiEnvelope[[]PreviousClose]

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("adjusted", "true").
		SetResult(&env).
		SetError(&env).
		Get(fmt.Sprintf("/v2/aggs/ticker/%s/prev", symbol))
	if err != nil {
		return nil, fmt.Errorf("previous close request: %w", err)
	}
	if err := checkResponse(resp, env.Error, env.Message); err != nil {
		return nil, err
	}
	if len(env.Results) == 0 {
		return nil, newPolygonError(404, fmt.Sprintf("no previous close for %s", symbol))
	}

	return &env.Results[0], nil
}

// GetDailyBars fetches an aggregate series between two dates (YYYY-MM-DD).
func (c *PolygonClient) GetDailyBars(ctx context.Context, symbol, from, to string, limit int) ([]Bar, error) {
	if limit <= 0 {
		limit = 365
	}

	var env apiEnvelope[[]Bar]

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"adjusted": "true",
			"sort":     "asc",
			"limit":    strconv.Itoa(limit),
		}).
		SetResult(&env).
		SetError(&env).
		Get(fmt.Sprintf("/v2/aggs/ticker/%s/range/1/day/%s/%s", symbol, from, to))
	if err != nil {
		return nil, fmt.Errorf("daily bars request: %w", err)
	}
	if err := checkResponse(resp, env.Error, env.Message); err != nil {
		return nil, err
	}

	return env.Results, nil
}

// SearchTickers looks up active stock tickers matching the query.
func (c *PolygonClient) SearchTickers(ctx context.Context, query string, limit int) ([]TickerSummary, error) {
	if limit <= 0 {
		limit = 10
	}

	var env apiEnvelope[[]TickerSummary]

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"search": query,
			"active": "true",
			"sort":   "ticker",
			"order":  "asc",
			"market": "stocks",
			"limit":  strconv.Itoa(limit),
		}).
		SetResult(&env).
		SetError(&env).
		Get("/v3/reference/tickers")
	if err != nil {
		return nil, fmt.Errorf("ticker search request: %w", err)
	}
	if err := checkResponse(resp, env.Error, env.Message); err != nil {
		return nil, err
	}

	return env.Results, nil
}

// GetTickerDetails fetches the reference record for one symbol.
func (c *PolygonClient) GetTickerDetails(ctx context.Context, symbol string) (*TickerDetails, error) {
	var env apiEnvelope[TickerDetails]

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&env).
		SetError(&env).
		Get("/v3/reference/tickers/" + symbol)
	if err != nil {
		return nil, fmt.Errorf("ticker details request: %w", err)
	}
	if err := checkResponse(resp, env.Error, env.Message); err != nil {
		return nil, err
	}

	return &env.Results, nil
}

// GetNews fetches recent news, optionally restricted to one ticker.
func (c *PolygonClient) GetNews(ctx context.Context, symbol string, limit int) ([]NewsArticle, error) {
	if limit <= 0 {
		limit = 10
	}

	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(limit))
	if symbol != "" {
		req.SetQueryParam("ticker", symbol)
	}

	var env apiEnvelope[[]NewsArticle]

	resp, err := req.SetResult(&env).SetError(&env).Get("/v2/reference/news")
	if err != nil {
		return nil, fmt.Errorf("news request: %w", err)
	}
	if err := checkResponse(resp, env.Error, env.Message); err != nil {
		return nil, err
	}

	return env.Results, nil
}

// GetMarketStatus fetches the current exchange open/closed state.
// This endpoint is not wrapped in the standard envelope.
func (c *PolygonClient) GetMarketStatus(ctx context.Context) (*MarketStatus, error) {
	var status MarketStatus

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&status).
		Get("/v1/marketstatus/now")
	if err != nil {
		return nil, fmt.Errorf("market status request: %w", err)
	}
	if err := checkResponse(resp, "", ""); err != nil {
		return nil, err
	}

	return &status, nil
}
