package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"papertrader/src/marketdata"
	"papertrader/src/model"
	"papertrader/src/repository"
)

// CacheDuration is how long a stored analysis stays valid. A read at or
// past this age is a miss and triggers recomputation.
const CacheDuration = 24 * time.Hour

// WatchedStocks are the symbols the background refresh keeps warm.
var WatchedStocks = []string{"AAPL", "MSFT", "GOOGL", "NVDA", "META"}

// Confidence is the per-dimension score block of an analysis. Overall is
// derived, never model-supplied.
type Confidence struct {
	Technical   int `json:"technical"`
	Fundamental int `json:"fundamental"`
	Sentiment   int `json:"sentiment"`
	Overall     int `json:"overall"`
}

// Insights carries the narrative bullet points of an analysis.
type Insights struct {
	KeyPoints []string `json:"key_points"`
	Risks     []string `json:"risks"`
}

// Analysis is the AI-derived outlook for one symbol.
type Analysis struct {
	Symbol         string     `json:"symbol"`
	Action         string     `json:"action"`
	Summary        string     `json:"summary"`
	Confidence     Confidence `json:"confidence"`
	Insights       Insights   `json:"insights"`
	SentimentTrend []int      `json:"sentiment_trend"`
	LastUpdated    string     `json:"last_updated"`
}

// llmResponse is the shape the analysis prompt asks the model for.
type llmResponse struct {
	Action     string `json:"action"`
	Summary    string `json:"summary"`
	Confidence struct {
		Technical   int `json:"technical"`
		Fundamental int `json:"fundamental"`
		Sentiment   int `json:"sentiment"`
	} `json:"confidence"`
	Insights Insights `json:"insights"`
}

type llm interface {
	SendMessage(ctx context.Context, conversation []ChatMessage) (string, error)
}

type market interface {
	TickerDetails(ctx context.Context, symbol string) (*marketdata.TickerDetails, error)
	PreviousClose(ctx context.Context, symbol string) (*marketdata.PreviousClose, error)
	TickerNews(ctx context.Context, symbol string, limit int) ([]marketdata.NewsArticle, error)
	MarketNews(ctx context.Context, limit int) ([]marketdata.NewsArticle, error)
}

type store interface {
	Get(ctx context.Context, symbol string) (*model.StockAnalysis, error)
	Put(ctx context.Context, entry *model.StockAnalysis) error
}

// Service computes and caches per-symbol stock analyses. Every failure
// mode degrades to a neutral placeholder instead of an error, so the
// advisory surface can never break a dashboard.
type Service struct {
	llm    llm
	market market
	store  store
	now    func() time.Time
}

func NewService(llm llm, market market, store store) *Service {
	return &Service{
		llm:    llm,
		market: market,
		store:  store,
		now:    time.Now,
	}
}

// DefaultService wires the production OpenRouter client and the durable
// analysis repository around the given market-data service.
func DefaultService(market *marketdata.Service) *Service {
	return NewService(NewOpenRouterClient(GetConfig()), market, repository.NewAnalysisRepository())
}

// Placeholder is the neutral analysis served whenever real computation
// is impossible. It is never written to the cache.
func Placeholder(symbol string, now time.Time) *Analysis {
	trend := make([]int, 10)
	for i := range trend {
		trend[i] = 50
	}

	return &Analysis{
		Symbol:  symbol,
		Action:  "Hold",
		Summary: fmt.Sprintf("%s analysis temporarily unavailable. Using cached data.", symbol),
		Confidence: Confidence{
			Technical:   50,
			Fundamental: 50,
			Sentiment:   50,
			Overall:     50,
		},
		Insights: Insights{
			KeyPoints: []string{
				"Real-time data temporarily unavailable",
				"Using historical analysis",
				"Consider waiting for live data",
			},
			Risks: []string{
				"Analysis based on cached data",
				"Market conditions may have changed",
			},
		},
		SentimentTrend: trend,
		LastUpdated:    now.UTC().Format(time.RFC3339),
	}
}

// AnalyzeStock returns the analysis for a symbol, serving the cached
// copy while it is younger than CacheDuration and recomputing otherwise.
func (s *Service) AnalyzeStock(ctx context.Context, symbol string) (*Analysis, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("empty symbol")
	}

	if cached := s.cachedAnalysis(ctx, symbol); cached != nil {
		return cached, nil
	}

	result, computed := s.compute(ctx, symbol)

	// Placeholders are served but never cached, so the next read retries
	// the real pipeline.
	if computed {
		if payload, err := json.Marshal(result); err == nil {
			entry := &model.StockAnalysis{
				Symbol:      symbol,
				Payload:     string(payload),
				GeneratedAt: s.now(),
			}
			if err := s.store.Put(ctx, entry); err != nil {
				logger.WithFields(map[string]interface{}{
					"component": "analysis",
					"symbol":    symbol,
				}).WithError(err).Warn("Failed to persist analysis")
			}
		}
	}

	return result, nil
}

// Suggestions analyzes every watched stock and returns the results
// sorted by overall confidence, best first.
func (s *Service) Suggestions(ctx context.Context) []*Analysis {
	analyses := make([]*Analysis, 0, len(WatchedStocks))
	for _, symbol := range WatchedStocks {
		a, err := s.AnalyzeStock(ctx, symbol)
		if err != nil {
			a = Placeholder(symbol, s.now())
		}
		analyses = append(analyses, a)
	}

	sort.SliceStable(analyses, func(i, j int) bool {
		return analyses[i].Confidence.Overall > analyses[j].Confidence.Overall
	})
	return analyses
}

// RefreshWatched recomputes every watched symbol whose cache entry has
// expired. Used by the background analyzer loop.
func (s *Service) RefreshWatched(ctx context.Context) {
	for _, symbol := range WatchedStocks {
		if _, err := s.AnalyzeStock(ctx, symbol); err != nil {
			logger.WithFields(map[string]interface{}{
				"component": "analysis",
				"symbol":    symbol,
			}).WithError(err).Warn("Watched-stock refresh failed")
		}
	}
}

func (s *Service) cachedAnalysis(ctx context.Context, symbol string) *Analysis {
	entry, err := s.store.Get(ctx, symbol)
	if err != nil || entry == nil {
		return nil
	}
	if s.now().Sub(entry.GeneratedAt) >= CacheDuration {
		return nil
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(entry.Payload), &analysis); err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "analysis",
			"symbol":    symbol,
		}).WithError(err).Warn("Discarding unreadable cached analysis")
		return nil
	}
	return &analysis
}

// compute runs the full pipeline. It never fails: missing essentials, a
// broken LLM, or an unparseable reply all collapse into the placeholder,
// reported by the second return value being false.
func (s *Service) compute(ctx context.Context, symbol string) (*Analysis, bool) {
	details, err := s.market.TickerDetails(ctx, symbol)
	if err != nil {
		details = nil
	}
	prev, err := s.market.PreviousClose(ctx, symbol)
	if err != nil {
		prev = nil
	}
	companyNews, err := s.market.TickerNews(ctx, symbol, 5)
	if err != nil {
		companyNews = nil
	}
	marketNews, err := s.market.MarketNews(ctx, 5)
	if err != nil {
		marketNews = nil
	}

	if details == nil || prev == nil {
		logger.WithFields(map[string]interface{}{
			"component": "analysis",
			"symbol":    symbol,
		}).Warn("Essential market data missing, serving placeholder analysis")
		return Placeholder(symbol, s.now()), false
	}

	priceChangePct := 0.0
	volatilityPct := 0.0
	if prev.Open != 0 {
		priceChangePct = (prev.Close - prev.Open) / prev.Open * 100
		volatilityPct = (prev.High - prev.Low) / prev.Open * 100
	}

	companyScore := s.sentimentScore(ctx, companyNews)
	marketScore := s.sentimentScore(ctx, marketNews)

	headlines := make([]string, 0, 2)
	for _, article := range companyNews {
		headlines = append(headlines, article.Title)
		if len(headlines) == 2 {
			break
		}
	}

	prompt := fmt.Sprintf(`Analyze %s (%s) trading outlook based on:

Price Action:
- Current: $%.2f
- Change: %.2f%%
- Volatility: %.2f%%

Market Context:
- Company Sentiment: %d/100
- Market Sentiment: %d/100
- Recent Headlines: %s

Provide analysis in JSON format:
{
  "action": "Buy/Sell/Hold",
  "summary": "Brief analysis",
  "confidence": {
    "technical": 0-100,
    "fundamental": 0-100,
    "sentiment": 0-100
  },
  "insights": {
    "key_points": ["3 key points"],
    "risks": ["2 risks"]
  }
}`, symbol, details.Name, prev.Close, priceChangePct, volatilityPct, companyScore, marketScore, strings.Join(headlines, " | "))

	reply, err := s.llm.SendMessage(ctx, []ChatMessage{{Role: "user", Content: prompt}})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "analysis",
			"symbol":    symbol,
		}).WithError(err).Warn("Analysis completion failed, serving placeholder")
		return Placeholder(symbol, s.now()), false
	}

	var parsed llmResponse
	if err := json.Unmarshal([]byte(extractJSON(reply)), &parsed); err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "analysis",
			"symbol":    symbol,
		}).WithError(err).Warn("Unparseable analysis reply, serving placeholder")
		return Placeholder(symbol, s.now()), false
	}

	overall := int(math.Round(
		float64(parsed.Confidence.Technical)*0.4 +
			float64(parsed.Confidence.Fundamental)*0.3 +
			float64(parsed.Confidence.Sentiment)*0.3))

	trend := make([]int, 10)
	for i := range trend {
		trend[i] = clampScore(companyScore)
	}

	return &Analysis{
		Symbol:  symbol,
		Action:  parsed.Action,
		Summary: parsed.Summary,
		Confidence: Confidence{
			Technical:   parsed.Confidence.Technical,
			Fundamental: parsed.Confidence.Fundamental,
			Sentiment:   parsed.Confidence.Sentiment,
			Overall:     overall,
		},
		Insights:       parsed.Insights,
		SentimentTrend: trend,
		LastUpdated:    s.now().UTC().Format(time.RFC3339),
	}, true
}

// sentimentScore asks the LLM for a 0-100 bullishness rating of the
// given articles. No articles or any failure means neutral 50.
func (s *Service) sentimentScore(ctx context.Context, articles []marketdata.NewsArticle) int {
	if len(articles) == 0 {
		return 50
	}

	var sb strings.Builder
	for i, article := range articles {
		if i == 5 {
			break
		}
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "Title: %s\nSummary: %s", article.Title, article.Description)
	}

	prompt := "Analyze the market sentiment from these news articles and return only a number between 0-100 representing bullish sentiment (100 = extremely bullish, 0 = extremely bearish).\n\nArticles:\n" + sb.String()

	reply, err := s.llm.SendMessage(ctx, []ChatMessage{{Role: "user", Content: prompt}})
	if err != nil {
		return 50
	}
	return parseScore(reply)
}

var scorePattern = regexp.MustCompile(`\d+`)

// parseScore pulls the first integer out of an LLM reply, clamped to
// 0-100. Anything unparseable is neutral.
func parseScore(reply string) int {
	match := scorePattern.FindString(reply)
	if match == "" {
		return 50
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 50
	}
	return clampScore(n)
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

// extractJSON trims anything around the outermost JSON object, since
// models habitually wrap replies in prose or code fences.
func extractJSON(reply string) string {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start == -1 || end == -1 || end < start {
		return reply
	}
	return reply[start : end+1]
}
