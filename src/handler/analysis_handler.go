package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"papertrader/src/analysis"
	"papertrader/src/auth"
	"papertrader/src/marketdata"
	"papertrader/src/subscription"
)

type analyzer interface {
	AnalyzeStock(ctx context.Context, symbol string) (*analysis.Analysis, error)
	Suggestions(ctx context.Context) []*analysis.Analysis
}

type advisoryLLM interface {
	SendMessage(ctx context.Context, conversation []analysis.ChatMessage) (string, error)
	AnalyzeImage(ctx context.Context, imageBase64 string) (string, error)
}

type entitlementChecker interface {
	IsEntitled(ctx context.Context, email string) (bool, error)
}

// StockAnalysisHandler serves the cached-or-computed analysis for one
// symbol. The analysis service degrades internally, so this only fails
// on bad input.
func StockAnalysisHandler(svc analyzer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := chi.URLParam(r, "symbol")
		if symbol == "" {
			writeError(w, http.StatusBadRequest, "symbol is required")
			return
		}

		result, err := svc.AnalyzeStock(r.Context(), symbol)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

// SuggestionsHandler serves the watched-stock analyses ranked by overall
// confidence.
func SuggestionsHandler(svc analyzer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Suggestions(r.Context()))
	}
}

type chatRequest struct {
	Messages []analysis.ChatMessage `json:"messages"`
}

// ChatHandler relays an advisory conversation to the chat model.
func ChatHandler(llm advisoryLLM) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			writeError(w, http.StatusBadRequest, "messages are required")
			return
		}

		reply, err := llm.SendMessage(r.Context(), req.Messages)
		if err != nil {
			logger.WithError(err).Error("chat completion failed")
			writeError(w, http.StatusBadGateway, "chat is temporarily unavailable")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
	}
}

type chartAnalysisRequest struct {
	Image string `json:"image"`
}

// ChartAnalysisHandler runs a chart screenshot through the vision model.
// Premium only: anonymous callers get 401, unentitled ones 402.
func ChartAnalysisHandler(llm advisoryLLM, entitlements entitlementChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		entitled, err := entitlements.IsEntitled(r.Context(), user.Email)
		if err != nil {
			logger.WithError(err).Error("entitlement check failed")
			writeError(w, http.StatusInternalServerError, "entitlement check failed")
			return
		}
		if !entitled {
			writeError(w, http.StatusPaymentRequired, "chart analysis requires an active subscription")
			return
		}

		var req chartAnalysisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Image == "" {
			writeError(w, http.StatusBadRequest, "image is required")
			return
		}

		result, err := llm.AnalyzeImage(r.Context(), req.Image)
		if err != nil {
			logger.WithError(err).Error("chart analysis failed")
			writeError(w, http.StatusBadGateway, "chart analysis is temporarily unavailable")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"analysis": result})
	}
}

func DefaultStockAnalysisHandler() http.HandlerFunc {
	return StockAnalysisHandler(analysis.DefaultService(marketdata.DefaultService()))
}

func DefaultSuggestionsHandler() http.HandlerFunc {
	return SuggestionsHandler(analysis.DefaultService(marketdata.DefaultService()))
}

func DefaultChatHandler() http.HandlerFunc {
	return ChatHandler(analysis.NewOpenRouterClient(analysis.GetConfig()))
}

func DefaultChartAnalysisHandler() http.HandlerFunc {
	return ChartAnalysisHandler(analysis.NewOpenRouterClient(analysis.GetConfig()), subscription.DefaultService())
}
