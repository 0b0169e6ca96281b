package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logger "github.com/sirupsen/logrus"

	"papertrader/src/auth"
	"papertrader/src/handler"
	"papertrader/src/marketdata"
	"papertrader/src/ws"
)

// NewRouter builds the full API surface with production wiring.
func NewRouter(hub *ws.Hub) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(auth.Middleware)

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/health error")
		}
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/webhooks/stripe", handler.DefaultStripeWebhookHandler())
	r.Get("/ws/quotes", hub.HandleWS)

	r.Route("/api", func(r chi.Router) {
		// Trading
		r.Post("/orders", handler.DefaultPlaceOrderHandler())
		r.Post("/orders/{id}/cancel", handler.DefaultCancelOrderHandler())
		r.Get("/portfolio", handler.DefaultPortfolioHandler())
		r.Post("/portfolio/reset", handler.DefaultResetPortfolioHandler())
		r.Get("/trades", handler.DefaultTradesHandler())

		// Market data
		r.Get("/market/prev-close/{symbol}", handler.DefaultPrevCloseHandler())
		r.Get("/market/bars/{symbol}", handler.DefaultBarsHandler())
		r.Get("/market/ticker/{symbol}", handler.DefaultTickerDetailsHandler())
		r.Get("/market/search", handler.DefaultSearchHandler())
		r.Get("/market/news", handler.DefaultNewsHandler())
		r.Get("/market/status", handler.DefaultMarketStatusHandler())

		// AI advisory
		r.Get("/analysis/suggestions", handler.DefaultSuggestionsHandler())
		r.Get("/analysis/{symbol}", handler.DefaultStockAnalysisHandler())
		r.Post("/chat", handler.DefaultChatHandler())
		r.Post("/chart-analysis", handler.DefaultChartAnalysisHandler())

		// Subscription
		r.Get("/subscription/status", handler.DefaultSubscriptionStatusHandler())
		r.Post("/subscription/checkout", handler.DefaultCheckoutHandler())
		r.Post("/subscription/cancel", handler.DefaultCancelSubscriptionHandler())
	})

	return r
}

func StartServer(port string) {
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()

	hub := ws.NewHub(marketdata.DefaultService())
	go func() {
		if err := hub.Run(hubCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("Quote hub stopped")
		}
	}()

	r := NewRouter(hub)

	// Graceful server
	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	// Shutdown on SIGINT or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	hubCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
