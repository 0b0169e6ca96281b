package analyzer

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"papertrader/src/analysis"
	"papertrader/src/database"
	"papertrader/src/marketdata"
)

type Analyzer struct{}

// Start runs the watched-stock refresh loop until interrupted. Each tick
// recomputes only the symbols whose cached analysis has expired.
func (a *Analyzer) Start() error {
	config := GetConfig()
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to main database")
		return err
	}

	svc := analysis.DefaultService(marketdata.DefaultService())

	logrus.WithField("symbols", analysis.WatchedStocks).Info("Starting watched-stock analyzer")

	// Warm the cache before the first tick.
	svc.RefreshWatched(ctx)

	ticker := time.NewTicker(config.RefreshPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Println("loop stopped")
			return nil

		case <-ticker.C:
			logrus.Info("loop tick")
			svc.RefreshWatched(ctx)
		}
	}
}
