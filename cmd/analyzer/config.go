package analyzer

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// RefreshPeriod is how often the watched-stock analyses are checked
	// for expiry. Expiry itself is the analysis cache window; polling
	// more often than hourly only costs cache reads.
	RefreshPeriod time.Duration `envconfig:"ANALYZER_REFRESH_PERIOD" default:"1h"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
