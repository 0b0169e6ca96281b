package marketdata

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	PolygonAPIKey  string        `envconfig:"POLYGON_API_KEY" default:""`
	PolygonBaseURL string        `envconfig:"POLYGON_BASE_URL" default:"https://api.polygon.io"`
	RequestTimeout time.Duration `envconfig:"POLYGON_REQUEST_TIMEOUT" default:"15s"`
	// MinInterval spaces upstream dispatches to respect the provider's
	// rate limit.
	MinInterval time.Duration `envconfig:"POLYGON_MIN_INTERVAL" default:"200ms"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
