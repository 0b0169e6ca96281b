package subscription

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY" default:""`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET" default:""`
	StripeBaseURL       string `envconfig:"STRIPE_BASE_URL" default:"https://api.stripe.com"`
	// DefaultPriceID is used when a checkout request does not name one.
	DefaultPriceID string        `envconfig:"STRIPE_PRICE_ID" default:""`
	RequestTimeout time.Duration `envconfig:"STRIPE_REQUEST_TIMEOUT" default:"15s"`
	// WebhookTolerance bounds how old a signed webhook timestamp may be.
	WebhookTolerance time.Duration `envconfig:"STRIPE_WEBHOOK_TOLERANCE" default:"5m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
