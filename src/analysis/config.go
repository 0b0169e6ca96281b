package analysis

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	OpenRouterAPIKey  string `envconfig:"OPENROUTER_API_KEY" default:""`
	OpenRouterBaseURL string `envconfig:"OPENROUTER_BASE_URL" default:"https://openrouter.ai/api/v1"`
	// ChatModel answers advisory chat and text analysis prompts,
	// VisionModel handles chart screenshot analysis.
	ChatModel      string        `envconfig:"ANALYSIS_CHAT_MODEL" default:"perplexity/llama-3.1-sonar-huge-128k-online"`
	VisionModel    string        `envconfig:"ANALYSIS_VISION_MODEL" default:"meta-llama/llama-3.2-11b-vision-instruct:free"`
	RequestTimeout time.Duration `envconfig:"ANALYSIS_REQUEST_TIMEOUT" default:"30s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
