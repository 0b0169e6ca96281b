package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// systemPrompt steers the chat model toward structured stock analysis
// answers the dashboard widgets can render directly.
const systemPrompt = `You are an AI trading assistant. For stock analysis requests, respond with a concise analysis in this exact format (no other text):
{
  "symbol": "STOCK_SYMBOL",
  "aiRating": "RATING_WITH_EMOJI",
  "summary": "BRIEF_OVERVIEW",
  "insights": [
    {
      "title": "Growth Potential",
      "icon": "🚀",
      "summary": "BRIEF_POINT",
      "details": "DETAILED_ANALYSIS"
    }
  ],
  "stats": {
    "sentiment": "Buy/Hold/Sell",
    "target": "PRICE_TARGET",
    "volatility": "Low/Medium/High",
    "volatilityValue": "PERCENTAGE"
  },
  "takeaways": {
    "pros": ["POINT1", "POINT2"],
    "cons": ["POINT1", "POINT2"]
  }
}`

const chartAnalysisPrompt = `You are an expert technical analyst. When analyzing trading chart screenshots, provide a detailed analysis in the following format:

{
  "patterns": {
    "identified": ["List key chart patterns found"],
    "description": "Detailed explanation of patterns",
    "significance": "What these patterns suggest"
  },
  "indicators": {
    "trendlines": "Description of major trend lines",
    "support_resistance": ["Key support and resistance levels"],
    "momentum": "Analysis of momentum indicators"
  },
  "signals": {
    "primary": "Main trading signal (Buy/Sell/Hold)",
    "strength": "Signal strength (1-10)",
    "timeframe": "Short/Medium/Long term outlook",
    "risk_level": "Low/Medium/High"
  },
  "keyLevels": {
    "support": ["List of support prices"],
    "resistance": ["List of resistance prices"],
    "targets": {
      "upside": "Price target if bullish",
      "downside": "Price target if bearish"
    }
  },
  "recommendation": {
    "action": "Clear trading recommendation",
    "entry": "Suggested entry points",
    "stopLoss": "Recommended stop loss",
    "rationale": "Brief explanation of recommendation"
  }
}`

// ChatMessage is one turn of an advisory conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenRouterClient talks to the OpenRouter chat-completions API. The
// endpoint is OpenAI-compatible, so the standard client is pointed at
// the OpenRouter base URL.
type OpenRouterClient struct {
	client      *openai.Client
	chatModel   string
	visionModel string
	timeout     time.Duration
}

func NewOpenRouterClient(cfg Config) *OpenRouterClient {
	clientConfig := openai.DefaultConfig(cfg.OpenRouterAPIKey)
	clientConfig.BaseURL = strings.TrimRight(cfg.OpenRouterBaseURL, "/")

	return &OpenRouterClient{
		client:      openai.NewClientWithConfig(clientConfig),
		chatModel:   cfg.ChatModel,
		visionModel: cfg.VisionModel,
		timeout:     cfg.RequestTimeout,
	}
}

// SendMessage runs an advisory conversation through the chat model and
// returns the assistant's reply. Analysis-style requests get a lower
// temperature so the structured JSON answer stays stable.
func (c *OpenRouterClient) SendMessage(ctx context.Context, conversation []ChatMessage) (string, error) {
	if len(conversation) == 0 {
		return "", fmt.Errorf("empty conversation")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, len(conversation)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, msg := range conversation {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	temperature := float32(0.7)
	last := strings.ToLower(conversation[len(conversation)-1].Content)
	if strings.Contains(last, "analysis") || strings.Contains(last, "analyze") {
		temperature = 0.3
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   1000,
	})
	if err != nil {
		return "", fmt.Errorf("openrouter completion failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty response from openrouter")
	}

	return resp.Choices[0].Message.Content, nil
}

// AnalyzeImage sends a base64-encoded chart screenshot through the
// vision model and returns the technical analysis text.
func (c *OpenRouterClient) AnalyzeImage(ctx context.Context, imageBase64 string) (string, error) {
	if imageBase64 == "" {
		return "", fmt.Errorf("empty image")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.visionModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: chartAnalysisPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: "Please analyze this trading chart and provide technical analysis:",
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: "data:image/jpeg;base64," + imageBase64,
						},
					},
				},
			},
		},
		Temperature: 0.2,
		MaxTokens:   1500,
	})
	if err != nil {
		return "", fmt.Errorf("chart analysis failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty response from openrouter")
	}

	return resp.Choices[0].Message.Content, nil
}
