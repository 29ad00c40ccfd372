package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linanwx/supportbot/logger"
)

const (
	anthropicAPIBase         = "https://api.anthropic.com"
	anthropicDefaultMaxToken = 1024
)

func init() {
	RegisterProvider("anthropic", ProviderRegistration{
		Models:  []string{"claude-sonnet-4-5", "claude-haiku-4-5", "claude-opus-4-1"},
		EnvKey:  "ANTHROPIC_API_KEY",
		EnvBase: "ANTHROPIC_API_BASE",
		Constructor: func(s Settings) Gateway {
			return newAnthropicGateway(s)
		},
	})
}

// AnthropicGateway implements Gateway with the Anthropic Messages API. The
// API has no JSON mode, so the system prompt's JSON-only contract plus
// ParseToolCall enforce the shape.
type AnthropicGateway struct {
	modelName   string
	modelType   string
	maxTokens   int
	temperature float64
	client      anthropic.Client
}

func newAnthropicGateway(s Settings) *AnthropicGateway {
	modelName := s.ModelName
	if modelName == "" {
		modelName = s.ModelType
	}
	maxTokens := s.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxToken
	}
	client := anthropic.NewClient(
		anthropicoption.WithAPIKey(s.APIKey),
		anthropicoption.WithBaseURL(normalizeSDKBaseURL(s.APIBase, anthropicAPIBase, "/v1/messages")),
		anthropicoption.WithMaxRetries(0),
	)
	return &AnthropicGateway{
		modelName:   modelName,
		modelType:   s.ModelType,
		maxTokens:   maxTokens,
		temperature: s.Temperature,
		client:      client,
	}
}

// NextToolCall sends one Messages request and parses the tool call.
func (p *AnthropicGateway) NextToolCall(ctx context.Context, systemPrompt, transcript string) (*Decision, error) {
	start := time.Now()

	logger.Info(
		"gateway request",
		"provider", "anthropic",
		"modelType", p.modelType,
		"modelName", p.modelName,
		"inputChars", len(systemPrompt)+len(transcript),
		"estimatedInputTokens", EstimateTokens(systemPrompt)+EstimateTokens(transcript),
	)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.modelName),
		MaxTokens: int64(p.maxTokens),
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(transcript)),
		},
	}
	if p.temperature != 0 {
		params.Temperature = anthropic.Float(p.temperature)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		logger.Error("gateway request error", "provider", "anthropic", "err", err)
		return nil, fmt.Errorf("request failed: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	usage := &Usage{
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
		TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}

	logger.Info(
		"gateway response",
		"provider", "anthropic",
		"modelName", p.modelName,
		"stopReason", msg.StopReason,
		"promptTokens", usage.PromptTokens,
		"completionTokens", usage.CompletionTokens,
		"outputChars", text.Len(),
		"latencyMs", time.Since(start).Milliseconds(),
	)

	call, err := ParseToolCall(text.String())
	if err != nil {
		logger.Warn("gateway response rejected", "provider", "anthropic", "err", err)
		return nil, err
	}
	return &Decision{ToolCall: call, Usage: usage, Raw: text.String()}, nil
}
