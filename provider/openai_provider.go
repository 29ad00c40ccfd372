package provider

import (
	"context"
	"fmt"
	"time"

	openai "github.com/openai/openai-go/v3"
	oaioption "github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/linanwx/supportbot/logger"
)

const (
	openAIAPIBase = "https://api.openai.com/v1"
)

func init() {
	RegisterProvider("openai", ProviderRegistration{
		Models:  []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini", "gpt-5.2"},
		EnvKey:  "OPENAI_API_KEY",
		EnvBase: "OPENAI_API_BASE",
		Constructor: func(s Settings) Gateway {
			return newOpenAIGateway("openai", openAIAPIBase, s)
		},
	})
}

// OpenAIGateway implements Gateway over any OpenAI-compatible chat
// completions endpoint, forcing a single JSON object response.
type OpenAIGateway struct {
	providerName string
	apiBase      string
	modelName    string
	modelType    string
	maxTokens    int
	temperature  float64
	client       openai.Client
}

func newOpenAIGateway(providerName, defaultBase string, s Settings) *OpenAIGateway {
	modelName := s.ModelName
	if modelName == "" {
		modelName = s.ModelType
	}
	baseURL := normalizeSDKBaseURL(s.APIBase, defaultBase, "/chat/completions")
	client := openai.NewClient(
		oaioption.WithAPIKey(s.APIKey),
		oaioption.WithBaseURL(baseURL),
		// One NextToolCall is exactly one request; callers own retries.
		oaioption.WithMaxRetries(0),
	)

	return &OpenAIGateway{
		providerName: providerName,
		apiBase:      baseURL,
		modelName:    modelName,
		modelType:    s.ModelType,
		maxTokens:    s.MaxTokens,
		temperature:  s.Temperature,
		client:       client,
	}
}

// NextToolCall sends one chat completion request and parses the tool call.
func (p *OpenAIGateway) NextToolCall(ctx context.Context, systemPrompt, transcript string) (*Decision, error) {
	start := time.Now()

	logger.Info(
		"gateway request",
		"provider", p.providerName,
		"modelType", p.modelType,
		"modelName", p.modelName,
		"inputChars", len(systemPrompt)+len(transcript),
		"estimatedInputTokens", EstimateTokens(systemPrompt)+EstimateTokens(transcript),
	)

	chatReq := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.modelName),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(transcript),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	if p.maxTokens > 0 {
		chatReq.MaxTokens = openai.Int(int64(p.maxTokens))
	}
	if p.temperature != 0 {
		chatReq.Temperature = openai.Float(p.temperature)
	}

	chatResp, err := p.client.Chat.Completions.New(ctx, chatReq)
	if err != nil {
		logger.Error("gateway request error", "provider", p.providerName, "err", err)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		logger.Error("gateway no choices", "provider", p.providerName)
		return nil, fmt.Errorf("no choices in response")
	}

	choice := chatResp.Choices[0]
	usage := &Usage{
		PromptTokens:     int(chatResp.Usage.PromptTokens),
		CompletionTokens: int(chatResp.Usage.CompletionTokens),
		TotalTokens:      int(chatResp.Usage.TotalTokens),
	}

	logger.Info(
		"gateway response",
		"provider", p.providerName,
		"modelName", p.modelName,
		"finishReason", choice.FinishReason,
		"promptTokens", usage.PromptTokens,
		"completionTokens", usage.CompletionTokens,
		"totalTokens", usage.TotalTokens,
		"outputChars", len(choice.Message.Content),
		"latencyMs", time.Since(start).Milliseconds(),
	)

	call, err := ParseToolCall(choice.Message.Content)
	if err != nil {
		logger.Warn("gateway response rejected", "provider", p.providerName, "err", err)
		return nil, err
	}
	return &Decision{ToolCall: call, Usage: usage, Raw: choice.Message.Content}, nil
}
