// Package provider defines the LLM gateway interface and its model backends.
package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Gateway asks a language model for the next tool call.
type Gateway interface {
	// NextToolCall sends exactly one request carrying the system prompt and
	// the rendered transcript, and returns the model's single tool call.
	NextToolCall(ctx context.Context, systemPrompt, transcript string) (*Decision, error)
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, systemPrompt, transcript string) (*Decision, error)

// NextToolCall calls f.
func (f GatewayFunc) NextToolCall(ctx context.Context, systemPrompt, transcript string) (*Decision, error) {
	return f(ctx, systemPrompt, transcript)
}

// ToolCall is the model's structural decision for one loop iteration.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Decision is a parsed tool call plus optional usage counters.
type Decision struct {
	ToolCall ToolCall
	Usage    *Usage
	Raw      string // provider text the tool call was parsed from
}

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Settings configure one gateway instance.
type Settings struct {
	APIKey      string
	APIBase     string
	ModelType   string
	ModelName   string // optional, defaults to ModelType
	MaxTokens   int
	Temperature float64
}

// ProviderConstructor builds a gateway for the requested model settings.
type ProviderConstructor func(s Settings) Gateway

// ProviderRegistration defines metadata and constructor for a provider.
type ProviderRegistration struct {
	Models      []string
	EnvKey      string
	EnvBase     string
	Constructor ProviderConstructor
}

// supportedModelTypes is the whitelist of supported model types.
var supportedModelTypes = map[string]bool{}

// providerModelTypes maps providers to their supported model types.
var providerModelTypes = map[string][]string{}

var providerRegistry = map[string]ProviderRegistration{}

// RegisterProvider registers provider metadata and constructor.
func RegisterProvider(name string, reg ProviderRegistration) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}

	models := make([]string, 0, len(reg.Models))
	for _, model := range reg.Models {
		model = strings.TrimSpace(model)
		if model == "" {
			continue
		}
		models = append(models, model)
		supportedModelTypes[model] = true
	}

	reg.Models = models
	reg.EnvKey = strings.TrimSpace(reg.EnvKey)
	reg.EnvBase = strings.TrimSpace(reg.EnvBase)
	providerRegistry[name] = reg
	providerModelTypes[name] = append([]string(nil), models...)
}

// SupportedProviders returns all supported provider names in sorted order.
func SupportedProviders() []string {
	names := make([]string, 0, len(providerModelTypes))
	for name := range providerModelTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SupportedModelsForProvider returns supported model types for the given provider.
func SupportedModelsForProvider(providerName string) []string {
	models, ok := providerModelTypes[providerName]
	if !ok {
		return nil
	}
	out := make([]string, len(models))
	copy(out, models)
	return out
}

// ValidateProviderModelType checks if a model type is valid for a provider.
func ValidateProviderModelType(providerName, modelType string) error {
	if !supportedModelTypes[modelType] {
		return errors.New("unsupported model type: " + modelType)
	}

	allowed, ok := providerModelTypes[providerName]
	if !ok {
		return errors.New("unknown provider: " + providerName)
	}

	for _, m := range allowed {
		if m == modelType {
			return nil
		}
	}

	return errors.New("model type " + modelType + " is not supported by provider " + providerName)
}

// New builds a gateway for a registered provider. Empty APIKey/APIBase fall
// back to the provider's environment variables.
func New(providerName string, s Settings) (Gateway, error) {
	reg, ok := providerRegistry[providerName]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", providerName)
	}
	if s.APIKey == "" && reg.EnvKey != "" {
		s.APIKey = os.Getenv(reg.EnvKey)
	}
	if s.APIBase == "" && reg.EnvBase != "" {
		s.APIBase = os.Getenv(reg.EnvBase)
	}
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, fmt.Errorf("provider %s: api key not configured (set %s)", providerName, reg.EnvKey)
	}
	if strings.TrimSpace(s.ModelType) == "" {
		return nil, fmt.Errorf("provider %s: model type is required", providerName)
	}
	return reg.Constructor(s), nil
}

// EnvKeyFor returns the environment variable holding the provider's API key.
func EnvKeyFor(providerName string) string {
	return providerRegistry[providerName].EnvKey
}

func normalizeSDKBaseURL(apiBase, defaultBase, endpointSuffix string) string {
	base := strings.TrimSpace(apiBase)
	if base == "" {
		base = defaultBase
	}
	base = strings.TrimRight(base, "/")
	// Users sometimes paste the full endpoint; the SDKs append it themselves.
	if endpointSuffix != "" {
		base = strings.TrimSuffix(base, endpointSuffix)
	}
	return base
}
