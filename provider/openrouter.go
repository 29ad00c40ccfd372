package provider

const (
	openRouterAPIBase = "https://openrouter.ai/api/v1"
	deepSeekAPIBase   = "https://api.deepseek.com/v1"
)

// OpenRouter and DeepSeek speak the OpenAI chat completions dialect, including
// response_format=json_object, so they share OpenAIGateway.
func init() {
	RegisterProvider("openrouter", ProviderRegistration{
		Models: []string{
			"openai/gpt-4o-mini",
			"anthropic/claude-sonnet-4.5",
			"moonshotai/kimi-k2.5",
			"google/gemini-2.5-flash",
		},
		EnvKey:  "OPENROUTER_API_KEY",
		EnvBase: "OPENROUTER_API_BASE",
		Constructor: func(s Settings) Gateway {
			return newOpenAIGateway("openrouter", openRouterAPIBase, s)
		},
	})

	RegisterProvider("deepseek", ProviderRegistration{
		Models:  []string{"deepseek-chat"},
		EnvKey:  "DEEPSEEK_API_KEY",
		EnvBase: "DEEPSEEK_API_BASE",
		Constructor: func(s Settings) Gateway {
			return newOpenAIGateway("deepseek", deepSeekAPIBase, s)
		},
	})
}
