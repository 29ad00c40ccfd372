package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRequiresKnownProviderAndKey(t *testing.T) {
	if _, err := New("nope", Settings{APIKey: "k", ModelType: "m"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}

	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", Settings{ModelType: "gpt-4o-mini"}); err == nil {
		t.Fatal("expected error for missing api key")
	}

	t.Setenv("OPENAI_API_KEY", "env-key")
	g, err := New("openai", Settings{ModelType: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("New with env key: %v", err)
	}
	if _, ok := g.(*OpenAIGateway); !ok {
		t.Fatalf("gateway type = %T, want *OpenAIGateway", g)
	}
}

func TestSupportedProviders(t *testing.T) {
	got := strings.Join(SupportedProviders(), ",")
	for _, name := range []string{"anthropic", "deepseek", "openai", "openrouter"} {
		if !strings.Contains(got, name) {
			t.Errorf("SupportedProviders() = %s, missing %s", got, name)
		}
	}
	if err := ValidateProviderModelType("openai", "gpt-4o-mini"); err != nil {
		t.Errorf("ValidateProviderModelType: %v", err)
	}
	if err := ValidateProviderModelType("deepseek", "gpt-4o-mini"); err == nil {
		t.Error("expected cross-provider model to be rejected")
	}
}

func TestNormalizeSDKBaseURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", openAIAPIBase},
		{"https://proxy.local/v1/", "https://proxy.local/v1"},
		{"https://proxy.local/v1/chat/completions", "https://proxy.local/v1"},
	}
	for _, tt := range tests {
		if got := normalizeSDKBaseURL(tt.in, openAIAPIBase, "/chat/completions"); got != tt.want {
			t.Errorf("normalizeSDKBaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestOpenAIGatewayRequestBody intercepts the request the openai-go SDK sends
// and checks that JSON mode and both prompts are present.
func TestOpenAIGatewayRequestBody(t *testing.T) {
	var captured map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
			w.WriteHeader(500)
			return
		}
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("parse body: %v", err)
			w.WriteHeader(500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "test-id",
			"object":  "chat.completion",
			"created": 1234567890,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{
				{
					"index": 0,
					"message": map[string]any{
						"role":    "assistant",
						"content": `{"name":"update_thread_urgency","args":{"urgency":"high"}}`,
					},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]any{
				"prompt_tokens":     40,
				"completion_tokens": 12,
				"total_tokens":      52,
			},
		})
	}))
	defer server.Close()

	g := newOpenAIGateway("openai", openAIAPIBase, Settings{
		APIKey:    "test-key",
		APIBase:   server.URL,
		ModelType: "gpt-4o-mini",
		MaxTokens: 256,
	})

	decision, err := g.NextToolCall(context.Background(), "SYSTEM", "TRANSCRIPT")
	if err != nil {
		t.Fatalf("NextToolCall: %v", err)
	}
	if decision.ToolCall.Name != "update_thread_urgency" {
		t.Errorf("tool = %q", decision.ToolCall.Name)
	}
	if decision.ToolCall.Args["urgency"] != "high" {
		t.Errorf("args = %v", decision.ToolCall.Args)
	}
	if decision.Usage == nil || decision.Usage.TotalTokens != 52 {
		t.Errorf("usage = %+v", decision.Usage)
	}

	format, _ := captured["response_format"].(map[string]any)
	if format["type"] != "json_object" {
		t.Errorf("response_format = %v, want json_object", captured["response_format"])
	}
	msgs, _ := captured["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	first, _ := msgs[0].(map[string]any)
	if first["role"] != "system" {
		t.Errorf("first role = %v, want system", first["role"])
	}
	if captured["model"] != "gpt-4o-mini" {
		t.Errorf("model = %v", captured["model"])
	}
}

func TestOpenAIGatewayRejectsProse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "test-id",
			"object":  "chat.completion",
			"created": 1234567890,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{
				{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": "Sure, I'll escalate."},
					"finish_reason": "stop",
				},
			},
		})
	}))
	defer server.Close()

	g := newOpenAIGateway("openai", openAIAPIBase, Settings{APIKey: "k", APIBase: server.URL, ModelType: "gpt-4o-mini"})
	_, err := g.NextToolCall(context.Background(), "s", "t")
	if !errors.Is(err, ErrResponseNotJSON) {
		t.Fatalf("err = %v, want ErrResponseNotJSON", err)
	}
}

func TestOpenAIGatewayTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	g := newOpenAIGateway("openai", openAIAPIBase, Settings{APIKey: "k", APIBase: server.URL, ModelType: "gpt-4o-mini"})
	_, err := g.NextToolCall(context.Background(), "s", "t")
	if err == nil {
		t.Fatal("expected transport error")
	}
	if errors.Is(err, ErrResponseNotJSON) || errors.Is(err, ErrSchemaValidation) {
		t.Fatalf("transport error misclassified: %v", err)
	}
}

func TestAnthropicGatewayRequestBody(t *testing.T) {
	var (
		captured map[string]any
		path     string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("parse body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "msg_1",
			"type":  "message",
			"role":  "assistant",
			"model": "claude-haiku-4-5",
			"content": []map[string]any{
				{"type": "text", "text": "```json\n{\"name\":\"finalize\",\"args\":{}}\n```"},
			},
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 30, "output_tokens": 8},
		})
	}))
	defer server.Close()

	g := newAnthropicGateway(Settings{APIKey: "k", APIBase: server.URL, ModelType: "claude-haiku-4-5"})
	decision, err := g.NextToolCall(context.Background(), "SYSTEM", "TRANSCRIPT")
	if err != nil {
		t.Fatalf("NextToolCall: %v", err)
	}
	if decision.ToolCall.Name != "finalize" {
		t.Errorf("tool = %q, want finalize", decision.ToolCall.Name)
	}
	if decision.Usage.TotalTokens != 38 {
		t.Errorf("total tokens = %d, want 38", decision.Usage.TotalTokens)
	}
	if path != "/v1/messages" {
		t.Errorf("path = %q, want /v1/messages", path)
	}
	if captured["max_tokens"] != float64(anthropicDefaultMaxToken) {
		t.Errorf("max_tokens = %v", captured["max_tokens"])
	}
	system, _ := captured["system"].([]any)
	if len(system) != 1 {
		t.Fatalf("system blocks = %v", captured["system"])
	}
}

func TestEstimateTokens(t *testing.T) {
	if n := EstimateTokens(""); n != 0 {
		t.Errorf("EstimateTokens(\"\") = %d, want 0", n)
	}
	if n := EstimateTokens("The customer cannot log in after the password reset."); n <= 0 {
		t.Errorf("EstimateTokens() = %d, want > 0", n)
	}
}
