package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrResponseNotJSON means the model output could not be parsed as a
	// JSON object.
	ErrResponseNotJSON = errors.New("model response is not a JSON object")
	// ErrSchemaValidation means the output parsed but is not {name, args}.
	ErrSchemaValidation = errors.New("model response does not match {name, args}")
)

// ParseToolCall parses raw model output into a ToolCall. Only the shape is
// checked here; args are validated against the tool's schema by the caller.
func ParseToolCall(raw string) (ToolCall, error) {
	text := stripCodeFence(strings.TrimSpace(raw))
	if text == "" {
		return ToolCall{}, fmt.Errorf("%w: empty response", ErrResponseNotJSON)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return ToolCall{}, fmt.Errorf("%w: %v", ErrResponseNotJSON, err)
	}
	if obj == nil {
		return ToolCall{}, fmt.Errorf("%w: got null", ErrResponseNotJSON)
	}

	rawName, ok := obj["name"]
	if !ok {
		return ToolCall{}, fmt.Errorf("%w: missing name", ErrSchemaValidation)
	}
	var name string
	if err := json.Unmarshal(rawName, &name); err != nil {
		return ToolCall{}, fmt.Errorf("%w: name must be a string", ErrSchemaValidation)
	}
	if strings.TrimSpace(name) == "" {
		return ToolCall{}, fmt.Errorf("%w: name is empty", ErrSchemaValidation)
	}

	rawArgs, ok := obj["args"]
	if !ok {
		return ToolCall{}, fmt.Errorf("%w: missing args", ErrSchemaValidation)
	}
	var args map[string]any
	if err := json.Unmarshal(rawArgs, &args); err != nil || args == nil {
		return ToolCall{}, fmt.Errorf("%w: args must be an object", ErrSchemaValidation)
	}

	return ToolCall{Name: name, Args: args}, nil
}

// stripCodeFence removes a surrounding ```json ... ``` block.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
