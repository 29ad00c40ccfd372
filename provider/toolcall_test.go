package provider

import (
	"errors"
	"testing"
)

func TestParseToolCall(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantErr  error
		wantName string
	}{
		{name: "plain object", raw: `{"name":"finalize","args":{}}`, wantName: "finalize"},
		{name: "code fence", raw: "```json\n{\"name\":\"add_note\",\"args\":{\"body\":\"x\"}}\n```", wantName: "add_note"},
		{name: "surrounding whitespace", raw: "  \n{\"name\":\"finalize\",\"args\":{}}\n", wantName: "finalize"},
		{name: "empty", raw: "", wantErr: ErrResponseNotJSON},
		{name: "prose", raw: "I think we should escalate.", wantErr: ErrResponseNotJSON},
		{name: "array", raw: `[{"name":"finalize","args":{}}]`, wantErr: ErrResponseNotJSON},
		{name: "null", raw: `null`, wantErr: ErrResponseNotJSON},
		{name: "missing name", raw: `{"args":{}}`, wantErr: ErrSchemaValidation},
		{name: "numeric name", raw: `{"name":7,"args":{}}`, wantErr: ErrSchemaValidation},
		{name: "blank name", raw: `{"name":"  ","args":{}}`, wantErr: ErrSchemaValidation},
		{name: "missing args", raw: `{"name":"finalize"}`, wantErr: ErrSchemaValidation},
		{name: "args not object", raw: `{"name":"finalize","args":"none"}`, wantErr: ErrSchemaValidation},
		{name: "args null", raw: `{"name":"finalize","args":null}`, wantErr: ErrSchemaValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, err := ParseToolCall(tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseToolCall() err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseToolCall() unexpected err: %v", err)
			}
			if call.Name != tt.wantName {
				t.Errorf("name = %q, want %q", call.Name, tt.wantName)
			}
			if call.Args == nil {
				t.Error("args should be non-nil")
			}
		})
	}
}

func TestParseToolCallKeepsArgValues(t *testing.T) {
	call, err := ParseToolCall(`{"name":"update_thread_urgency","args":{"urgency":"high","reason":"outage"}}`)
	if err != nil {
		t.Fatalf("ParseToolCall: %v", err)
	}
	if call.Args["urgency"] != "high" || call.Args["reason"] != "outage" {
		t.Errorf("args = %v", call.Args)
	}
}
