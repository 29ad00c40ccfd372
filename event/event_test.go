package event

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewToolResultPayload(t *testing.T) {
	e, err := NewToolResult("search_knowledge_base", map[string]any{"query": "login"}, map[string]any{"total": 2})
	if err != nil {
		t.Fatalf("NewToolResult() error = %v", err)
	}
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Fatalf("event id/timestamp not set: %+v", e)
	}
	if e.Type != "search_knowledge_base" || e.Actor != ActorSystem {
		t.Fatalf("unexpected event header: %+v", e)
	}

	p, err := e.Payload()
	if err != nil {
		t.Fatalf("Payload() error = %v", err)
	}
	tr, ok := p.(ToolResult)
	if !ok {
		t.Fatalf("Payload() = %T, want ToolResult", p)
	}
	if tr.Args["query"] != "login" {
		t.Fatalf("args = %+v", tr.Args)
	}
}

func TestNewToolErrorPayload(t *testing.T) {
	e, err := NewToolError("draft_reply", nil, errors.New("body is required"))
	if err != nil {
		t.Fatalf("NewToolError() error = %v", err)
	}
	p, err := e.Payload()
	if err != nil {
		t.Fatalf("Payload() error = %v", err)
	}
	te, ok := p.(ToolError)
	if !ok {
		t.Fatalf("Payload() = %T, want ToolError", p)
	}
	if te.Error != "body is required" {
		t.Fatalf("error = %q", te.Error)
	}
}

func TestPayloadKnownTypes(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		want    any
		wantErr bool
	}{
		{
			name:  "thread started",
			event: Event{Type: TypeThreadStarted, Data: json.RawMessage(`{"subject":"Login","body":"I cannot log in"}`)},
			want:  ThreadStarted{Subject: "Login", Body: "I cannot log in"},
		},
		{
			name:    "thread started without body",
			event:   Event{Type: TypeThreadStarted, Data: json.RawMessage(`{"subject":"Login"}`)},
			wantErr: true,
		},
		{
			name:  "email processed",
			event: Event{Type: TypeEmailProcessed, Data: json.RawMessage(`{"urgency":"high"}`)},
			want:  EmailProcessed{Urgency: "high"},
		},
		{
			name:    "email processed malformed",
			event:   Event{Type: TypeEmailProcessed, Data: json.RawMessage(`[1,2]`)},
			wantErr: true,
		},
		{
			name:  "unknown type falls back to opaque",
			event: Event{Type: "webhook_received", Data: json.RawMessage(`{"foo":1}`)},
			want:  Opaque{Raw: json.RawMessage(`{"foo":1}`)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.event.Payload()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPayload) {
					t.Fatalf("Payload() error = %v, want ErrInvalidPayload", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Payload() error = %v", err)
			}
			if op, ok := tt.want.(Opaque); ok {
				gotOp, ok := got.(Opaque)
				if !ok || string(gotOp.Raw) != string(op.Raw) {
					t.Fatalf("Payload() = %#v, want %#v", got, tt.want)
				}
				return
			}
			if got != tt.want {
				t.Fatalf("Payload() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDuplicateIDs(t *testing.T) {
	events := []Event{{ID: "a"}, {ID: "b"}, {ID: "a"}, {ID: "a"}, {ID: "c"}, {ID: "b"}}
	got := DuplicateIDs(events)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("DuplicateIDs() = %v, want [a b]", got)
	}
}

func TestCloneAllIsDeep(t *testing.T) {
	orig := []Event{{ID: "1", Data: json.RawMessage(`{"x":1}`)}}
	cp := CloneAll(orig)
	cp[0].Data[2] = 'y'
	if string(orig[0].Data) != `{"x":1}` {
		t.Fatalf("original mutated: %s", orig[0].Data)
	}
}
