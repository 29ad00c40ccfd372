package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPayload is returned when a known event type carries data that
// does not match its shape.
var ErrInvalidPayload = errors.New("invalid event payload")

// Payload is the decoded form of Event.Data. The concrete type depends on
// the event type; unrecognized data decodes to Opaque.
type Payload interface {
	payload()
}

// ThreadStarted opens a conversation with the customer's first email.
type ThreadStarted struct {
	Subject string `json:"subject,omitempty"`
	From    string `json:"from,omitempty"`
	Body    string `json:"body"`
}

// EmailProcessed carries the ingest pipeline's classification.
type EmailProcessed struct {
	Urgency  string `json:"urgency,omitempty"`
	Category string `json:"category,omitempty"`
	Summary  string `json:"summary,omitempty"`
}

// CustomerMessage is a follow-up message from the customer.
type CustomerMessage struct {
	Body string `json:"body"`
}

// ToolResult is the data of a successful tool event.
type ToolResult struct {
	Args   map[string]any `json:"args"`
	Result any            `json:"result"`
}

// ToolError is the data of a failed tool event.
type ToolError struct {
	Args  map[string]any `json:"args,omitempty"`
	Error string         `json:"error"`
}

// Opaque wraps data whose type has no registered shape.
type Opaque struct {
	Raw json.RawMessage
}

func (ThreadStarted) payload()   {}
func (EmailProcessed) payload()  {}
func (CustomerMessage) payload() {}
func (ToolResult) payload()      {}
func (ToolError) payload()       {}
func (Opaque) payload()          {}

// Payload decodes the event data into its typed variant.
func (e Event) Payload() (Payload, error) {
	switch e.Type {
	case TypeThreadStarted:
		var p ThreadStarted
		if err := decodeStrict(e, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Body) == "" {
			return nil, fmt.Errorf("%w: %s requires body", ErrInvalidPayload, e.Type)
		}
		return p, nil

	case TypeEmailProcessed:
		var p EmailProcessed
		if err := decodeStrict(e, &p); err != nil {
			return nil, err
		}
		return p, nil

	case TypeCustomerMessage:
		var p CustomerMessage
		if err := decodeStrict(e, &p); err != nil {
			return nil, err
		}
		return p, nil
	}

	return decodeToolOutcome(e), nil
}

func decodeStrict(e Event, v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", ErrInvalidPayload, e.Type)
	}
	if err := e.ParseData(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, e.Type, err)
	}
	return nil
}

// decodeToolOutcome classifies tool events by the keys present: "error"
// marks a failure, "result" a success. Anything else stays opaque.
func decodeToolOutcome(e Event) Payload {
	var fields map[string]json.RawMessage
	if err := e.ParseData(&fields); err != nil {
		return Opaque{Raw: e.Data}
	}

	if rawErr, ok := fields["error"]; ok {
		var te ToolError
		if err := json.Unmarshal(rawErr, &te.Error); err == nil {
			if rawArgs, ok := fields["args"]; ok {
				_ = json.Unmarshal(rawArgs, &te.Args)
			}
			return te
		}
	}

	if rawResult, ok := fields["result"]; ok {
		var tr ToolResult
		if err := json.Unmarshal(rawResult, &tr.Result); err == nil {
			if rawArgs, ok := fields["args"]; ok {
				_ = json.Unmarshal(rawArgs, &tr.Args)
			}
			return tr
		}
	}

	return Opaque{Raw: e.Data}
}
