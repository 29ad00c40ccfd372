// Package event defines the append-only conversation events an agent run
// reads as its transcript and produces as its output.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Actor identifies who produced an event.
type Actor string

const (
	ActorSystem   Actor = "system"
	ActorCustomer Actor = "customer"
	ActorUser     Actor = "user"
)

// Valid reports whether a is one of the known actors.
func (a Actor) Valid() bool {
	switch a {
	case ActorSystem, ActorCustomer, ActorUser:
		return true
	default:
		return false
	}
}

// Well-known event types. Tool events use the tool name as their type.
const (
	TypeThreadStarted   = "thread_started"
	TypeEmailProcessed  = "email_processed"
	TypeCustomerMessage = "customer_message"
)

// Event is one timestamped, typed record in a thread's transcript.
type Event struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Type      string          `json:"type"`
	Actor     Actor           `json:"actor"`
	Data      json.RawMessage `json:"data"`
}

// New creates an event with a fresh id and the current time.
func New(eventType string, actor Actor, data any) (Event, error) {
	raw, err := marshalData(data)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s data: %w", eventType, err)
	}
	return Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Actor:     actor,
		Data:      raw,
	}, nil
}

// NewToolResult records a successful tool execution.
func NewToolResult(toolName string, args map[string]any, result any) (Event, error) {
	return New(toolName, ActorSystem, ToolResult{Args: args, Result: result})
}

// NewToolError records a failed tool execution. The loop keeps going after
// these so the model can see its own failure.
func NewToolError(toolName string, args map[string]any, toolErr error) (Event, error) {
	msg := "unknown error"
	if toolErr != nil {
		msg = toolErr.Error()
	}
	return New(toolName, ActorSystem, ToolError{Args: args, Error: msg})
}

// ParseData unmarshals the event data into v.
func (e Event) ParseData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Clone returns a deep copy; Data is copied so callers may mutate freely.
func (e Event) Clone() Event {
	c := e
	if e.Data != nil {
		c.Data = append(json.RawMessage(nil), e.Data...)
	}
	return c
}

// CloneAll deep-copies a log.
func CloneAll(events []Event) []Event {
	if events == nil {
		return nil
	}
	out := make([]Event, len(events))
	for i, e := range events {
		out[i] = e.Clone()
	}
	return out
}

// DuplicateIDs returns ids that appear more than once, in first-seen order.
// Logs are not rejected for duplicates; callers decide what to do.
func DuplicateIDs(events []Event) []string {
	seen := make(map[string]int, len(events))
	var dups []string
	for _, e := range events {
		seen[e.ID]++
		if seen[e.ID] == 2 {
			dups = append(dups, e.ID)
		}
	}
	return dups
}

func marshalData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage(`{}`), nil
		}
		return v, nil
	default:
		return json.Marshal(v)
	}
}
