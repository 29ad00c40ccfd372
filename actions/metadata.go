package actions

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/linanwx/supportbot/event"
	"github.com/linanwx/supportbot/logger"
)

// Metadata is the decoded form of EnhanceMetadata's output.
type Metadata struct {
	Confidence        *float64        `json:"confidence,omitempty"`
	Sentiment         string          `json:"sentiment,omitempty"`
	NeedsEscalation   *bool           `json:"needs_escalation,omitempty"`
	SuggestedPriority string          `json:"suggested_priority,omitempty"`
	SourceCount       *int            `json:"source_count,omitempty"`
	ToolInput         json.RawMessage `json:"tool_input,omitempty"`
	ToolOutput        json.RawMessage `json:"tool_output,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// EnhanceMetadata extracts display fields from an event's {args, result} or
// {args, error} data. Missing or mistyped fields are skipped; the result is
// always a JSON object.
func EnhanceMetadata(e event.Event) json.RawMessage {
	out := []byte(`{}`)
	data := e.Data
	if !gjson.ValidBytes(data) {
		if len(data) > 0 {
			logger.Debug("event data is not JSON, metadata left empty", "eventID", e.ID, "type", e.Type)
		}
		return out
	}
	root := gjson.ParseBytes(data)
	result := root.Get("result")

	set := func(path string, v any) {
		b, err := sjson.SetBytes(out, path, v)
		if err != nil {
			logger.Debug("metadata field skipped", "field", path, "err", err)
			return
		}
		out = b
	}
	setRaw := func(path, raw string) {
		b, err := sjson.SetRawBytes(out, path, []byte(raw))
		if err != nil {
			logger.Debug("metadata field skipped", "field", path, "err", err)
			return
		}
		out = b
	}

	if v := result.Get("confidence"); v.Type == gjson.Number {
		set("confidence", v.Float())
	}
	if v := result.Get("sentiment"); v.Type == gjson.String && v.String() != "" {
		set("sentiment", v.String())
	}
	if v := result.Get("needs_escalation"); v.IsBool() {
		set("needs_escalation", v.Bool())
	}
	if v := result.Get("suggested_priority"); v.Type == gjson.String && v.String() != "" {
		set("suggested_priority", v.String())
	}
	if v := result.Get("source_count"); v.Type == gjson.Number {
		set("source_count", v.Int())
	} else if v := result.Get("articles"); v.IsArray() {
		set("source_count", len(v.Array()))
	}

	if v := root.Get("args"); v.Exists() && v.IsObject() {
		setRaw("tool_input", v.Raw)
	}
	if result.Exists() {
		setRaw("tool_output", result.Raw)
	}
	if v := root.Get("error"); v.Type == gjson.String {
		set("error", v.String())
	}
	return out
}

// Describe renders a one-line human description of an event.
func Describe(e event.Event) string {
	root := gjson.ParseBytes(e.Data)
	if errMsg := root.Get("error"); errMsg.Type == gjson.String {
		return fmt.Sprintf("%s failed: %s", humanize(e.Type), truncate(errMsg.String(), 120))
	}
	args := root.Get("args")
	result := root.Get("result")

	category, ok := eventCategories[e.Type]
	if !ok {
		return humanize(e.Type)
	}
	switch category {
	case CategoryContextRead:
		switch e.Type {
		case "thread_started":
			return "Thread started"
		case "email_processed":
			return "Email processed"
		case "customer_message":
			return "Customer replied"
		}
		if q := args.Get("query").String(); q != "" {
			n := result.Get("source_count").Int()
			return fmt.Sprintf("Searched knowledge base for %q (%d results)", q, n)
		}
		return fmt.Sprintf("Read context (%s)", humanize(e.Type))
	case CategoryContextSummarized:
		return "Summarized conversation"
	case CategoryUrgencyChanged:
		return "Changed urgency to " + orUnknown(args.Get("urgency").String())
	case CategoryCategoryChanged:
		return "Changed category to " + orUnknown(args.Get("category").String())
	case CategoryDraftCreated:
		return "Drafted a reply"
	case CategoryEscalationFlagged:
		if r := args.Get("reason").String(); r != "" {
			return "Flagged for human review: " + truncate(r, 120)
		}
		return "Flagged for human review"
	case CategoryNoteCreated:
		return "Added an internal note"
	case CategoryAgentFinalized:
		return "Agent finished"
	case CategoryStatusChanged:
		return "Changed status to " + orUnknown(args.Get("status").String())
	case CategoryDraftApproved:
		return "Approved draft"
	case CategoryDraftRejected:
		return "Rejected draft"
	case CategoryDraftSent:
		return "Sent draft"
	case CategoryAssigned:
		return "Assigned thread"
	case CategoryArchived:
		return "Archived thread"
	case CategoryNoteUpdated:
		return "Updated note"
	case CategoryNoteDeleted:
		return "Deleted note"
	}
	return humanize(e.Type)
}

// DraftFromEvent returns the draft body and confidence of a successful
// draft-composition event.
func DraftFromEvent(e event.Event) (body string, confidence *float64, ok bool) {
	if !IsDraftComposition(e.Type) {
		return "", nil, false
	}
	root := gjson.ParseBytes(e.Data)
	if root.Get("error").Exists() {
		return "", nil, false
	}
	body = root.Get("result.body").String()
	if body == "" {
		body = root.Get("args.body").String()
	}
	if strings.TrimSpace(body) == "" {
		return "", nil, false
	}
	if v := root.Get("result.confidence"); v.Type == gjson.Number {
		c := v.Float()
		confidence = &c
	}
	return body, confidence, true
}

func humanize(eventType string) string {
	s := strings.ReplaceAll(eventType, "_", " ")
	if s == "" {
		return "Unknown event"
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

func orUnknown(s string) string {
	if s == "" {
		return "(unspecified)"
	}
	return s
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
