package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linanwx/supportbot/event"
)

// ContextGenerator renders an event log into the transcript the model sees.
type ContextGenerator interface {
	Name() string
	Generate(events []event.Event) string
}

// TranscriptContext renders every event in full.
type TranscriptContext struct{}

// Name returns "transcript".
func (TranscriptContext) Name() string { return "transcript" }

// Generate renders the full log.
func (TranscriptContext) Generate(events []event.Event) string {
	var sb strings.Builder
	sb.WriteString("# Conversation\n")
	for i, e := range events {
		sb.WriteString("\n")
		sb.WriteString(renderEvent(i+1, e))
	}
	return sb.String()
}

// CompactContext keeps the opening events and the most recent Tail events in
// full and collapses the middle to one line per event.
type CompactContext struct {
	Tail int
}

// Name returns "compact".
func (c CompactContext) Name() string { return "compact" }

// Generate renders the log with the middle collapsed.
func (c CompactContext) Generate(events []event.Event) string {
	tail := c.Tail
	if tail <= 0 {
		tail = 6
	}
	var sb strings.Builder
	sb.WriteString("# Conversation\n")
	for i, e := range events {
		sb.WriteString("\n")
		if isOpening(e) || i >= len(events)-tail {
			sb.WriteString(renderEvent(i+1, e))
			continue
		}
		sb.WriteString(fmt.Sprintf("[%d] %s by %s (%s)\n", i+1, e.Type, e.Actor, outcome(e)))
	}
	return sb.String()
}

// ContextGenerators returns the built-in generators by name.
func ContextGenerators() map[string]ContextGenerator {
	return map[string]ContextGenerator{
		TranscriptContext{}.Name(): TranscriptContext{},
		CompactContext{}.Name():    CompactContext{},
	}
}

func isOpening(e event.Event) bool {
	return e.Type == event.TypeThreadStarted || e.Type == event.TypeEmailProcessed
}

func renderEvent(n int, e event.Event) string {
	header := fmt.Sprintf("[%d] %s | %s | %s\n", n, e.Timestamp.UTC().Format("2006-01-02T15:04:05Z"), e.Actor, e.Type)

	p, err := e.Payload()
	if err != nil {
		return header + indent(string(e.Data)) + "\n"
	}

	switch v := p.(type) {
	case event.ThreadStarted:
		var sb strings.Builder
		sb.WriteString(header)
		if v.Subject != "" {
			sb.WriteString("Subject: " + v.Subject + "\n")
		}
		if v.From != "" {
			sb.WriteString("From: " + v.From + "\n")
		}
		sb.WriteString(indent(v.Body) + "\n")
		return sb.String()
	case event.EmailProcessed:
		return header + fmt.Sprintf("urgency=%s category=%s\n", orDash(v.Urgency), orDash(v.Category)) + summaryLine(v.Summary)
	case event.CustomerMessage:
		return header + indent(v.Body) + "\n"
	case event.ToolResult:
		return header + "args: " + compactJSON(v.Args) + "\nresult: " + compactJSON(v.Result) + "\n"
	case event.ToolError:
		return header + "args: " + compactJSON(v.Args) + "\nerror: " + v.Error + "\n"
	default:
		return header + indent(string(e.Data)) + "\n"
	}
}

func outcome(e event.Event) string {
	p, err := e.Payload()
	if err != nil {
		return "unreadable"
	}
	switch p.(type) {
	case event.ToolResult:
		return "ok"
	case event.ToolError:
		return "failed"
	default:
		return "message"
	}
}

func summaryLine(s string) string {
	if s == "" {
		return ""
	}
	return "summary: " + s + "\n"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}

func compactJSON(v any) string {
	if v == nil {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
