package actions

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/linanwx/supportbot/event"
	"github.com/linanwx/supportbot/tools"
)

// TestMapperTotality checks every input, known or not, maps into the closed
// category set.
func TestMapperTotality(t *testing.T) {
	inputs := []string{"", "???", "delete_database", "DRAFT_REPLY", "thread_started"}
	for name := range eventCategories {
		inputs = append(inputs, name)
	}
	inputs = append(inputs, tools.NewSupportRegistry(nil).Names()...)

	for _, in := range inputs {
		c := MapEventTypeToAction(in)
		if !c.Valid() {
			t.Errorf("MapEventTypeToAction(%q) = %q, not a valid category", in, c)
		}
	}
}

func TestMapEventTypeToAction(t *testing.T) {
	tests := []struct {
		in   string
		want Category
	}{
		{tools.SearchKnowledgeBase, CategoryContextRead},
		{tools.SummarizeContext, CategoryContextSummarized},
		{tools.UpdateThreadUrgency, CategoryUrgencyChanged},
		{tools.UpdateThreadCategory, CategoryCategoryChanged},
		{tools.DraftReply, CategoryDraftCreated},
		{tools.FlagForHuman, CategoryEscalationFlagged},
		{tools.AddNote, CategoryNoteCreated},
		{tools.Finalize, CategoryAgentFinalized},
		{TypeDraftApproved, CategoryDraftApproved},
		{"mystery_tool", DefaultCategory},
	}
	for _, tt := range tests {
		if got := MapEventTypeToAction(tt.in); got != tt.want {
			t.Errorf("MapEventTypeToAction(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEveryStandardToolHasExplicitMapping(t *testing.T) {
	for _, name := range tools.NewSupportRegistry(nil).Names() {
		if _, ok := eventCategories[name]; !ok {
			t.Errorf("tool %q has no explicit category", name)
		}
	}
}

func TestEnhanceMetadata(t *testing.T) {
	e, _ := event.NewToolResult(tools.FlagForHuman,
		map[string]any{"reason": "refund"},
		map[string]any{"needs_escalation": true, "suggested_priority": "high", "confidence": 0.4},
	)
	var md Metadata
	if err := json.Unmarshal(EnhanceMetadata(e), &md); err != nil {
		t.Fatalf("metadata not JSON: %v", err)
	}
	if md.NeedsEscalation == nil || !*md.NeedsEscalation {
		t.Errorf("needs_escalation = %v", md.NeedsEscalation)
	}
	if md.SuggestedPriority != "high" {
		t.Errorf("suggested_priority = %q", md.SuggestedPriority)
	}
	if md.Confidence == nil || *md.Confidence != 0.4 {
		t.Errorf("confidence = %v", md.Confidence)
	}
	if !strings.Contains(string(md.ToolInput), "refund") {
		t.Errorf("tool_input = %s", md.ToolInput)
	}
}

func TestEnhanceMetadataCountsArticles(t *testing.T) {
	e, _ := event.NewToolResult(tools.SearchKnowledgeBase,
		map[string]any{"query": "login"},
		map[string]any{"articles": []any{map[string]any{"id": "a"}, map[string]any{"id": "b"}}},
	)
	var md Metadata
	if err := json.Unmarshal(EnhanceMetadata(e), &md); err != nil {
		t.Fatal(err)
	}
	if md.SourceCount == nil || *md.SourceCount != 2 {
		t.Errorf("source_count = %v, want 2", md.SourceCount)
	}
}

func TestEnhanceMetadataTolerance(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `garbage`},
		{"empty", ``},
		{"wrong field types", `{"result":{"confidence":"very","needs_escalation":"yes","source_count":[1]}}`},
		{"scalar result", `{"args":{},"result":"ok"}`},
		{"error only", `{"error":"timeout"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := event.Event{ID: "x", Type: "whatever", Data: json.RawMessage(tt.data)}
			out := EnhanceMetadata(e)
			var md Metadata
			if err := json.Unmarshal(out, &md); err != nil {
				t.Fatalf("output not a JSON object: %s", out)
			}
			if md.Confidence != nil || md.NeedsEscalation != nil || md.SourceCount != nil {
				t.Errorf("mistyped fields leaked: %s", out)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	search, _ := event.NewToolResult(tools.SearchKnowledgeBase, map[string]any{"query": "login"}, map[string]any{"source_count": 3})
	urgency, _ := event.NewToolResult(tools.UpdateThreadUrgency, map[string]any{"urgency": "high"}, nil)
	failed, _ := event.NewToolError(tools.AddNote, map[string]any{}, errInvalid("body required"))
	unknown := event.Event{Type: "custom_thing", Data: json.RawMessage(`{}`)}

	tests := []struct {
		e    event.Event
		want string
	}{
		{search, `Searched knowledge base for "login" (3 results)`},
		{urgency, "Changed urgency to high"},
		{failed, "Add note failed: body required"},
		{unknown, "Custom thing"},
	}
	for _, tt := range tests {
		if got := Describe(tt.e); got != tt.want {
			t.Errorf("Describe(%s) = %q, want %q", tt.e.Type, got, tt.want)
		}
	}
}

func TestDraftFromEvent(t *testing.T) {
	draft, _ := event.NewToolResult(tools.DraftReply, map[string]any{"body": "Hi"}, map[string]any{"body": "Hi there", "confidence": 0.8})
	body, conf, ok := DraftFromEvent(draft)
	if !ok || body != "Hi there" || conf == nil || *conf != 0.8 {
		t.Errorf("DraftFromEvent = %q, %v, %v", body, conf, ok)
	}

	failed, _ := event.NewToolError(tools.DraftReply, map[string]any{"body": "Hi"}, errInvalid("no"))
	if _, _, ok := DraftFromEvent(failed); ok {
		t.Error("failed draft should not produce a record")
	}
	note, _ := event.NewToolResult(tools.AddNote, map[string]any{"body": "x"}, map[string]any{"body": "x"})
	if _, _, ok := DraftFromEvent(note); ok {
		t.Error("non-draft event should not produce a record")
	}
}

type errInvalid string

func (e errInvalid) Error() string { return string(e) }

func TestTextHelpersKeepRunes(t *testing.T) {
	long := strings.Repeat("é", 10)
	got := truncate(long, 5)
	if !utf8.ValidString(got) || got != strings.Repeat("é", 5)+"..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate short = %q", got)
	}
	if got := humanize("élan_vital"); got != "Élan vital" {
		t.Errorf("humanize = %q", got)
	}
	if got := humanize(""); got != "Unknown event" {
		t.Errorf("humanize empty = %q", got)
	}
}
