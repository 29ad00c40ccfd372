package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/linanwx/supportbot/event"
	"github.com/linanwx/supportbot/tools"
)

func TestTranscriptContextRendersPayloads(t *testing.T) {
	events := seedEvents(t)
	res, _ := event.NewToolResult(tools.SearchKnowledgeBase, map[string]any{"query": "login"}, map[string]any{"source_count": 0})
	events = append(events, res)

	out := TranscriptContext{}.Generate(events)
	for _, want := range []string{
		"Subject: Cannot log in",
		"authentication failed",
		"urgency=high category=-",
		`args: {"query":"login"}`,
		`result: {"source_count":0}`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("transcript missing %q:\n%s", want, out)
		}
	}
}

func TestCompactContextCollapsesMiddle(t *testing.T) {
	events := seedEvents(t)
	for i := 0; i < 5; i++ {
		e, _ := event.NewToolResult(tools.AddNote, map[string]any{"body": "note-body"}, map[string]any{"body": "note-body"})
		events = append(events, e)
	}

	out := CompactContext{Tail: 2}.Generate(events)
	if got := strings.Count(out, "note-body"); got != 4 {
		t.Errorf("full note renders = %d, want 4 (2 events x args+result)", got)
	}
	if !strings.Contains(out, "add_note by system (ok)") {
		t.Errorf("collapsed line missing:\n%s", out)
	}
	if !strings.Contains(out, "authentication failed") {
		t.Error("opening email should stay in full")
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, PlaybookFile), []byte("Never promise refunds.\n"), 0644); err != nil {
		t.Fatal(err)
	}
	reg := tools.NewSupportRegistry(nil)
	prompt := BuildSystemPrompt(reg, PromptOptions{
		Workspace: ws,
		Now:       time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
	})

	for _, want := range []string{
		"2026-03-02 09:30 (Monday)",
		"Never promise refunds.",
		reg.Serialize(),
		`{"name": "<tool name>", "args": { ... }}`,
		"Call finalize when",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
