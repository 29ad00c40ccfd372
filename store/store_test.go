package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/linanwx/supportbot/actions"
	"github.com/linanwx/supportbot/event"
	"github.com/linanwx/supportbot/tools"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustEvent(e event.Event, err error) event.Event {
	if err != nil {
		panic(err)
	}
	return e
}

func TestAppendAndListEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	in := []event.Event{
		mustEvent(event.New(event.TypeThreadStarted, event.ActorCustomer, event.ThreadStarted{Body: "cannot log in"})),
		mustEvent(event.NewToolResult(tools.UpdateThreadUrgency, map[string]any{"urgency": "high"}, map[string]any{"urgency": "high", "suggested_priority": "high"})),
		mustEvent(event.NewToolError(tools.AddNote, map[string]any{}, errors.New("body required"))),
	}
	for _, e := range in {
		if _, err := s.AppendAction(ctx, "thread-1", e); err != nil {
			t.Fatalf("AppendAction: %v", err)
		}
	}
	// Another thread must not leak in.
	if _, err := s.AppendAction(ctx, "thread-2", in[0]); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListEvents(ctx, "thread-1")
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(got) != len(in) {
		t.Fatalf("expected %d events, got %d", len(in), len(got))
	}
	for i := range in {
		if got[i].ID != in[i].ID || got[i].Type != in[i].Type || string(got[i].Data) != string(in[i].Data) {
			t.Errorf("event %d = %+v, want %+v", i, got[i], in[i])
		}
		if !got[i].Timestamp.Equal(in[i].Timestamp) {
			t.Errorf("event %d timestamp = %v, want %v", i, got[i].Timestamp, in[i].Timestamp)
		}
	}

	acts, err := s.ListActions(ctx, "thread-1")
	if err != nil {
		t.Fatalf("ListActions: %v", err)
	}
	for i, a := range acts {
		if a.Seq != int64(i+1) {
			t.Errorf("action %d seq = %d", i, a.Seq)
		}
	}
	if acts[1].Action != actions.CategoryUrgencyChanged || acts[1].Description != "Changed urgency to high" {
		t.Errorf("action 1 = %s / %q", acts[1].Action, acts[1].Description)
	}
	if !strings.Contains(string(acts[1].Metadata), `"suggested_priority":"high"`) {
		t.Errorf("metadata = %s", acts[1].Metadata)
	}
	if acts[2].Action != actions.CategoryNoteCreated || !strings.Contains(acts[2].Description, "failed") {
		t.Errorf("action 2 = %s / %q", acts[2].Action, acts[2].Description)
	}
}

func TestAppendUnknownEventTypeUsesDefault(t *testing.T) {
	s := openTestStore(t)
	e := mustEvent(event.New("crm_sync", event.ActorSystem, map[string]any{"ok": true}))
	a, err := s.AppendAction(context.Background(), "t", e)
	if err != nil {
		t.Fatalf("AppendAction: %v", err)
	}
	if a.Action != actions.DefaultCategory {
		t.Errorf("action = %s, want %s", a.Action, actions.DefaultCategory)
	}
}

func TestDraftCompositionWritesDraft(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := mustEvent(event.NewToolResult(tools.DraftReply,
		map[string]any{"body": "x"},
		map[string]any{"body": "Hi,\n\nPlease **reset** your password.", "confidence": 0.7},
	))

	a, err := s.AppendAction(ctx, "thread-d", e)
	if err != nil {
		t.Fatalf("AppendAction: %v", err)
	}
	if a.DraftResponseID == nil {
		t.Fatal("draft id not set")
	}

	d, err := s.GetDraft(ctx, *a.DraftResponseID)
	if err != nil {
		t.Fatalf("GetDraft: %v", err)
	}
	if !strings.Contains(d.BodyHTML, "<strong>reset</strong>") {
		t.Errorf("body html = %q", d.BodyHTML)
	}
	if d.Confidence == nil || *d.Confidence != 0.7 {
		t.Errorf("confidence = %v", d.Confidence)
	}

	latest, err := s.LatestDraft(ctx, "thread-d")
	if err != nil || latest.ID != d.ID {
		t.Errorf("LatestDraft = %v, %v", latest, err)
	}

	acts, _ := s.ListActions(ctx, "thread-d")
	if acts[0].DraftResponseID == nil || *acts[0].DraftResponseID != d.ID {
		t.Errorf("listed action lost draft id")
	}
}

func TestGetDraftNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetDraft(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListThreadsAndCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := mustEvent(event.New(event.TypeCustomerMessage, event.ActorCustomer, event.CustomerMessage{Body: "hi"}))
	for _, id := range []string{"a", "b", "a"} {
		if _, err := s.AppendAction(ctx, id, e); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.CountActions(ctx, "a")
	if err != nil || n != 2 {
		t.Errorf("CountActions(a) = %d, %v", n, err)
	}
	threads, err := s.ListThreads(ctx)
	if err != nil || len(threads) != 2 {
		t.Errorf("ListThreads = %v, %v", threads, err)
	}
}

func TestInMemoryStore(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	e := mustEvent(event.New(event.TypeCustomerMessage, event.ActorCustomer, event.CustomerMessage{Body: "hi"}))
	if _, err := s.AppendAction(context.Background(), "m", e); err != nil {
		t.Fatalf("AppendAction: %v", err)
	}
	got, err := s.ListEvents(context.Background(), "m")
	if err != nil || len(got) != 1 {
		t.Fatalf("ListEvents = %d, %v", len(got), err)
	}
}
