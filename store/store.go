package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/linanwx/supportbot/actions"
	"github.com/linanwx/supportbot/event"
	"github.com/linanwx/supportbot/logger"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// AgentAction is one persisted, append-only action row.
type AgentAction struct {
	ID              string           `json:"id"`
	ThreadID        string           `json:"thread_id"`
	Seq             int64            `json:"seq"`
	Action          actions.Category `json:"action"`
	Description     string           `json:"description"`
	Metadata        json.RawMessage  `json:"metadata"`
	Event           json.RawMessage  `json:"event"`
	DraftResponseID *string          `json:"draft_response_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// DraftResponse is a reply drafted by the agent.
type DraftResponse struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id"`
	Body       string    `json:"body"`
	BodyHTML   string    `json:"body_html"`
	Confidence *float64  `json:"confidence,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists agent actions. Safe for concurrent use.
type Store struct {
	db *sql.DB
	md goldmark.Markdown
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	db, err := NewDB(path)
	if err != nil {
		return nil, err
	}
	return &Store{
		db: db,
		md: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendAction maps an event to an action and appends it to the thread's
// log. Draft-composition events also write a draft response in the same
// transaction.
func (s *Store) AppendAction(ctx context.Context, threadID string, e event.Event) (*AgentAction, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, errors.New("append action: thread id is required")
	}
	eventJSON, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("append action: encode event: %w", err)
	}

	now := time.Now().UTC()
	a := &AgentAction{
		ID:          uuid.NewString(),
		ThreadID:    threadID,
		Action:      actions.MapEventTypeToAction(e.Type),
		Description: actions.Describe(e),
		Metadata:    actions.EnhanceMetadata(e),
		Event:       eventJSON,
		CreatedAt:   now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("append action: begin: %w", err)
	}
	defer tx.Rollback()

	if body, confidence, ok := actions.DraftFromEvent(e); ok {
		draft := &DraftResponse{
			ID:         uuid.NewString(),
			ThreadID:   threadID,
			Body:       body,
			BodyHTML:   s.renderHTML(body),
			Confidence: confidence,
			CreatedAt:  now,
		}
		if err := insertDraftTx(ctx, tx, draft); err != nil {
			return nil, err
		}
		a.DraftResponseID = &draft.ID
	}

	const seqQ = `SELECT COALESCE(MAX(seq_no), 0) + 1 FROM agent_actions WHERE thread_id = ?`
	if err := tx.QueryRowContext(ctx, seqQ, threadID).Scan(&a.Seq); err != nil {
		return nil, fmt.Errorf("append action: next seq: %w", err)
	}

	const q = `INSERT INTO agent_actions
(id, thread_id, seq_no, action, description, metadata_json, event_json, draft_response_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, q,
		a.ID,
		a.ThreadID,
		a.Seq,
		string(a.Action),
		a.Description,
		string(a.Metadata),
		string(a.Event),
		a.DraftResponseID,
		a.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("append action: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("append action: commit: %w", err)
	}

	logger.Debug("action appended", "threadID", threadID, "seq", a.Seq, "action", a.Action, "eventType", e.Type)
	return a, nil
}

func insertDraftTx(ctx context.Context, tx *sql.Tx, d *DraftResponse) error {
	const q = `INSERT INTO draft_responses (id, thread_id, body, body_html, confidence, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q, d.ID, d.ThreadID, d.Body, d.BodyHTML, d.Confidence, d.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert draft: %w", err)
	}
	return nil
}

func (s *Store) renderHTML(body string) string {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(body), &buf); err != nil {
		logger.Warn("draft markdown render failed", "err", err)
		return ""
	}
	return buf.String()
}

// ListActions returns a thread's actions in append order.
func (s *Store) ListActions(ctx context.Context, threadID string) ([]AgentAction, error) {
	const q = `SELECT id, thread_id, seq_no, action, description, metadata_json, event_json, draft_response_id, created_at
FROM agent_actions
WHERE thread_id = ?
ORDER BY seq_no ASC`

	rows, err := s.db.QueryContext(ctx, q, threadID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var out []AgentAction
	for rows.Next() {
		var (
			a         AgentAction
			action    string
			metadata  string
			eventJSON string
			draftID   sql.NullString
			created   int64
		)
		if err := rows.Scan(&a.ID, &a.ThreadID, &a.Seq, &action, &a.Description, &metadata, &eventJSON, &draftID, &created); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.Action = actions.Category(action)
		a.Metadata = json.RawMessage(metadata)
		a.Event = json.RawMessage(eventJSON)
		if draftID.Valid {
			id := draftID.String
			a.DraftResponseID = &id
		}
		a.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListEvents reconstructs a thread's event log from its actions, in order.
func (s *Store) ListEvents(ctx context.Context, threadID string) ([]event.Event, error) {
	acts, err := s.ListActions(ctx, threadID)
	if err != nil {
		return nil, err
	}
	events := make([]event.Event, 0, len(acts))
	for _, a := range acts {
		var e event.Event
		if err := json.Unmarshal(a.Event, &e); err != nil {
			return nil, fmt.Errorf("decode event of action %s: %w", a.ID, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// CountActions returns how many actions a thread has.
func (s *Store) CountActions(ctx context.Context, threadID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agent_actions WHERE thread_id = ?`, threadID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return n, nil
}

// ListThreads returns thread ids with at least one action, most recently
// active first.
func (s *Store) ListThreads(ctx context.Context) ([]string, error) {
	const q = `SELECT thread_id FROM agent_actions GROUP BY thread_id ORDER BY MAX(created_at) DESC, thread_id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GetDraft returns a draft by id.
func (s *Store) GetDraft(ctx context.Context, id string) (*DraftResponse, error) {
	const q = `SELECT id, thread_id, body, body_html, confidence, created_at FROM draft_responses WHERE id = ?`
	d, err := scanDraft(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("draft %s: %w", id, ErrNotFound)
	}
	return d, err
}

// LatestDraft returns the thread's most recent draft.
func (s *Store) LatestDraft(ctx context.Context, threadID string) (*DraftResponse, error) {
	const q = `SELECT id, thread_id, body, body_html, confidence, created_at FROM draft_responses
WHERE thread_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`
	d, err := scanDraft(s.db.QueryRowContext(ctx, q, threadID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("draft for thread %s: %w", threadID, ErrNotFound)
	}
	return d, err
}

func scanDraft(row *sql.Row) (*DraftResponse, error) {
	var (
		d       DraftResponse
		conf    sql.NullFloat64
		created int64
	)
	if err := row.Scan(&d.ID, &d.ThreadID, &d.Body, &d.BodyHTML, &conf, &created); err != nil {
		return nil, err
	}
	if conf.Valid {
		c := conf.Float64
		d.Confidence = &c
	}
	d.CreatedAt = time.UnixMilli(created).UTC()
	return &d, nil
}
