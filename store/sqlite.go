// Package store provides SQLite-backed persistence for agent actions and
// draft responses.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS agent_actions (
	id                TEXT PRIMARY KEY,
	thread_id         TEXT NOT NULL,
	seq_no            INTEGER NOT NULL,
	action            TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	metadata_json     TEXT NOT NULL DEFAULT '{}',
	event_json        TEXT NOT NULL,
	draft_response_id TEXT,
	created_at        INTEGER NOT NULL,
	UNIQUE(thread_id, seq_no)
);
CREATE INDEX IF NOT EXISTS idx_actions_thread_seq ON agent_actions(thread_id, seq_no);

CREATE TABLE IF NOT EXISTS draft_responses (
	id          TEXT PRIMARY KEY,
	thread_id   TEXT NOT NULL,
	body        TEXT NOT NULL,
	body_html   TEXT NOT NULL DEFAULT '',
	confidence  REAL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_drafts_thread ON draft_responses(thread_id);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration. ":memory:" opens a private in-memory
// database.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(ON)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection: a single writer per database, and an in-memory
	// database lives only as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}
