// CLAUDE:SUMMARY SQLite-backed store of chat completions exchanged through a browser session.
// Package transcript persists every chat completion a session performs,
// so runs can be audited after the browser window is long gone.
package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/nibs/idgen"
)

// Schema for the completions table. Applied by New via dbopen.WithSchema
// or manually.
const Schema = `
CREATE TABLE IF NOT EXISTS completions (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	prompt TEXT NOT NULL,
	reply TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_completions_session ON completions(session_id, started_at);
`

// Completion is one recorded prompt/reply exchange.
type Completion struct {
	ID         string
	SessionID  string
	Prompt     string
	Reply      string
	Status     string // ok, error, paused
	Error      string
	StartedAt  time.Time
	DurationMS int64
}

// Store persists completions to SQLite.
type Store struct {
	db    *sql.DB
	newID idgen.Generator
}

// NewStore creates a store over an open database. The schema must
// already be applied (dbopen.WithSchema(transcript.Schema)).
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, newID: idgen.Prefixed("turn_", idgen.NanoID(21))}
}

// Record inserts a completion and returns its assigned id.
func (s *Store) Record(ctx context.Context, c Completion) (string, error) {
	if c.ID == "" {
		c.ID = s.newID()
	}
	if c.Status == "" {
		c.Status = "ok"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO completions (id, session_id, prompt, reply, status, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.Prompt, c.Reply, c.Status, c.Error,
		c.StartedAt.UnixMilli(), c.DurationMS)
	if err != nil {
		return "", fmt.Errorf("transcript: record: %w", err)
	}
	return c.ID, nil
}

// Get returns one completion by id.
func (s *Store) Get(ctx context.Context, id string) (Completion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, prompt, reply, status, error, started_at, duration_ms
		FROM completions WHERE id = ?`, id)
	return scanCompletion(row)
}

// BySession returns a session's completions in chronological order.
func (s *Store) BySession(ctx context.Context, sessionID string) ([]Completion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, prompt, reply, status, error, started_at, duration_ms
		FROM completions WHERE session_id = ? ORDER BY started_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("transcript: query session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []Completion
	for rows.Next() {
		c, err := scanCompletion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCompletion(row scanner) (Completion, error) {
	var c Completion
	var startedMS int64
	err := row.Scan(&c.ID, &c.SessionID, &c.Prompt, &c.Reply, &c.Status, &c.Error,
		&startedMS, &c.DurationMS)
	if err != nil {
		return Completion{}, fmt.Errorf("transcript: scan: %w", err)
	}
	c.StartedAt = time.UnixMilli(startedMS).UTC()
	return c, nil
}
