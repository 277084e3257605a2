// Package events implements the line-delimited structured event stream:
// one JSON object per line, each carrying an "event" name and a "ts"
// timestamp. The stream is the sole machine-readable audit trail of a
// session: navigation, interaction coordinates, OS-input primitives,
// flow step boundaries, and errors all land here.
package events

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Fields carries the event-specific payload.
type Fields map[string]any

// Emitter serializes events as JSONL to a writer. Safe for concurrent use.
// A nil *Emitter is valid and drops everything, so callers never need to
// guard emission sites.
type Emitter struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// New creates an Emitter writing to w.
func New(w io.Writer) *Emitter {
	return &Emitter{w: w, now: time.Now}
}

// Emit writes one event record. Marshal or write failures are logged and
// swallowed: the audit trail must never break the interaction it audits.
func (e *Emitter) Emit(event string, fields Fields) {
	if e == nil || e.w == nil {
		return
	}

	rec := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		rec[k] = v
	}
	rec["event"] = event
	rec["ts"] = e.now().UTC().Format(time.RFC3339Nano)

	line, err := json.Marshal(rec)
	if err != nil {
		slog.Warn("events: marshal failed", "event", event, "error", err)
		return
	}
	line = append(line, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(line); err != nil {
		slog.Warn("events: write failed", "event", event, "error", err)
	}
}

// Error emits a structured error record with its taxonomy kind attached.
func (e *Emitter) Error(err error, kind string) {
	if err == nil {
		return
	}
	e.Emit("error", Fields{"error": err.Error(), "errorKind": kind})
}
