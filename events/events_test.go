package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestEmit_JSONL(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)

	e.Emit("navigate", Fields{"url": "http://x"})
	e.Emit("os.click", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("line 0 is not valid JSON: %v", err)
	}
	if rec["event"] != "navigate" {
		t.Errorf("event: got %v, want navigate", rec["event"])
	}
	if rec["url"] != "http://x" {
		t.Errorf("url: got %v, want http://x", rec["url"])
	}
	if _, ok := rec["ts"]; !ok {
		t.Error("record missing ts")
	}
}

func TestError_AttachesKind(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)

	e.Error(errors.New("boom"), "timeout")

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["event"] != "error" {
		t.Errorf("event: got %v, want error", rec["event"])
	}
	if rec["error"] != "boom" {
		t.Errorf("error: got %v, want boom", rec["error"])
	}
	if rec["errorKind"] != "timeout" {
		t.Errorf("errorKind: got %v, want timeout", rec["errorKind"])
	}
}

func TestNilEmitter_Drops(t *testing.T) {
	var e *Emitter
	e.Emit("anything", Fields{"k": "v"}) // must not panic
	e.Error(errors.New("x"), "spec")
}
