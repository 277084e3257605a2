package osinput

import (
	"fmt"
	"sync"
)

// Op is one recorded sink call.
type Op struct {
	Kind  string // moveTo, click, keyDown, keyUp, writeChar, hotkey, scroll
	X, Y  float64
	Key   string
	Delta int
}

func (o Op) String() string {
	switch o.Kind {
	case "moveTo":
		return fmt.Sprintf("moveTo(%.2f,%.2f)", o.X, o.Y)
	case "scroll":
		return fmt.Sprintf("scroll(%d)", o.Delta)
	case "keyDown", "keyUp", "writeChar", "hotkey":
		return o.Kind + "(" + o.Key + ")"
	default:
		return o.Kind
	}
}

// Recorder is a Sink that records every call. Used by tests to assert
// exact input sequences and by determinism checks. Safe for concurrent
// use (key releases arrive from scheduled goroutines).
type Recorder struct {
	mu   sync.Mutex
	ops  []Op
	x, y float64
}

// NewRecorder creates a Recorder with the cursor at the given position.
func NewRecorder(x, y float64) *Recorder {
	return &Recorder{x: x, y: y}
}

// Ops returns a copy of the recorded calls.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Op, len(r.ops))
	copy(out, r.ops)
	return out
}

// Reset discards all recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.ops = nil
	r.mu.Unlock()
}

func (r *Recorder) record(op Op) {
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
}

func (r *Recorder) MoveTo(x, y float64) error {
	r.mu.Lock()
	r.x, r.y = x, y
	r.ops = append(r.ops, Op{Kind: "moveTo", X: x, Y: y})
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Click() error {
	r.record(Op{Kind: "click"})
	return nil
}

func (r *Recorder) KeyDown(key string) error {
	r.record(Op{Kind: "keyDown", Key: key})
	return nil
}

func (r *Recorder) KeyUp(key string) error {
	r.record(Op{Kind: "keyUp", Key: key})
	return nil
}

func (r *Recorder) WriteChar(ch rune) error {
	r.record(Op{Kind: "writeChar", Key: string(ch)})
	return nil
}

func (r *Recorder) Hotkey(keys ...string) error {
	key := ""
	for i, k := range keys {
		if i > 0 {
			key += "+"
		}
		key += k
	}
	r.record(Op{Kind: "hotkey", Key: key})
	return nil
}

func (r *Recorder) Scroll(delta int) error {
	r.record(Op{Kind: "scroll", Delta: delta})
	return nil
}

func (r *Recorder) Position() (float64, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.x, r.y
}
