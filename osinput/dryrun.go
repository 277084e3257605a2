package osinput

import (
	"log/slog"
	"sync"
)

// DryRun is a Sink that performs no OS input. It tracks the virtual
// cursor position so motion code behaves identically, and logs each
// primitive at debug level. Used when no display is available and in
// rehearsal runs.
type DryRun struct {
	mu   sync.Mutex
	x, y float64
	log  *slog.Logger
}

// NewDryRun creates a DryRun sink. A nil logger uses slog.Default.
func NewDryRun(log *slog.Logger) *DryRun {
	if log == nil {
		log = slog.Default()
	}
	return &DryRun{log: log}
}

func (d *DryRun) MoveTo(x, y float64) error {
	d.mu.Lock()
	d.x, d.y = x, y
	d.mu.Unlock()
	d.log.Debug("osinput: moveTo", "x", x, "y", y)
	return nil
}

func (d *DryRun) Click() error {
	d.log.Debug("osinput: click")
	return nil
}

func (d *DryRun) KeyDown(key string) error {
	d.log.Debug("osinput: keyDown", "key", key)
	return nil
}

func (d *DryRun) KeyUp(key string) error {
	d.log.Debug("osinput: keyUp", "key", key)
	return nil
}

func (d *DryRun) WriteChar(ch rune) error {
	d.log.Debug("osinput: writeChar")
	return nil
}

func (d *DryRun) Hotkey(keys ...string) error {
	d.log.Debug("osinput: hotkey", "keys", keys)
	return nil
}

func (d *DryRun) Scroll(delta int) error {
	d.log.Debug("osinput: scroll", "delta", delta)
	return nil
}

func (d *DryRun) Position() (float64, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.x, d.y
}
