package osinput

import (
	"github.com/hazyhaar/nibs/events"
)

// Emitting decorates a Sink so every primitive lands on the event stream.
// Character payloads are excluded unless IncludeText is set, keeping
// typed prompts out of audit logs by default.
type Emitting struct {
	Sink        Sink
	Emitter     *events.Emitter
	IncludeText bool
}

func (e *Emitting) MoveTo(x, y float64) error {
	err := e.Sink.MoveTo(x, y)
	e.Emitter.Emit("os.move_to", events.Fields{"x": x, "y": y})
	return err
}

func (e *Emitting) Click() error {
	err := e.Sink.Click()
	e.Emitter.Emit("os.click", nil)
	return err
}

func (e *Emitting) KeyDown(key string) error {
	err := e.Sink.KeyDown(key)
	e.Emitter.Emit("os.key_down", events.Fields{"key": key})
	return err
}

func (e *Emitting) KeyUp(key string) error {
	err := e.Sink.KeyUp(key)
	e.Emitter.Emit("os.key_up", events.Fields{"key": key})
	return err
}

func (e *Emitting) WriteChar(ch rune) error {
	err := e.Sink.WriteChar(ch)
	if e.IncludeText {
		e.Emitter.Emit("os.write_char", events.Fields{"char": string(ch)})
	} else {
		e.Emitter.Emit("os.write_char", nil)
	}
	return err
}

func (e *Emitting) Hotkey(keys ...string) error {
	err := e.Sink.Hotkey(keys...)
	e.Emitter.Emit("os.hotkey", events.Fields{"keys": keys})
	return err
}

func (e *Emitting) Scroll(delta int) error {
	err := e.Sink.Scroll(delta)
	e.Emitter.Emit("os.scroll", events.Fields{"delta": delta})
	return err
}

func (e *Emitting) Position() (float64, float64) {
	return e.Sink.Position()
}
