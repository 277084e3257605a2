// Package osinput defines the boundary to the OS-level input layer.
//
// The engine never talks to a windowing system directly: it synthesizes
// input through a Sink, injected at construction time. Production sinks
// live outside this module (X11/Windows/macOS synthesis back ends); this
// package ships the contract plus a dry-run sink, an event-emitting
// decorator, and a recording sink for tests.
package osinput

// Sink is the fixed contract an OS-input back end must implement.
// All operations are synchronous: when a call returns, the input event
// has been handed to the OS.
type Sink interface {
	// MoveTo places the cursor at absolute screen coordinates.
	MoveTo(x, y float64) error
	// Click presses and releases the primary mouse button.
	Click() error
	// KeyDown presses a named key ("a", "shift", "enter", ...).
	KeyDown(key string) error
	// KeyUp releases a named key.
	KeyUp(key string) error
	// WriteChar emits one literal character, bypassing key simulation.
	// Fallback for characters with no key mapping.
	WriteChar(ch rune) error
	// Hotkey presses the keys in order and releases them in reverse.
	Hotkey(keys ...string) error
	// Scroll scrolls vertically by delta units (negative = down).
	Scroll(delta int) error
	// Position reports the current cursor position in screen coordinates.
	Position() (x, y float64)
}
