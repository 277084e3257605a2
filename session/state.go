package session

import "errors"

// State is the session lifecycle phase.
type State int

const (
	StateNotStarted State = iota
	StateReady
	StateBusy
	StatePaused
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StatePaused:
		return "paused"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrInterrupted marks a completion stopped by the dead-man switch.
// The wrapped message carries the matched keyword.
var ErrInterrupted = errors.New("session: interrupted")

// ErrState marks an operation invalid for the current lifecycle state,
// including calls against a paused or closed session.
var ErrState = errors.New("session: invalid state")
