package cdpdom

import "errors"

// Failure taxonomy. Every error returned by this package wraps exactly
// one of these sentinels so callers can branch without string matching.
var (
	// ErrNotFound: the selector matched nothing in the current document
	// generation.
	ErrNotFound = errors.New("cdpdom: not found")
	// ErrTimeout: a wait loop reached its deadline.
	ErrTimeout = errors.New("cdpdom: timeout")
	// ErrProtocol: the CDP transport or the browser rejected a command.
	ErrProtocol = errors.New("cdpdom: protocol")
)

// Kind maps an error to a stable string for event emission and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	default:
		return "other"
	}
}
