// Package shield provides the HTTP middleware stack for the local chat
// API: security headers, body size limits, request tracing, per-IP rate
// limiting, and a paused-gate that answers 503 while the session is
// held by the dead-man switch.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.Stack(sess, shield.DefaultRateLimit()) {
//	    r.Use(mw)
//	}
package shield

import "net/http"

// PauseState is what the paused-gate needs from the session.
type PauseState interface {
	// Paused reports whether interactions are held, with the reason.
	Paused() (reason string, paused bool)
}

// Stack returns the standard middleware chain, outermost first:
// PausedGate → SecurityHeaders → MaxBody → TraceID → RateLimiter.
// A nil state disables the paused-gate.
func Stack(state PauseState, limit RateLimitConfig) []func(http.Handler) http.Handler {
	rl := NewRateLimiter(limit, "/health")
	mws := []func(http.Handler) http.Handler{}
	if state != nil {
		mws = append(mws, PausedGate(state, "/health", "/v1/system/resume"))
	}
	return append(mws,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(1<<20),
		TraceID,
		rl.Middleware,
	)
}
