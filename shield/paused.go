package shield

import (
	"encoding/json"
	"net/http"
	"strings"
)

// PausedGate blocks requests with a 503 while the session is paused by
// the dead-man switch. The reason travels in the JSON body so the
// caller knows a human has to visit the browser. Excluded prefixes
// (health checks, the resume endpoint) always pass.
func PausedGate(state PauseState, excludePrefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reason, paused := state.Paused()
			if !paused {
				next.ServeHTTP(w, r)
				return
			}
			for _, prefix := range excludePrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "300")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{
				"error":  "session paused",
				"reason": reason,
			})
		})
	}
}
