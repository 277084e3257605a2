package shield

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig is a fixed-window per-IP limit applied uniformly to
// the API surface. The browser behind this service types at human
// speed, so the window is deliberately small.
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
	Enabled     bool
}

// DefaultRateLimit allows a steady conversational pace and not much more.
func DefaultRateLimit() RateLimitConfig {
	return RateLimitConfig{MaxRequests: 30, Window: time.Minute, Enabled: true}
}

type bucket struct {
	count   int
	resetAt time.Time
}

// RateLimiter enforces RateLimitConfig per client IP. Expired buckets
// are collected lazily on access and by an optional background GC.
type RateLimiter struct {
	cfg     RateLimitConfig
	mu      sync.Mutex
	buckets map[string]*bucket
	exclude []string
}

// NewRateLimiter creates a rate limiter. Paths matching any exclude
// prefix bypass the limit (health checks).
func NewRateLimiter(cfg RateLimitConfig, excludePrefixes ...string) *RateLimiter {
	return &RateLimiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		exclude: excludePrefixes,
	}
}

// StartGC collects expired buckets every 5 minutes until done closes.
func (rl *RateLimiter) StartGC(done <-chan struct{}) {
	tick := time.NewTicker(5 * time.Minute)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				rl.gc()
			}
		}
	}()
}

func (rl *RateLimiter) gc() {
	now := time.Now()
	rl.mu.Lock()
	for key, b := range rl.buckets {
		if now.After(b.resetAt) {
			delete(rl.buckets, key)
		}
	}
	rl.mu.Unlock()
}

func (rl *RateLimiter) allow(ip string) bool {
	if !rl.cfg.Enabled {
		return true
	}
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok || now.After(b.resetAt) {
		rl.buckets[ip] = &bucket{count: 1, resetAt: now.Add(rl.cfg.Window)}
		return true
	}
	b.count++
	return b.count <= rl.cfg.MaxRequests
}

// Middleware enforces the limit with a 429 JSON response.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range rl.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		ip := ExtractIP(r)
		if rl.allow(ip) {
			next.ServeHTTP(w, r)
			return
		}

		slog.Warn("ratelimit: request blocked", "ip", ip, "path", r.URL.Path)
		w.Header().Set("Retry-After", strconv.Itoa(int(rl.cfg.Window.Seconds())))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "rate limit exceeded",
		})
	})
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
