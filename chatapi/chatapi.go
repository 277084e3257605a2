// CLAUDE:SUMMARY OpenAI-shaped HTTP facade over a browser-driven chat session.
// Package chatapi exposes the session as a local OpenAI-compatible API:
// POST /v1/chat/completions backed by a real browser typing into a real
// page. One session, one exchange at a time; callers queue.
package chatapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/nibs/session"
	"github.com/hazyhaar/nibs/shield"
)

// Engine is the session surface the API depends on.
type Engine interface {
	ChatCompletion(ctx context.Context, prompt string) (string, error)
	State() session.State
	PausedReason() string
	Resume() error
}

// Config tunes the API server.
type Config struct {
	// Model is the model name echoed in responses when the request
	// names none.
	Model string
	// BearerHash is an optional bcrypt hash; when set every request
	// must carry a matching bearer token.
	BearerHash string
	// RateLimit applies per client IP.
	RateLimit shield.RateLimitConfig
	Logger    *slog.Logger
}

func (c *Config) defaults() {
	if c.Model == "" {
		c.Model = "nibs"
	}
	if c.RateLimit == (shield.RateLimitConfig{}) {
		c.RateLimit = shield.DefaultRateLimit()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Server handles the HTTP surface.
type Server struct {
	engine Engine
	cfg    Config
}

// NewServer creates a Server over the engine.
func NewServer(engine Engine, cfg Config) *Server {
	cfg.defaults()
	return &Server{engine: engine, cfg: cfg}
}

type pauseState struct{ e Engine }

func (p pauseState) Paused() (string, bool) {
	reason := p.e.PausedReason()
	return reason, reason != ""
}

// Router builds the chi router with the shield stack applied.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.Stack(pauseState{s.engine}, s.cfg.RateLimit) {
		r.Use(mw)
	}
	if s.cfg.BearerHash != "" {
		r.Use(s.requireBearer)
	}

	r.Get("/health", s.handleHealth)
	r.Post("/v1/chat/completions", s.handleChatCompletions)
	r.Post("/v1/system/resume", s.handleResume)
	return r
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || bcrypt.CompareHashAndPassword([]byte(s.cfg.BearerHash), []byte(token)) != nil {
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reason := s.engine.PausedReason()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"state":         s.engine.State().String(),
		"paused":        reason != "",
		"paused_reason": reason,
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Resume(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// chatRequest is the OpenAI chat completion request, reduced to what a
// browser-typed exchange can honor.
type chatRequest struct {
	Model    string        `json:"model"`
	Stream   any           `json:"stream"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if reason := s.engine.PausedReason(); reason != "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "session paused", "reason": reason,
		})
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if coerceBool(req.Stream) {
		writeError(w, http.StatusBadRequest, "streaming is not supported")
		return
	}

	prompt := promptFromMessages(req.Messages)
	if strings.TrimSpace(prompt) == "" {
		writeError(w, http.StatusBadRequest, "empty prompt")
		return
	}

	text, err := s.engine.ChatCompletion(r.Context(), prompt)
	if err != nil {
		shield.GetLogger(r.Context()).Error("chatapi: completion failed", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrState) || errors.Is(err, session.ErrInterrupted) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}

	model := req.Model
	if model == "" {
		model = s.cfg.Model
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      completionID(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": text},
			"finish_reason": "stop",
		}},
		// Token counts are unknown without a tokenizer; clients expect
		// integers, so zeros beat nulls.
		"usage": map[string]int{
			"prompt_tokens":     0,
			"completion_tokens": 0,
			"total_tokens":      0,
		},
	})
}

func completionID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "chatcmpl_" + hex[:24]
}

// promptFromMessages extracts the text the browser will type: the last
// user message, or every message joined when no user turn exists.
func promptFromMessages(msgs []chatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if strings.EqualFold(strings.TrimSpace(msgs[i].Role), "user") {
			return coerceContent(msgs[i].Content)
		}
	}
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, coerceContent(m.Content))
	}
	return strings.Join(parts, "\n")
}

// coerceContent accepts both OpenAI content shapes: a plain string or
// an array of typed parts, keeping the text ones.
func coerceContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			if p.Type == "text" {
				b.WriteString(p.Text)
			}
		}
		return b.String()
	}
	return ""
}

func coerceBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "y", "on":
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
