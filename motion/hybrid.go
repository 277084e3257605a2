package motion

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"

	"github.com/atotto/clipboard"

	"github.com/hazyhaar/nibs/osinput"
)

// Clipboard abstracts the system clipboard so tests can fake it.
type Clipboard interface {
	Read() (string, error)
	Write(text string) error
}

// SystemClipboard is the production Clipboard backed by
// github.com/atotto/clipboard.
type SystemClipboard struct{}

func (SystemClipboard) Read() (string, error)   { return clipboard.ReadAll() }
func (SystemClipboard) Write(text string) error { return clipboard.WriteAll(text) }

// HybridConfig tunes text entry strategy selection.
type HybridConfig struct {
	// PasteThreshold: texts at or above this rune count go through the
	// clipboard instead of the typer. Default: 300.
	PasteThreshold int
	Typer          TyperConfig
}

func (c *HybridConfig) defaults() {
	if c.PasteThreshold <= 0 {
		c.PasteThreshold = 300
	}
}

// Hybrid enters text either by simulated typing (short text) or by a
// clipboard paste with save/restore hygiene (long text).
type Hybrid struct {
	sink  osinput.Sink
	typer *Typer
	clip  Clipboard
	cfg   HybridConfig
}

// NewHybrid creates a Hybrid. A nil clip uses the system clipboard.
func NewHybrid(sink osinput.Sink, rng *rand.Rand, cfg HybridConfig, clip Clipboard) *Hybrid {
	cfg.defaults()
	if clip == nil {
		clip = SystemClipboard{}
	}
	return &Hybrid{
		sink:  sink,
		typer: NewTyper(sink, rng, cfg.Typer),
		clip:  clip,
		cfg:   cfg,
	}
}

// Enter types short text and pastes long text. Any failure on the paste
// path (clipboard tooling unavailable, hotkey error) falls back to
// typing; the pre-existing clipboard content is restored on every exit
// path of the paste attempt.
func (h *Hybrid) Enter(ctx context.Context, text string) error {
	if len([]rune(text)) >= h.cfg.PasteThreshold {
		if err := h.paste(text); err == nil {
			return nil
		} else {
			slog.Debug("motion: paste path failed, typing instead", "error", err)
		}
	}
	return h.typer.Type(ctx, text)
}

func (h *Hybrid) paste(text string) error {
	saved, err := h.clip.Read()
	if err != nil {
		return fmt.Errorf("motion: clipboard read: %w", err)
	}
	defer func() {
		if rerr := h.clip.Write(saved); rerr != nil {
			slog.Warn("motion: clipboard restore failed", "error", rerr)
		}
	}()

	if err := h.clip.Write(text); err != nil {
		return fmt.Errorf("motion: clipboard load: %w", err)
	}
	if err := h.sink.Hotkey(pasteHotkey()...); err != nil {
		return fmt.Errorf("motion: paste hotkey: %w", err)
	}
	return nil
}

func pasteHotkey() []string {
	if runtime.GOOS == "darwin" {
		return []string{"command", "v"}
	}
	return []string{"ctrl", "v"}
}
