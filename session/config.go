// CLAUDE:SUMMARY Session configuration: chat selectors, timing, noise, browser launch and safety settings.
package session

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/nibs/calib"
	"github.com/hazyhaar/nibs/events"
	"github.com/hazyhaar/nibs/osinput"
	"github.com/hazyhaar/nibs/transcript"
)

// Config is the full session configuration. Copied at construction,
// never mutated afterwards.
type Config struct {
	// URL is the chat page to drive.
	URL string `yaml:"url"`

	Chat    ChatConfig    `yaml:"chat"`
	Motion  MotionConfig  `yaml:"motion"`
	Browser BrowserConfig `yaml:"browser"`
	Safety  SafetyConfig  `yaml:"safety"`

	// Seed feeds every motion RNG via domain separation. Zero picks a
	// random seed at Start.
	Seed uint64 `yaml:"seed"`

	// DryRun synthesizes no OS input: primitives are logged and emitted
	// only. The browser still launches so the DOM side can be rehearsed.
	DryRun bool `yaml:"dry_run"`

	// Injected at wiring time, not from YAML.
	Sink      osinput.Sink      `yaml:"-"`
	Emitter   *events.Emitter   `yaml:"-"`
	Store     *transcript.Store `yaml:"-"`
	Logger    *slog.Logger      `yaml:"-"`
	SessionID string            `yaml:"-"`
}

// ChatConfig locates the chat UI and paces the exchange.
type ChatConfig struct {
	InputSelector   string `yaml:"input_selector"`
	TurnSelector    string `yaml:"turn_selector"`
	ContentSelector string `yaml:"content_selector"`
	// Markdown renders assistant turns through the HTML-to-markdown
	// pipeline instead of plain text extraction.
	Markdown bool `yaml:"markdown"`

	// InputTimeout bounds the wait for the input control.
	InputTimeout time.Duration `yaml:"input_timeout"`
	// ReplyTimeout bounds the whole reply wait.
	ReplyTimeout time.Duration `yaml:"reply_timeout"`
	// ReplyStable is how long the reply text must stop changing before
	// it counts as complete.
	ReplyStable time.Duration `yaml:"reply_stable"`
	// ReplyPoll is the reply-wait polling interval.
	ReplyPoll time.Duration `yaml:"reply_poll"`
}

// MotionConfig shapes the synthesized input.
type MotionConfig struct {
	// NoiseX/NoiseY bound the uniform jitter added to the click target,
	// in screen pixels.
	NoiseX float64 `yaml:"noise_x"`
	NoiseY float64 `yaml:"noise_y"`

	// OffsetY compensates for window chrome when no calibration file is
	// loaded (viewport y + OffsetY = screen y).
	OffsetY float64 `yaml:"offset_y"`

	// CalibrationPath points at a stored affine calibration. Empty uses
	// the default path if a file exists there, else OffsetY.
	CalibrationPath string `yaml:"calibration_path"`

	// DetourChance is the probability of a perpendicular waypoint before
	// the final approach.
	DetourChance float64 `yaml:"detour_chance"`

	// PreInteractDelay runs after the page is focused, before the move.
	PreInteractDelay time.Duration `yaml:"pre_interact_delay"`
	// PostClickDelay runs between the click and typing.
	PostClickDelay time.Duration `yaml:"post_click_delay"`

	// PasteThreshold is the prompt length, in runes, at which typing
	// switches to clipboard paste.
	PasteThreshold int `yaml:"paste_threshold"`

	// Flick enables idle scroll flicks while waiting for the reply.
	// Defaults to on; set false to disable.
	Flick *bool `yaml:"flick"`
}

// BrowserConfig controls how the Chrome instance is obtained.
type BrowserConfig struct {
	// AttachURL connects to an already-running browser's debug endpoint
	// instead of launching one.
	AttachURL string `yaml:"attach_url"`

	// BinPath pins the browser executable. Empty walks the provision
	// resolution chain.
	BinPath string `yaml:"bin_path"`
	// Channel selects the Chrome-for-Testing channel for downloads.
	Channel string `yaml:"channel"`
	// AllowDownload gates the Chrome-for-Testing fallback.
	AllowDownload bool `yaml:"allow_download"`

	// ProfileDir is the canonical user profile; it is shadow-copied into
	// WorkProfileDir before launch so the browser never writes back.
	ProfileDir     string `yaml:"profile_dir"`
	WorkProfileDir string `yaml:"work_profile_dir"`

	// Display selects the X display for input synthesis.
	Display string `yaml:"display"`

	// Stealth applies the stealth page patches on the fresh page.
	Stealth bool `yaml:"stealth"`
}

// SafetyConfig tunes the dead-man switch.
type SafetyConfig struct {
	// Keywords are case-insensitive substrings that pause the session
	// when seen in reply text, error text or the page body. Empty uses
	// the defaults.
	Keywords []string `yaml:"keywords"`
}

func (c *Config) applyDefaults() {
	if c.Chat.InputSelector == "" {
		c.Chat.InputSelector = "#prompt-textarea"
	}
	if c.Chat.TurnSelector == "" {
		c.Chat.TurnSelector = "[data-message-author-role]"
	}
	if c.Chat.ContentSelector == "" {
		c.Chat.ContentSelector = ".whitespace-pre-wrap, .markdown"
	}
	if c.Chat.InputTimeout <= 0 {
		c.Chat.InputTimeout = 20 * time.Second
	}
	if c.Chat.ReplyTimeout <= 0 {
		c.Chat.ReplyTimeout = 90 * time.Second
	}
	if c.Chat.ReplyStable <= 0 {
		c.Chat.ReplyStable = 1200 * time.Millisecond
	}
	if c.Chat.ReplyPoll <= 0 {
		c.Chat.ReplyPoll = 250 * time.Millisecond
	}
	if c.Motion.NoiseX == 0 {
		c.Motion.NoiseX = 12
	}
	if c.Motion.NoiseY == 0 {
		c.Motion.NoiseY = 5
	}
	if c.Motion.OffsetY == 0 {
		c.Motion.OffsetY = 80
	}
	if c.Motion.DetourChance == 0 {
		c.Motion.DetourChance = 0.30
	}
	if c.Motion.PreInteractDelay <= 0 {
		c.Motion.PreInteractDelay = 300 * time.Millisecond
	}
	if c.Motion.PostClickDelay <= 0 {
		c.Motion.PostClickDelay = 500 * time.Millisecond
	}
	if c.Motion.PasteThreshold <= 0 {
		c.Motion.PasteThreshold = 300
	}
	if c.Motion.Flick == nil {
		on := true
		c.Motion.Flick = &on
	}
	if c.Browser.Channel == "" {
		c.Browser.Channel = "stable"
	}
	if c.SessionID == "" {
		c.SessionID = "default"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// LoadFile reads a YAML session configuration.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session: read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("session: parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// loadCalibration resolves the affine transform for this run. A missing
// file is not an error: the OffsetY fallback applies.
func (c *Config) loadCalibration() (calib.Calibration, bool) {
	path := c.Motion.CalibrationPath
	if path == "" {
		p, err := calib.DefaultPath()
		if err != nil {
			return calib.Identity(), false
		}
		path = p
	}
	cal, err := calib.Load(path)
	if err != nil {
		if c.Motion.CalibrationPath != "" {
			c.Logger.Warn("session: calibration load failed", "path", path, "error", err)
		}
		return calib.Identity(), false
	}
	return cal, true
}
