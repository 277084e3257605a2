package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()

	if cfg.Chat.InputSelector != "#prompt-textarea" {
		t.Errorf("InputSelector = %q", cfg.Chat.InputSelector)
	}
	if cfg.Chat.TurnSelector != "[data-message-author-role]" {
		t.Errorf("TurnSelector = %q", cfg.Chat.TurnSelector)
	}
	if cfg.Chat.ReplyTimeout != 90*time.Second {
		t.Errorf("ReplyTimeout = %s", cfg.Chat.ReplyTimeout)
	}
	if cfg.Chat.ReplyStable != 1200*time.Millisecond {
		t.Errorf("ReplyStable = %s", cfg.Chat.ReplyStable)
	}
	if cfg.Motion.NoiseX != 12 || cfg.Motion.NoiseY != 5 {
		t.Errorf("noise = (%v, %v)", cfg.Motion.NoiseX, cfg.Motion.NoiseY)
	}
	if cfg.Motion.PasteThreshold != 300 {
		t.Errorf("PasteThreshold = %d", cfg.Motion.PasteThreshold)
	}
	if cfg.Motion.DetourChance != 0.30 {
		t.Errorf("DetourChance = %v", cfg.Motion.DetourChance)
	}
	if cfg.Browser.Channel != "stable" {
		t.Errorf("Channel = %q", cfg.Browser.Channel)
	}
	if cfg.Motion.Flick == nil || !*cfg.Motion.Flick {
		t.Error("Flick default is off, want on")
	}
}

func TestFlickOptOut(t *testing.T) {
	off := false
	cfg := Config{Motion: MotionConfig{Flick: &off}}
	cfg.applyDefaults()
	if *cfg.Motion.Flick {
		t.Error("explicit flick: false was overridden by defaults")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.yaml")
	doc := `
url: https://chat.example.test
seed: 42
chat:
  input_selector: "#composer"
motion:
  noise_x: 4
  flick: true
browser:
  channel: beta
  stealth: true
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	cfg.applyDefaults()

	if cfg.URL != "https://chat.example.test" || cfg.Seed != 42 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Chat.InputSelector != "#composer" {
		t.Errorf("InputSelector = %q, want override", cfg.Chat.InputSelector)
	}
	if cfg.Chat.TurnSelector == "" {
		t.Error("TurnSelector default missing after load")
	}
	if cfg.Motion.NoiseX != 4 || cfg.Motion.Flick == nil || !*cfg.Motion.Flick {
		t.Errorf("motion = %+v", cfg.Motion)
	}
	if cfg.Browser.Channel != "beta" || !cfg.Browser.Stealth {
		t.Errorf("browser = %+v", cfg.Browser)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile("/nonexistent/session.yaml"); err == nil {
		t.Error("LoadFile on missing path succeeded")
	}
}

func TestOriginFromURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"https://chat.example.test/c/abc", "https://chat.example.test"},
		{"http://localhost:8123/", "http://localhost:8123"},
		{"not a url", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := originFromURL(c.in); got != c.want {
			t.Errorf("originFromURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
