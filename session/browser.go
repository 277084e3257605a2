// CLAUDE:SUMMARY Browser startup for a session: provision, shadow profile, rod launch, stealth page, protocol quieting.
package session

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/nibs/cdpdom"
	"github.com/hazyhaar/nibs/events"
	"github.com/hazyhaar/nibs/motion"
	"github.com/hazyhaar/nibs/osinput"
	"github.com/hazyhaar/nibs/provision"
)

// browserHandles holds what Close must tear down.
type browserHandles struct {
	browser *rod.Browser
	lnch    *launcher.Launcher
	rodPage *rod.Page
}

// Attempt records one best-effort operation. Best-effort failures are
// logged and emitted, never propagated.
type Attempt struct {
	Name string
	Err  error
}

func (s *Session) attempt(name string, fn func() error) Attempt {
	a := Attempt{Name: name, Err: fn()}
	if a.Err != nil {
		s.log.Warn("session: best-effort op failed", "op", name, "error", a.Err)
		s.em.Emit("session.attempt", events.Fields{"op": name, "ok": false, "error": a.Err.Error()})
	} else {
		s.em.Emit("session.attempt", events.Fields{"op": name, "ok": true})
	}
	return a
}

// Start resolves the input sink, launches or attaches the browser,
// opens the chat page and quiets the protocol. Valid once, from
// NotStarted.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.State(); st != StateNotStarted {
		return fmt.Errorf("%w: start from %s", ErrState, st)
	}
	if s.cfg.URL == "" {
		return fmt.Errorf("%w: no url configured", ErrState)
	}

	seed := s.cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	s.log.Info("session: starting", "url", s.cfg.URL, "seed", seed, "dry_run", s.cfg.DryRun)

	sink := s.cfg.Sink
	if sink == nil {
		if s.cfg.DryRun {
			sink = osinput.NewDryRun(s.log)
		} else {
			x, err := osinput.NewXdotool(s.cfg.Browser.Display)
			if err != nil {
				return fmt.Errorf("session: %w", err)
			}
			sink = x
		}
	}
	if s.em != nil {
		sink = &osinput.Emitting{Sink: sink, Emitter: s.em}
	}
	s.sink = sink

	s.mouse = motion.NewMouse(sink, motion.DeriveRNG(seed, "mouse"), motion.DefaultMouseConfig())
	s.hybrid = motion.NewHybrid(sink, motion.DeriveRNG(seed, "typer"), motion.HybridConfig{
		PasteThreshold: s.cfg.Motion.PasteThreshold,
	}, nil)
	s.rng = motion.DeriveRNG(seed, "session")
	s.flickRNG = motion.DeriveRNG(seed, "flick")

	s.cal, s.hasCal = s.cfg.loadCalibration()

	if err := s.startBrowser(ctx); err != nil {
		return err
	}

	s.setState(StateReady)
	s.em.Emit("session.started", events.Fields{"url": s.cfg.URL})
	return nil
}

func (s *Session) startBrowser(ctx context.Context) error {
	var controlURL string

	if attach := s.cfg.Browser.AttachURL; attach != "" {
		u := attach
		if !strings.HasPrefix(u, "ws") {
			resolved, err := launcher.ResolveURL(u)
			if err != nil {
				return fmt.Errorf("session: resolve attach url %s: %w", attach, err)
			}
			u = resolved
		}
		controlURL = u
		s.log.Info("session: attaching to browser", "url", attach)
	} else {
		bin, err := provision.ResolveBrowser(ctx, provision.Options{
			ExplicitPath:  s.cfg.Browser.BinPath,
			Channel:       s.cfg.Browser.Channel,
			AllowDownload: s.cfg.Browser.AllowDownload,
			Logger:        s.log,
		})
		if err != nil {
			return fmt.Errorf("session: %w", err)
		}

		l := launcher.New().
			Bin(bin).
			Headless(false).
			Set("disable-blink-features", "AutomationControlled")
		if dir, err := s.shadowProfile(); err != nil {
			return err
		} else if dir != "" {
			l = l.UserDataDir(dir)
		}
		if s.cfg.Browser.Display != "" {
			l = l.Env(append(os.Environ(), "DISPLAY="+s.cfg.Browser.Display)...)
		}

		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("session: launch browser: %w", err)
		}
		s.lnch = l
		controlURL = u
		s.log.Info("session: launched browser", "bin", bin)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("session: connect browser: %w", err)
	}
	s.browser = b

	var page *rod.Page
	if s.cfg.Browser.Stealth {
		p, err := stealth.Page(b)
		if err != nil {
			s.log.Warn("session: stealth page failed, using plain page", "error", err)
		} else {
			page = p
		}
	}
	if page == nil {
		p, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
		if err != nil {
			return fmt.Errorf("session: open page: %w", err)
		}
		page = p
	}
	s.rodPage = page
	s.page = page
	s.dom = cdpdom.New(page, cdpdom.Config{})

	if err := page.Navigate(s.cfg.URL); err != nil {
		return fmt.Errorf("session: navigate %s: %w", s.cfg.URL, err)
	}
	s.attempt("wait_load", page.WaitLoad)

	s.quietProtocol()
	s.grantPermissions()
	s.arrangeWindow()
	return nil
}

// shadowProfile prepares the working copy of the canonical profile so
// the live browser never writes back into it.
func (s *Session) shadowProfile() (string, error) {
	src := s.cfg.Browser.ProfileDir
	if src == "" {
		return "", nil
	}
	work := s.cfg.Browser.WorkProfileDir
	if work == "" {
		work = filepath.Join(os.TempDir(), "nibs-profile")
	}
	if err := provision.EnsureProfile(provision.ProfileConfig{SourceDir: src, WorkDir: work}); err != nil {
		return "", fmt.Errorf("session: %w", err)
	}
	return work, nil
}

// quietProtocol disables the CDP domains a page can observe. All four
// are best-effort: an already-disabled domain is not a failure worth
// aborting startup over.
func (s *Session) quietProtocol() {
	p := s.rodPage
	s.attempt("runtime_disable", func() error { return proto.RuntimeDisable{}.Call(p) })
	s.attempt("log_disable", func() error { return proto.LogDisable{}.Call(p) })
	s.attempt("debugger_disable", func() error { return proto.DebuggerDisable{}.Call(p) })
	s.attempt("breakpoints_off", func() error {
		return proto.DebuggerSetBreakpointsActive{Active: false}.Call(p)
	})
}

// grantPermissions pre-approves clipboard and notification prompts for
// the target origin so they never block an exchange.
func (s *Session) grantPermissions() {
	origin := originFromURL(s.cfg.URL)
	if origin == "" {
		return
	}
	p := s.rodPage
	s.attempt("grant_permissions", func() error {
		return proto.BrowserGrantPermissions{
			Origin: origin,
			Permissions: []proto.BrowserPermissionType{
				proto.BrowserPermissionTypeClipboardReadWrite,
				proto.BrowserPermissionTypeNotifications,
			},
		}.Call(p)
	})
}

func (s *Session) arrangeWindow() {
	p := s.rodPage
	s.attempt("maximize", func() error {
		res, err := proto.BrowserGetWindowForTarget{}.Call(p)
		if err != nil {
			return err
		}
		return proto.BrowserSetWindowBounds{
			WindowID: res.WindowID,
			Bounds:   &proto.BrowserBounds{WindowState: proto.BrowserWindowStateMaximized},
		}.Call(p)
	})
	s.attempt("activate_target", func() error {
		return proto.TargetActivateTarget{TargetID: p.TargetID}.Call(p)
	})
}

// focusWindow raises the page right before an interaction.
func (s *Session) focusWindow() {
	if s.rodPage == nil {
		return
	}
	s.attempt("bring_to_front", func() error {
		return proto.PageBringToFront{}.Call(s.rodPage)
	})
}

func originFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Close shuts the session down. Idempotent; safe in any state.
func (s *Session) Close() error {
	s.stateMu.Lock()
	if s.state == StateClosed {
		s.stateMu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.stateMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			s.log.Warn("session: browser close failed", "error", err)
		}
		s.browser = nil
	}
	if s.lnch != nil {
		s.lnch.Cleanup()
		s.lnch = nil
	}
	s.log.Info("session: closed")
	s.em.Emit("session.closed", nil)
	return nil
}
