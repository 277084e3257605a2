// CLAUDE:SUMMARY Session orchestrator: state machine, chat completion sequence, dead-man pause and resume.
// Package session drives one chat page in a real, headed browser. The
// DOM is read over CDP (never scripted); all input reaches the page as
// OS-level mouse and keyboard synthesis. A session is a strict state
// machine: one completion at a time, paused hard when the page starts
// asking whether we are human.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/hazyhaar/nibs/calib"
	"github.com/hazyhaar/nibs/cdpdom"
	"github.com/hazyhaar/nibs/events"
	"github.com/hazyhaar/nibs/motion"
	"github.com/hazyhaar/nibs/osinput"
	"github.com/hazyhaar/nibs/transcript"
)

// dom is the slice of cdpdom.Client the session consumes.
type dom interface {
	WaitForSelector(ctx context.Context, selector string, opts cdpdom.WaitOptions) (cdpdom.NodeHandle, error)
	GaussianInteriorPoint(ctx context.Context, selector, within string, rng *rand.Rand) (cdpdom.ViewportPoint, error)
	ViewportCenter(ctx context.Context, selector, within string) (cdpdom.ViewportPoint, error)
	ExtractText(ctx context.Context, selector, within string) (string, error)
	Messages(ctx context.Context, cfg cdpdom.MessagesConfig) ([]cdpdom.ChatMessage, error)
	LastAssistantText(ctx context.Context, cfg cdpdom.MessagesConfig) (string, error)
}

// pager is the page surface used for navigation.
type pager interface {
	Navigate(url string) error
	WaitLoad() error
}

// Session drives one chat page. All interaction methods serialize on an
// internal mutex in arrival order.
type Session struct {
	cfg Config
	log *slog.Logger
	em  *events.Emitter

	// mu serializes completions and flow-driver interactions.
	mu sync.Mutex

	stateMu      sync.Mutex
	state        State
	pausedReason string

	sink     osinput.Sink
	mouse    *motion.Mouse
	hybrid   *motion.Hybrid
	rng      *rand.Rand
	flickRNG *rand.Rand

	dom  dom
	page pager

	cal    calib.Calibration
	hasCal bool

	deadman *DeadManSwitch
	store   *transcript.Store

	browserHandles
}

// New creates a Session in NotStarted state. Call Start before use.
func New(cfg Config) *Session {
	cfg.applyDefaults()
	return &Session{
		cfg:     cfg,
		log:     cfg.Logger,
		em:      cfg.Emitter,
		store:   cfg.Store,
		deadman: NewDeadManSwitch(cfg.Safety.Keywords),
		state:   StateNotStarted,
	}
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// PausedReason returns the dead-man reason, empty unless paused.
func (s *Session) PausedReason() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.pausedReason
}

func (s *Session) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// Resume clears a dead-man pause after a human has dealt with the page.
func (s *Session) Resume() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state != StatePaused {
		return fmt.Errorf("%w: resume from %s", ErrState, s.state)
	}
	s.state = StateReady
	s.pausedReason = ""
	s.log.Info("session: resumed")
	s.em.Emit("session.resumed", nil)
	return nil
}

// ChatCompletion sends the prompt through the UI and returns the
// assistant's reply once it has stabilized. Concurrent calls queue in
// arrival order. The exchange is recorded to the transcript store.
func (s *Session) ChatCompletion(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginBusy(); err != nil {
		return "", err
	}
	started := time.Now()
	reply, err := s.chat(ctx, prompt)
	s.endBusy()

	s.record(ctx, prompt, reply, started, err)
	return reply, err
}

func (s *Session) beginBusy() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	switch s.state {
	case StateReady:
		s.state = StateBusy
		return nil
	case StatePaused:
		return fmt.Errorf("%w: paused (%s)", ErrState, s.pausedReason)
	default:
		return fmt.Errorf("%w: completion from %s", ErrState, s.state)
	}
}

// endBusy returns to Ready unless the completion paused or closed the
// session in the meantime.
func (s *Session) endBusy() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state == StateBusy {
		s.state = StateReady
	}
}

func (s *Session) chat(ctx context.Context, prompt string) (string, error) {
	reply, err := s.exchange(ctx, prompt)
	if err != nil {
		s.interrupt(ctx, err)
		return "", err
	}
	return reply, nil
}

// exchange is the full prompt/reply sequence against the live page.
func (s *Session) exchange(ctx context.Context, prompt string) (string, error) {
	// Baseline: the assistant text already on screen, so the wait loop
	// does not mistake the previous answer for the new one.
	baseline, err := s.dom.LastAssistantText(ctx, s.msgCfg())
	if err != nil {
		s.log.Debug("session: baseline capture failed", "error", err)
		baseline = ""
	}

	if _, err := s.dom.WaitForSelector(ctx, s.cfg.Chat.InputSelector, cdpdom.WaitOptions{
		Timeout: s.cfg.Chat.InputTimeout,
	}); err != nil {
		return "", err
	}

	if err := s.approachAndClick(ctx, s.cfg.Chat.InputSelector, ""); err != nil {
		return "", err
	}
	if err := sleepCtx(ctx, s.cfg.Motion.PostClickDelay); err != nil {
		return "", err
	}

	if err := s.hybrid.Enter(ctx, prompt); err != nil {
		return "", err
	}
	if err := s.sink.Hotkey("enter"); err != nil {
		return "", err
	}
	s.em.Emit("session.prompt_sent", events.Fields{"chars": len(prompt)})

	onTick := func() {}
	if s.cfg.Motion.Flick == nil || *s.cfg.Motion.Flick {
		fl := newFlicker(s.sink, s.flickRNG)
		defer fl.Close()
		onTick = fl.Tick
	}
	return s.waitForAssistantReply(ctx, baseline, onTick)
}

// approachAndClick moves the cursor onto the element and clicks it:
// gaussian interior point, calibration to screen coordinates, bounded
// uniform noise, optional detour, then the precise approach.
func (s *Session) approachAndClick(ctx context.Context, selector, within string) error {
	pt, err := s.dom.GaussianInteriorPoint(ctx, selector, within, s.rng)
	if err != nil {
		return err
	}
	sx, sy := s.toScreen(pt)
	x := sx + uniform(s.rng, -s.cfg.Motion.NoiseX, s.cfg.Motion.NoiseX)
	y := sy + uniform(s.rng, -s.cfg.Motion.NoiseY, s.cfg.Motion.NoiseY)

	s.focusWindow()
	if err := sleepCtx(ctx, s.cfg.Motion.PreInteractDelay); err != nil {
		return err
	}

	if s.rng.Float64() < s.cfg.Motion.DetourChance {
		s.detour(ctx, x, y)
	}
	if err := s.mouse.MoveTo(ctx, x, y); err != nil {
		return err
	}
	cal := s.appliedCalibration()
	s.em.Emit("session.click", events.Fields{
		"selector":   selector,
		"viewport_x": pt.X, "viewport_y": pt.Y,
		"scale_x": cal.ScaleX, "scale_y": cal.ScaleY,
		"offset_x": cal.OffsetX, "offset_y": cal.OffsetY,
		"screen_x": sx, "screen_y": sy,
		"x": x, "y": y,
	})
	return s.sink.Click()
}

// appliedCalibration reports the transform toScreen actually uses, for
// event emission. Without a loaded calibration this is the identity
// plus the window-chrome y offset.
func (s *Session) appliedCalibration() calib.Calibration {
	if s.hasCal {
		return s.cal
	}
	c := calib.Identity()
	c.OffsetY = s.cfg.Motion.OffsetY
	return c
}

// detour adds one perpendicular waypoint partway to the target. Any
// failure is swallowed: the precise approach follows regardless.
func (s *Session) detour(ctx context.Context, tx, ty float64) {
	sx, sy := s.sink.Position()
	dx, dy := tx-sx, ty-sy
	dist := math.Hypot(dx, dy)
	if dist < 1 {
		return
	}
	t := 0.25 + 0.40*s.rng.Float64()
	bend := uniform(s.rng, -60, 60)
	wx := sx + dx*t - dy/dist*bend
	wy := sy + dy*t + dx/dist*bend
	dur := jitter(s.rng, 180*time.Millisecond, 350*time.Millisecond)
	if err := s.mouse.MoveToIn(ctx, wx, wy, dur); err != nil {
		return
	}
	_ = sleepCtx(ctx, jitter(s.rng, 30*time.Millisecond, 120*time.Millisecond))
}

// toScreen converts a viewport point to screen coordinates: the stored
// calibration when one is loaded, otherwise the window-chrome offset.
func (s *Session) toScreen(p cdpdom.ViewportPoint) (float64, float64) {
	if s.hasCal {
		return s.cal.Apply(p.X, p.Y)
	}
	return p.X, p.Y + s.cfg.Motion.OffsetY
}

// interrupt handles a failed completion: if the dead-man switch matches
// the error text or a script-free page-body snapshot, the session pauses
// and an operator alert is raised. The cause propagates unmodified.
func (s *Session) interrupt(ctx context.Context, cause error) {
	_, hit := s.deadman.Scan(cause.Error())
	if !hit {
		body, err := s.dom.ExtractText(context.WithoutCancel(ctx), "body", "")
		if err == nil {
			_, hit = s.deadman.Scan(body)
		}
	}
	if !hit {
		return
	}

	s.stateMu.Lock()
	if s.state == StateBusy {
		s.state = StatePaused
		s.pausedReason = cause.Error()
	}
	s.stateMu.Unlock()

	s.log.Warn("session: paused by dead-man switch", "reason", cause.Error())
	s.em.Emit("session.paused", events.Fields{"reason": cause.Error()})
	alert()
}

// alert rings the terminal bell so a nearby human looks up.
func alert() {
	fmt.Fprint(os.Stderr, "\a")
}

func (s *Session) record(ctx context.Context, prompt, reply string, started time.Time, cause error) {
	durMS := time.Since(started).Milliseconds()
	status := "ok"
	errText := ""
	if cause != nil {
		errText = cause.Error()
		if s.State() == StatePaused {
			status = "paused"
		} else {
			status = "error"
		}
		s.em.Error(cause, cdpdom.Kind(cause))
	}
	s.em.Emit("session.completion", events.Fields{
		"session_id":  s.cfg.SessionID,
		"status":      status,
		"error":       errText,
		"duration_ms": durMS,
	})
	if s.store == nil {
		return
	}
	_, err := s.store.Record(context.WithoutCancel(ctx), transcript.Completion{
		SessionID:  s.cfg.SessionID,
		Prompt:     prompt,
		Reply:      reply,
		Status:     status,
		Error:      errText,
		StartedAt:  started,
		DurationMS: durMS,
	})
	if err != nil {
		s.log.Warn("session: transcript record failed", "error", err)
	}
}

// Messages returns the chat turns currently on screen.
func (s *Session) Messages(ctx context.Context) ([]cdpdom.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	return s.dom.Messages(ctx, s.msgCfg())
}

func (s *Session) msgCfg() cdpdom.MessagesConfig {
	return cdpdom.MessagesConfig{
		TurnSelector:    s.cfg.Chat.TurnSelector,
		ContentSelector: s.cfg.Chat.ContentSelector,
		Markdown:        s.cfg.Chat.Markdown,
	}
}

// usable gates flow-driver interactions. Completions use beginBusy.
func (s *Session) usable() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	switch s.state {
	case StateReady, StateBusy:
		return nil
	case StatePaused:
		return fmt.Errorf("%w: paused (%s)", ErrState, s.pausedReason)
	default:
		return fmt.Errorf("%w: %s", ErrState, s.state)
	}
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
