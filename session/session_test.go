package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/nibs/cdpdom"
	"github.com/hazyhaar/nibs/events"
	"github.com/hazyhaar/nibs/motion"
	"github.com/hazyhaar/nibs/osinput"
)

// fakeDOM serves canned chat state and tracks call concurrency.
type fakeDOM struct {
	mu        sync.Mutex
	active    int
	maxActive int

	baseline string // assistant text before the prompt is sent
	reply    string // assistant text afterwards
	bodyText string
	waitErr  error

	lastCalls int
}

func (f *fakeDOM) enter() func() {
	f.mu.Lock()
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}
}

func (f *fakeDOM) WaitForSelector(ctx context.Context, selector string, opts cdpdom.WaitOptions) (cdpdom.NodeHandle, error) {
	defer f.enter()()
	return cdpdom.NodeHandle{}, f.waitErr
}

func (f *fakeDOM) GaussianInteriorPoint(ctx context.Context, selector, within string, rng *rand.Rand) (cdpdom.ViewportPoint, error) {
	defer f.enter()()
	return cdpdom.ViewportPoint{X: 200, Y: 120}, nil
}

func (f *fakeDOM) ViewportCenter(ctx context.Context, selector, within string) (cdpdom.ViewportPoint, error) {
	defer f.enter()()
	return cdpdom.ViewportPoint{X: 200, Y: 120}, nil
}

func (f *fakeDOM) ExtractText(ctx context.Context, selector, within string) (string, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodyText, nil
}

func (f *fakeDOM) Messages(ctx context.Context, cfg cdpdom.MessagesConfig) ([]cdpdom.ChatMessage, error) {
	defer f.enter()()
	return nil, nil
}

// LastAssistantText returns the baseline on its first call per
// completion shape: the orchestrator captures the baseline before any
// input, then polls. We approximate with a global first-call switch.
func (f *fakeDOM) LastAssistantText(ctx context.Context, cfg cdpdom.MessagesConfig) (string, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCalls++
	if f.lastCalls == 1 {
		return f.baseline, nil
	}
	return f.reply, nil
}

func (f *fakeDOM) setBody(text string) {
	f.mu.Lock()
	f.bodyText = text
	f.mu.Unlock()
}

type fakeClip struct{ content string }

func (c *fakeClip) Read() (string, error)   { return c.content, nil }
func (c *fakeClip) Write(text string) error { c.content = text; return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var fastMouse = motion.MouseConfig{
	SampleRate:  2000,
	MinDuration: 2 * time.Millisecond,
	MaxDuration: 10 * time.Millisecond,
	Spectral:    true,
}

var fastTyper = motion.TyperConfig{
	BaseDelay:      time.Microsecond,
	DistCoeff:      time.Microsecond,
	LogNormalScale: time.Microsecond,
	Hold:           time.Microsecond,
}

func newTestSession(t *testing.T, d *fakeDOM, sink osinput.Sink) *Session {
	t.Helper()
	cfg := Config{URL: "https://chat.test", Logger: testLogger()}
	cfg.applyDefaults()
	cfg.Chat.InputTimeout = 200 * time.Millisecond
	cfg.Chat.ReplyTimeout = 400 * time.Millisecond
	cfg.Chat.ReplyStable = 20 * time.Millisecond
	cfg.Chat.ReplyPoll = 5 * time.Millisecond
	cfg.Motion.PreInteractDelay = time.Millisecond
	cfg.Motion.PostClickDelay = time.Millisecond
	// Flick bursts would race the recorder's op counts.
	off := false
	cfg.Motion.Flick = &off

	const seed = 7
	return &Session{
		cfg:     cfg,
		log:     cfg.Logger,
		deadman: NewDeadManSwitch(nil),
		state:   StateReady,
		sink:    sink,
		mouse:   motion.NewMouse(sink, motion.DeriveRNG(seed, "mouse"), fastMouse),
		hybrid: motion.NewHybrid(sink, motion.DeriveRNG(seed, "typer"), motion.HybridConfig{
			Typer: fastTyper,
		}, &fakeClip{}),
		rng:      motion.DeriveRNG(seed, "session"),
		flickRNG: motion.DeriveRNG(seed, "flick"),
		dom:      d,
	}
}

func TestChatCompletionHappyPath(t *testing.T) {
	d := &fakeDOM{reply: "The answer is 42."}
	rec := osinput.NewRecorder(10, 10)
	s := newTestSession(t, d, rec)

	reply, err := s.ChatCompletion(context.Background(), "what is 6x7?")
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if reply != "The answer is 42." {
		t.Errorf("reply = %q", reply)
	}
	if got := s.State(); got != StateReady {
		t.Errorf("state = %s, want ready", got)
	}

	var clicks, enters int
	for _, op := range rec.Ops() {
		if op.Kind == "click" {
			clicks++
		}
		if op.Kind == "hotkey" && op.Key == "enter" {
			enters++
		}
	}
	if clicks != 1 {
		t.Errorf("clicks = %d, want 1", clicks)
	}
	if enters != 1 {
		t.Errorf("enter presses = %d, want 1", enters)
	}
}

func TestClickEventCoordinateBreakdown(t *testing.T) {
	d := &fakeDOM{reply: "done"}
	s := newTestSession(t, d, osinput.NewRecorder(10, 10))
	var buf bytes.Buffer
	s.em = events.New(&buf)

	if _, err := s.ChatCompletion(context.Background(), "hi"); err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}

	// fakeDOM's interior point is (200, 120); with no calibration the
	// screen point is viewport y plus the default chrome offset.
	out := buf.String()
	for _, want := range []string{
		`"event":"session.click"`,
		`"viewport_x":200`, `"viewport_y":120`,
		`"scale_x":1`, `"scale_y":1`,
		`"offset_x":0`, `"offset_y":80`,
		`"screen_x":200`, `"screen_y":200`,
		`"x":`, `"y":`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("click event missing %s in %s", want, out)
		}
	}
}

func TestErrorEventOnStream(t *testing.T) {
	// A surfaced completion error must land on the audit stream as a
	// structured error record with its taxonomy kind.
	d := &fakeDOM{baseline: "old answer", reply: "old answer"}
	s := newTestSession(t, d, osinput.NewRecorder(0, 0))
	s.cfg.Chat.ReplyTimeout = 60 * time.Millisecond
	var buf bytes.Buffer
	s.em = events.New(&buf)

	if _, err := s.ChatCompletion(context.Background(), "again?"); !errors.Is(err, cdpdom.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"event":"error"`) || !strings.Contains(out, `"errorKind":"timeout"`) {
		t.Errorf("no error record on the stream: %s", out)
	}
	if !strings.Contains(out, `"event":"session.completion"`) || !strings.Contains(out, `"status":"error"`) {
		t.Errorf("completion record missing or unmarked: %s", out)
	}
}

func TestChatCompletionBaselineSuppressed(t *testing.T) {
	// The page keeps showing the previous answer; the wait must time
	// out instead of returning stale text.
	d := &fakeDOM{baseline: "old answer", reply: "old answer"}
	s := newTestSession(t, d, osinput.NewRecorder(0, 0))
	s.cfg.Chat.ReplyTimeout = 60 * time.Millisecond

	_, err := s.ChatCompletion(context.Background(), "again?")
	if !errors.Is(err, cdpdom.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if got := s.State(); got != StateReady {
		t.Errorf("state = %s, want ready after plain timeout", got)
	}
}

func TestDeadManPausesAndRethrows(t *testing.T) {
	d := &fakeDOM{reply: "Please verify you are human to continue"}
	s := newTestSession(t, d, osinput.NewRecorder(0, 0))

	_, err := s.ChatCompletion(context.Background(), "hello")
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
	if got := s.State(); got != StatePaused {
		t.Fatalf("state = %s, want paused", got)
	}
	if s.PausedReason() == "" {
		t.Error("PausedReason is empty")
	}

	// Paused sessions refuse completions until resumed.
	if _, err := s.ChatCompletion(context.Background(), "again"); !errors.Is(err, ErrState) {
		t.Errorf("completion while paused: err = %v, want ErrState", err)
	}

	if err := s.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got := s.State(); got != StateReady {
		t.Errorf("state after resume = %s", got)
	}
	if s.PausedReason() != "" {
		t.Errorf("PausedReason after resume = %q", s.PausedReason())
	}
}

func TestDeadManBodySnapshot(t *testing.T) {
	// The failure itself says nothing, but the page body shows a
	// challenge: pause, and rethrow the original error untouched.
	cause := errors.New("node vanished mid-click")
	d := &fakeDOM{waitErr: cause, bodyText: "Unusual traffic detected from your network"}
	s := newTestSession(t, d, osinput.NewRecorder(0, 0))

	_, err := s.ChatCompletion(context.Background(), "hello")
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want the original cause", err)
	}
	if got := s.State(); got != StatePaused {
		t.Errorf("state = %s, want paused", got)
	}
	if !strings.Contains(s.PausedReason(), "vanished") {
		t.Errorf("PausedReason = %q, want the cause text", s.PausedReason())
	}
}

func TestPlainErrorDoesNotPause(t *testing.T) {
	cause := errors.New("node vanished mid-click")
	d := &fakeDOM{waitErr: cause, bodyText: "just a normal page"}
	s := newTestSession(t, d, osinput.NewRecorder(0, 0))

	_, err := s.ChatCompletion(context.Background(), "hello")
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want the original cause", err)
	}
	if got := s.State(); got != StateReady {
		t.Errorf("state = %s, want ready", got)
	}
}

func TestCompletionsSerialized(t *testing.T) {
	d := &fakeDOM{reply: "done"}
	s := newTestSession(t, d, osinput.NewRecorder(0, 0))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.ChatCompletion(context.Background(), "race?")
		}()
	}
	wg.Wait()

	if d.maxActive > 1 {
		t.Errorf("dom saw %d concurrent calls, want serialized access", d.maxActive)
	}
}

func TestResumeFromReadyFails(t *testing.T) {
	s := newTestSession(t, &fakeDOM{}, osinput.NewRecorder(0, 0))
	if err := s.Resume(); !errors.Is(err, ErrState) {
		t.Errorf("Resume from ready: err = %v, want ErrState", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	s := newTestSession(t, &fakeDOM{}, osinput.NewRecorder(0, 0))
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := s.ChatCompletion(context.Background(), "x"); !errors.Is(err, ErrState) {
		t.Errorf("completion after close: err = %v, want ErrState", err)
	}
}

func TestStartRequiresNotStarted(t *testing.T) {
	s := newTestSession(t, &fakeDOM{}, osinput.NewRecorder(0, 0))
	// The test session is already Ready.
	if err := s.Start(context.Background()); !errors.Is(err, ErrState) {
		t.Errorf("Start from ready: err = %v, want ErrState", err)
	}
}

func TestStateString(t *testing.T) {
	want := map[State]string{
		StateNotStarted: "not_started",
		StateReady:      "ready",
		StateBusy:       "busy",
		StatePaused:     "paused",
		StateClosed:     "closed",
	}
	for st, name := range want {
		if st.String() != name {
			t.Errorf("State(%d).String() = %q, want %q", st, st.String(), name)
		}
	}
}
