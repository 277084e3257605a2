package session

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/nibs/cdpdom"
	"github.com/hazyhaar/nibs/events"
	"github.com/hazyhaar/nibs/flow"
	"github.com/hazyhaar/nibs/osinput"
)

type fakePager struct {
	navigated []string
	loaded    int
}

func (p *fakePager) Navigate(url string) error { p.navigated = append(p.navigated, url); return nil }
func (p *fakePager) WaitLoad() error           { p.loaded++; return nil }

func TestDriverNavigate(t *testing.T) {
	s := newTestSession(t, &fakeDOM{}, osinput.NewRecorder(0, 0))
	p := &fakePager{}
	s.page = p

	if err := s.Navigate(context.Background(), "https://chat.test/new"); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if len(p.navigated) != 1 || p.navigated[0] != "https://chat.test/new" {
		t.Errorf("navigated = %v", p.navigated)
	}
	if p.loaded != 1 {
		t.Errorf("WaitLoad calls = %d, want 1", p.loaded)
	}
}

func TestDriverTypeClicksThenTypesThenEnters(t *testing.T) {
	rec := osinput.NewRecorder(0, 0)
	s := newTestSession(t, &fakeDOM{}, rec)

	err := s.Type(context.Background(), flow.TypeOptions{
		Selector:   "#prompt",
		Text:       "hi",
		ClickFirst: true,
		PressEnter: true,
	})
	if err != nil {
		t.Fatalf("Type: %v", err)
	}

	var clickAt, firstKeyAt, enterAt = -1, -1, -1
	for i, op := range rec.Ops() {
		switch {
		case op.Kind == "click" && clickAt < 0:
			clickAt = i
		case op.Kind == "keyDown" && firstKeyAt < 0:
			firstKeyAt = i
		case op.Kind == "hotkey" && op.Key == "enter":
			enterAt = i
		}
	}
	if clickAt < 0 || firstKeyAt < 0 || enterAt < 0 {
		t.Fatalf("missing phases: click=%d key=%d enter=%d", clickAt, firstKeyAt, enterAt)
	}
	if !(clickAt < firstKeyAt && firstKeyAt < enterAt) {
		t.Errorf("phase order click=%d key=%d enter=%d, want click < key < enter", clickAt, firstKeyAt, enterAt)
	}
}

func TestDriverWaitForText(t *testing.T) {
	d := &fakeDOM{bodyText: "loading"}
	s := newTestSession(t, d, osinput.NewRecorder(0, 0))
	var buf bytes.Buffer
	s.em = events.New(&buf)

	go func() {
		time.Sleep(30 * time.Millisecond)
		d.setBody("status: ready")
	}()

	text, err := s.WaitForText(context.Background(), "#status", "", "ready", 500*time.Millisecond, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForText: %v", err)
	}
	if text != "status: ready" {
		t.Errorf("text = %q", text)
	}
	out := buf.String()
	if !strings.Contains(out, `"event":"session.wait_for_text"`) || !strings.Contains(out, `"ok":true`) {
		t.Errorf("no wait_for_text ok event on the stream: %s", out)
	}
}

func TestDriverWaitForTextTimeout(t *testing.T) {
	d := &fakeDOM{bodyText: "still loading"}
	s := newTestSession(t, d, osinput.NewRecorder(0, 0))

	_, err := s.WaitForText(context.Background(), "#status", "", "ready", 40*time.Millisecond, 5*time.Millisecond)
	if !errors.Is(err, cdpdom.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestDriverExtractText(t *testing.T) {
	d := &fakeDOM{bodyText: "hello world"}
	s := newTestSession(t, d, osinput.NewRecorder(0, 0))

	text, err := s.ExtractText(context.Background(), "#out", "", 0)
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if text != "hello world" {
		t.Errorf("text = %q", text)
	}
}

func TestDriverRefusesWhenPaused(t *testing.T) {
	s := newTestSession(t, &fakeDOM{}, osinput.NewRecorder(0, 0))
	s.stateMu.Lock()
	s.state = StatePaused
	s.pausedReason = "captcha"
	s.stateMu.Unlock()

	if err := s.Click(context.Background(), "#x", ""); !errors.Is(err, ErrState) {
		t.Errorf("Click while paused: err = %v, want ErrState", err)
	}
	if err := s.Press(context.Background(), "enter"); !errors.Is(err, ErrState) {
		t.Errorf("Press while paused: err = %v, want ErrState", err)
	}
}
