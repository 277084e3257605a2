package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// fakeDriver records calls and serves canned text.
type fakeDriver struct {
	calls []string
	text  map[string]string
}

func (d *fakeDriver) record(format string, args ...any) {
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	d.record("navigate(%s)", url)
	return nil
}

func (d *fakeDriver) Click(ctx context.Context, selector, within string) error {
	d.record("click(%s,%s)", selector, within)
	return nil
}

func (d *fakeDriver) Type(ctx context.Context, opts TypeOptions) error {
	d.record("type(%s,%q,enter=%v)", opts.Selector, opts.Text, opts.PressEnter)
	return nil
}

func (d *fakeDriver) Press(ctx context.Context, key string) error {
	d.record("press(%s)", key)
	return nil
}

func (d *fakeDriver) WaitForSelector(ctx context.Context, selector, within string, timeout time.Duration) error {
	d.record("wait_for_selector(%s)", selector)
	return nil
}

func (d *fakeDriver) WaitForText(ctx context.Context, selector, within, contains string, timeout, poll time.Duration) (string, error) {
	d.record("wait_for_text(%s,%s)", selector, contains)
	if t, ok := d.text[selector]; ok {
		return t, nil
	}
	return "", errors.New("no text")
}

func (d *fakeDriver) ExtractText(ctx context.Context, selector, within string, timeout time.Duration) (string, error) {
	d.record("extract_text(%s)", selector)
	if t, ok := d.text[selector]; ok {
		return t, nil
	}
	return "", errors.New("no text")
}

func mustParse(t *testing.T, doc string) *Spec {
	t.Helper()
	s, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return s
}

func TestRunSubstitutesVars(t *testing.T) {
	d := &fakeDriver{text: map[string]string{"#out": "42"}}
	spec := mustParse(t, `{
		"vars": {"q": "what is 6x7?", "base": "https://example.test"},
		"steps": [
			{"action": "navigate", "url": "{{base}}/chat"},
			{"action": "type", "selector": "#prompt", "text": "{{q}}", "press_enter": true},
			{"action": "extract_text", "selector": "#out", "into": "answer"}
		],
		"result": "answer={{answer}}"
	}`)

	res, err := NewRunner(d, nil).Run(context.Background(), spec, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Value != "answer=42" {
		t.Errorf("result = %q, want answer=42", res.Value)
	}
	want := []string{
		"navigate(https://example.test/chat)",
		`type(#prompt,"what is 6x7?",enter=true)`,
		"extract_text(#out)",
	}
	if len(d.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", d.calls, want)
	}
	for i := range want {
		if d.calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, d.calls[i], want[i])
		}
	}
}

func TestRunOverridesBeatSpecVars(t *testing.T) {
	d := &fakeDriver{}
	spec := mustParse(t, `{
		"vars": {"url": "https://default.test"},
		"steps": [{"action": "navigate", "url": "{{url}}"}]
	}`)

	_, err := NewRunner(d, nil).Run(context.Background(), spec, map[string]any{"url": "https://override.test"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if d.calls[0] != "navigate(https://override.test)" {
		t.Errorf("call = %q, want override url", d.calls[0])
	}
}

func TestRunUnknownVarFailsBeforeSideEffects(t *testing.T) {
	d := &fakeDriver{}
	spec := mustParse(t, `{
		"steps": [{"action": "navigate", "url": "{{missing}}"}]
	}`)

	_, err := NewRunner(d, nil).Run(context.Background(), spec, nil)
	if !errors.Is(err, ErrSpec) {
		t.Fatalf("err = %v, want ErrSpec", err)
	}
	if len(d.calls) != 0 {
		t.Errorf("driver was called despite spec error: %v", d.calls)
	}
}

func TestRunUnknownActionFailsBeforeSideEffects(t *testing.T) {
	d := &fakeDriver{}
	spec := mustParse(t, `{
		"steps": [{"action": "teleport", "url": "x"}]
	}`)

	_, err := NewRunner(d, nil).Run(context.Background(), spec, nil)
	if !errors.Is(err, ErrSpec) {
		t.Fatalf("err = %v, want ErrSpec", err)
	}
	if len(d.calls) != 0 {
		t.Errorf("driver was called: %v", d.calls)
	}
}

func TestRunMissingFieldFailsBeforeStepRuns(t *testing.T) {
	d := &fakeDriver{}
	spec := mustParse(t, `{
		"steps": [
			{"action": "navigate", "url": "https://a.test"},
			{"action": "click"}
		]
	}`)

	_, err := NewRunner(d, nil).Run(context.Background(), spec, nil)
	if !errors.Is(err, ErrSpec) {
		t.Fatalf("err = %v, want ErrSpec", err)
	}
	// Step 0 executed and stays executed.
	if len(d.calls) != 1 || !strings.HasPrefix(d.calls[0], "navigate") {
		t.Errorf("calls = %v, want only the first navigate", d.calls)
	}
}

func TestRunSetAndDefaultResultVar(t *testing.T) {
	d := &fakeDriver{}
	spec := mustParse(t, `{
		"steps": [{"action": "set", "name": "result", "value": "done"}]
	}`)

	res, err := NewRunner(d, nil).Run(context.Background(), spec, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Value != "done" {
		t.Errorf("result = %q, want done", res.Value)
	}
}

func TestRunWaitForTextInto(t *testing.T) {
	d := &fakeDriver{text: map[string]string{"#status": "ready to go"}}
	spec := mustParse(t, `{
		"steps": [
			{"action": "wait_for_text", "selector": "#status", "contains": "ready", "into": "status"}
		],
		"result": "{{status}}"
	}`)

	res, err := NewRunner(d, nil).Run(context.Background(), spec, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Value != "ready to go" {
		t.Errorf("result = %q", res.Value)
	}
}

func TestParseRejectsMissingSteps(t *testing.T) {
	if _, err := Parse([]byte(`{"vars": {}}`)); !errors.Is(err, ErrSpec) {
		t.Errorf("err = %v, want ErrSpec", err)
	}
	if _, err := Parse([]byte(`not json`)); !errors.Is(err, ErrSpec) {
		t.Errorf("err = %v, want ErrSpec", err)
	}
}

func TestRunSeedsVarsInSortedOrder(t *testing.T) {
	// The initial scope must not depend on map iteration order.
	spec, err := Parse([]byte(`{
		"vars": {"zeta": 1, "alpha": 2, "mid": 3},
		"steps": []
	}`))
	if err != nil {
		t.Fatal(err)
	}

	res, err := NewRunner(&fakeDriver{}, nil).Run(context.Background(), spec, map[string]any{"omega": 4, "beta": 5})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"alpha", "mid", "zeta", "beta", "omega"}
	got := res.Vars.Names()
	if len(got) != len(want) {
		t.Fatalf("Names = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Names = %v, want %v", got, want)
		}
	}
}

func TestContextInsertionOrder(t *testing.T) {
	c := NewContext()
	c.Set("b", 1)
	c.Set("a", 2)
	c.Set("b", 3)

	names := c.Names()
	if len(names) != 2 || names[0] != "b" || names[1] != "a" {
		t.Errorf("Names = %v, want [b a]", names)
	}
	if v, _ := c.Get("b"); v != 3 {
		t.Errorf("b = %v, want 3", v)
	}
}

func TestRenderTemplateNil(t *testing.T) {
	c := NewContext()
	c.Set("x", nil)
	got, err := RenderTemplate("a{{x}}b", c)
	if err != nil {
		t.Fatalf("RenderTemplate: %v", err)
	}
	if got != "ab" {
		t.Errorf("got %q, want ab", got)
	}
}
