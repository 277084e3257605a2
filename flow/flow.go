// CLAUDE:SUMMARY JSON flow interpreter driving browser steps with {{var}} templating and strict validation.
// Package flow interprets declarative JSON automation flows: an ordered
// list of steps (navigate, click, type, wait, extract) with a small
// {{var}} templating layer. Validation is strict and happens before a
// step runs; already-executed steps are never rolled back.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/hazyhaar/nibs/events"
)

// ErrSpec marks an invalid flow document: unknown action, missing or
// mistyped field, unresolved template variable. Raised before the
// offending step has any side effect.
var ErrSpec = errors.New("flow: spec")

// Driver is what a flow runs against. *session.Session implements it.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector, within string) error
	Type(ctx context.Context, opts TypeOptions) error
	Press(ctx context.Context, key string) error
	WaitForSelector(ctx context.Context, selector, within string, timeout time.Duration) error
	WaitForText(ctx context.Context, selector, within, contains string, timeout, poll time.Duration) (string, error)
	ExtractText(ctx context.Context, selector, within string, timeout time.Duration) (string, error)
}

// TypeOptions parameterizes a "type" step.
type TypeOptions struct {
	Selector       string
	Within         string
	Text           string
	ClickFirst     bool
	PressEnter     bool
	PostClickDelay time.Duration
}

// Spec is a parsed flow document.
type Spec struct {
	Vars   map[string]any   `json:"vars"`
	Steps  []map[string]any `json:"steps"`
	Result *string          `json:"result"`
}

// Load reads and parses a flow file.
func Load(path string) (*Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read flow file %s: %v", ErrSpec, path, err)
	}
	return Parse(raw)
}

// Parse decodes a flow document.
func Parse(raw []byte) (*Spec, error) {
	var s Spec
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrSpec, err)
	}
	if s.Steps == nil {
		return nil, fmt.Errorf("%w: 'steps' must be a list", ErrSpec)
	}
	return &s, nil
}

// Result is the outcome of a flow run.
type Result struct {
	// Value is the rendered 'result' template, or the value of the
	// context variable "result" when no template is declared.
	Value string
	// Vars is the final variable scope.
	Vars *Context
}

// Runner executes flows against a Driver.
type Runner struct {
	driver  Driver
	emitter *events.Emitter
}

// NewRunner creates a Runner. A nil emitter disables step events.
func NewRunner(d Driver, em *events.Emitter) *Runner {
	return &Runner{driver: d, emitter: em}
}

// Run executes every step in order. overrides take precedence over the
// spec's declared vars. On step failure the error is returned as-is;
// prior steps stay executed.
func (r *Runner) Run(ctx context.Context, spec *Spec, overrides map[string]any) (Result, error) {
	// Seed in sorted key order: JSON decoding loses document order and
	// map iteration would make the initial scope differ run to run.
	vars := NewContext()
	for _, k := range slices.Sorted(maps.Keys(spec.Vars)) {
		vars.Set(k, spec.Vars[k])
	}
	for _, k := range slices.Sorted(maps.Keys(overrides)) {
		vars.Set(k, overrides[k])
	}

	for i, raw := range spec.Steps {
		if err := r.runStep(ctx, i, raw, vars); err != nil {
			return Result{Vars: vars}, err
		}
	}

	if spec.Result != nil {
		value, err := RenderTemplate(*spec.Result, vars)
		if err != nil {
			return Result{Vars: vars}, err
		}
		return Result{Value: value, Vars: vars}, nil
	}
	if v, ok := vars.Get("result"); ok && v != nil {
		return Result{Value: fmt.Sprint(v), Vars: vars}, nil
	}
	return Result{Vars: vars}, nil
}

func (r *Runner) runStep(ctx context.Context, i int, raw map[string]any, vars *Context) (err error) {
	// Render before validating: an unresolvable template is a spec
	// error and must surface before the step acts.
	rendered, rerr := renderValue(raw, vars)
	step, _ := rendered.(map[string]any)

	action := ""
	if step != nil {
		action, _ = step["action"].(string)
	}

	r.emitter.Emit("flow.step.start", events.Fields{"i": i, "action": action})
	defer func() {
		f := events.Fields{"i": i, "action": action}
		if err != nil {
			f["error"] = err.Error()
		}
		r.emitter.Emit("flow.step.end", f)
	}()

	if rerr != nil {
		return fmt.Errorf("step %d: %w", i, rerr)
	}
	if action == "" {
		return fmt.Errorf("%w: step %d missing 'action'", ErrSpec, i)
	}

	st := stepFields{i: i, action: action, m: step}
	switch action {
	case "navigate":
		url, err := st.str("url")
		if err != nil {
			return err
		}
		return r.driver.Navigate(ctx, url)

	case "click":
		selector, err := st.str("selector")
		if err != nil {
			return err
		}
		within, err := st.optStr("within")
		if err != nil {
			return err
		}
		return r.driver.Click(ctx, selector, within)

	case "type":
		selector, err := st.str("selector")
		if err != nil {
			return err
		}
		within, err := st.optStr("within")
		if err != nil {
			return err
		}
		text, err := st.optStr("text")
		if err != nil {
			return err
		}
		clickFirst, err := st.optBool("click_first", true)
		if err != nil {
			return err
		}
		pressEnter, err := st.optBool("press_enter", false)
		if err != nil {
			return err
		}
		delay, err := st.optDuration("post_click_delay_s", 0)
		if err != nil {
			return err
		}
		return r.driver.Type(ctx, TypeOptions{
			Selector:       selector,
			Within:         within,
			Text:           text,
			ClickFirst:     clickFirst,
			PressEnter:     pressEnter,
			PostClickDelay: delay,
		})

	case "press":
		key, err := st.str("key")
		if err != nil {
			return err
		}
		return r.driver.Press(ctx, key)

	case "sleep":
		d, err := st.duration("seconds")
		if err != nil {
			return err
		}
		return sleep(ctx, d)

	case "wait_for_selector":
		selector, err := st.str("selector")
		if err != nil {
			return err
		}
		within, err := st.optStr("within")
		if err != nil {
			return err
		}
		timeout, err := st.optDuration("timeout_s", 0)
		if err != nil {
			return err
		}
		return r.driver.WaitForSelector(ctx, selector, within, timeout)

	case "wait_for_text":
		selector, err := st.str("selector")
		if err != nil {
			return err
		}
		contains, err := st.str("contains")
		if err != nil {
			return err
		}
		within, err := st.optStr("within")
		if err != nil {
			return err
		}
		timeout, err := st.optDuration("timeout_s", 0)
		if err != nil {
			return err
		}
		poll, err := st.optDuration("poll_s", 0)
		if err != nil {
			return err
		}
		into, err := st.optStr("into")
		if err != nil {
			return err
		}
		text, err := r.driver.WaitForText(ctx, selector, within, contains, timeout, poll)
		if err != nil {
			return err
		}
		if into != "" {
			vars.Set(into, text)
		}
		return nil

	case "extract_text":
		selector, err := st.str("selector")
		if err != nil {
			return err
		}
		within, err := st.optStr("within")
		if err != nil {
			return err
		}
		timeout, err := st.optDuration("timeout_s", 0)
		if err != nil {
			return err
		}
		into, err := st.optStr("into")
		if err != nil {
			return err
		}
		if into == "" {
			into = "result"
		}
		text, err := r.driver.ExtractText(ctx, selector, within, timeout)
		if err != nil {
			return err
		}
		vars.Set(into, text)
		return nil

	case "set":
		name, err := st.str("name")
		if err != nil {
			return err
		}
		vars.Set(name, step["value"])
		return nil

	default:
		return fmt.Errorf("%w: step %d has unknown action %q", ErrSpec, i, action)
	}
}

// stepFields validates typed field access on a rendered step.
type stepFields struct {
	i      int
	action string
	m      map[string]any
}

func (s stepFields) str(key string) (string, error) {
	v, ok := s.m[key]
	if !ok {
		return "", fmt.Errorf("%w: step %d %s requires %q", ErrSpec, s.i, s.action, key)
	}
	str, ok := v.(string)
	if !ok || str == "" {
		return "", fmt.Errorf("%w: step %d %s %q must be a non-empty string", ErrSpec, s.i, s.action, key)
	}
	return str, nil
}

func (s stepFields) optStr(key string) (string, error) {
	v, ok := s.m[key]
	if !ok || v == nil {
		return "", nil
	}
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: step %d %s %q must be a string", ErrSpec, s.i, s.action, key)
	}
	return str, nil
}

func (s stepFields) optBool(key string, def bool) (bool, error) {
	v, ok := s.m[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: step %d %s %q must be a boolean", ErrSpec, s.i, s.action, key)
	}
	return b, nil
}

func (s stepFields) duration(key string) (time.Duration, error) {
	v, ok := s.m[key]
	if !ok {
		return 0, fmt.Errorf("%w: step %d %s requires %q (number)", ErrSpec, s.i, s.action, key)
	}
	return s.seconds(key, v)
}

func (s stepFields) optDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := s.m[key]
	if !ok || v == nil {
		return def, nil
	}
	return s.seconds(key, v)
}

func (s stepFields) seconds(key string, v any) (time.Duration, error) {
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: step %d %s %q must be a number", ErrSpec, s.i, s.action, key)
	}
	return time.Duration(f * float64(time.Second)), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
