package flow

import (
	"fmt"
	"regexp"
	"strings"
)

var templateRe = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// RenderTemplate substitutes {{name}} placeholders from the context.
// Unknown names are ErrSpec: a typo must fail before anything runs, not
// silently render empty.
func RenderTemplate(s string, vars *Context) (string, error) {
	var firstErr error
	out := templateRe.ReplaceAllStringFunc(s, func(m string) string {
		name := templateRe.FindStringSubmatch(m)[1]
		v, ok := vars.Get(name)
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: unknown variable in template: %q", ErrSpec, name)
			}
			return m
		}
		if v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
	return out, firstErr
}

// renderValue recursively renders templates in strings inside JSON-ish
// values.
func renderValue(v any, vars *Context) (any, error) {
	switch t := v.(type) {
	case string:
		return RenderTemplate(t, vars)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			r, err := renderValue(e, vars)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			r, err := renderValue(e, vars)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// Context is an ordered-insertion variable scope: iteration follows
// first-assignment order, which keeps emitted result vars stable.
type Context struct {
	keys []string
	vals map[string]any
}

// NewContext creates an empty Context.
func NewContext() *Context {
	return &Context{vals: map[string]any{}}
}

// Set assigns a variable, preserving its original insertion position.
func (c *Context) Set(name string, v any) {
	if _, ok := c.vals[name]; !ok {
		c.keys = append(c.keys, name)
	}
	c.vals[name] = v
}

// Get returns a variable and whether it exists.
func (c *Context) Get(name string) (any, bool) {
	v, ok := c.vals[name]
	return v, ok
}

// Names returns variable names in insertion order.
func (c *Context) Names() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// String renders the context for logs.
func (c *Context) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range c.keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", k, c.vals[k])
	}
	b.WriteByte('}')
	return b.String()
}
