// CLAUDE:SUMMARY X11 input sink shelling out to xdotool for mouse, keyboard and scroll synthesis.
package osinput

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// xdotoolKeysyms maps the engine's key names to xdotool keysyms. Keys
// not listed here pass through unchanged (single letters, digits).
var xdotoolKeysyms = map[string]string{
	"enter":     "Return",
	"tab":       "Tab",
	"space":     "space",
	"backspace": "BackSpace",
	"escape":    "Escape",
	"shift":     "shift",
	"ctrl":      "ctrl",
	"alt":       "alt",
	// "command" only appears in hotkeys built for darwin; map it to the
	// super key so a mismatched platform still does something sane.
	"command": "super",
}

func keysym(key string) string {
	if s, ok := xdotoolKeysyms[strings.ToLower(key)]; ok {
		return s
	}
	return key
}

// Xdotool synthesizes input on an X11 display by shelling out to the
// xdotool binary. Calls are serialized: xdotool invocations against the
// same display must not interleave.
type Xdotool struct {
	mu sync.Mutex
	// Display selects the X display (e.g. ":99"). Empty uses the
	// environment's DISPLAY.
	Display string
	// Path overrides the xdotool binary location.
	Path string
}

// NewXdotool creates an Xdotool sink, verifying the binary is present.
func NewXdotool(display string) (*Xdotool, error) {
	path, err := exec.LookPath("xdotool")
	if err != nil {
		return nil, fmt.Errorf("osinput: xdotool not found in PATH: %w", err)
	}
	return &Xdotool{Display: display, Path: path}, nil
}

func (x *Xdotool) run(args ...string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	out, err := x.command(args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("osinput: xdotool %s: %w (%s)", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (x *Xdotool) command(args ...string) *exec.Cmd {
	path := x.Path
	if path == "" {
		path = "xdotool"
	}
	cmd := exec.Command(path, args...)
	if x.Display != "" {
		cmd.Env = append(cmd.Environ(), "DISPLAY="+x.Display)
	}
	return cmd
}

func (x *Xdotool) MoveTo(xp, yp float64) error {
	return x.run("mousemove", "--sync",
		strconv.Itoa(int(xp+0.5)), strconv.Itoa(int(yp+0.5)))
}

func (x *Xdotool) Click() error {
	return x.run("click", "1")
}

func (x *Xdotool) KeyDown(key string) error {
	return x.run("keydown", "--clearmodifiers", keysym(key))
}

func (x *Xdotool) KeyUp(key string) error {
	return x.run("keyup", keysym(key))
}

func (x *Xdotool) WriteChar(ch rune) error {
	return x.run("type", "--delay", "0", "--", string(ch))
}

func (x *Xdotool) Hotkey(keys ...string) error {
	syms := make([]string, len(keys))
	for i, k := range keys {
		syms[i] = keysym(k)
	}
	return x.run("key", "--clearmodifiers", strings.Join(syms, "+"))
}

// wheelDelta is the pixel delta one X11 wheel notch stands for. Scroll
// deltas arrive in pixel-ish units; emitting one button event per pixel
// would fire hundreds of serial xdotool calls per flick.
const wheelDelta = 120

func (x *Xdotool) Scroll(delta int) error {
	button, repeat := scrollArgs(delta)
	if repeat == 0 {
		return nil
	}
	return x.run("click", "--repeat", strconv.Itoa(repeat), "--delay", "0", button)
}

// scrollArgs maps a pixel delta to an X11 wheel button (4 up, 5 down)
// and a bounded notch count.
func scrollArgs(delta int) (button string, repeat int) {
	button = "4"
	if delta < 0 {
		button, delta = "5", -delta
	}
	if delta == 0 {
		return button, 0
	}
	repeat = delta / wheelDelta
	if repeat < 1 {
		repeat = 1
	}
	if repeat > 10 {
		repeat = 10
	}
	return button, repeat
}

// Position queries the live cursor position. On query failure it
// reports (0, 0); motion code treats that as "start from the corner".
func (x *Xdotool) Position() (float64, float64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	out, err := x.command("getmouselocation", "--shell").Output()
	if err != nil {
		return 0, 0
	}
	var px, py float64
	for _, line := range strings.Split(string(out), "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		switch k {
		case "X":
			px = n
		case "Y":
			py = n
		}
	}
	return px, py
}
