package calib

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestApply(t *testing.T) {
	c := Calibration{ScaleX: 2, ScaleY: 1.5, OffsetX: 10, OffsetY: -5}
	x, y := c.Apply(100, 200)
	if x != 210 || y != 295 {
		t.Errorf("Apply(100, 200) = (%v, %v), want (210, 295)", x, y)
	}
}

func TestIdentity(t *testing.T) {
	x, y := Identity().Apply(33.5, 44.25)
	if x != 33.5 || y != 44.25 {
		t.Errorf("identity Apply = (%v, %v), want unchanged", x, y)
	}
}

func TestSolve(t *testing.T) {
	// Known transform: scale (1.25, 1.25), offset (8, 120).
	want := Calibration{ScaleX: 1.25, ScaleY: 1.25, OffsetX: 8, OffsetY: 120}
	mk := func(vx, vy float64) Point {
		sx, sy := want.Apply(vx, vy)
		return Point{ViewportX: vx, ViewportY: vy, ScreenX: sx, ScreenY: sy}
	}

	got, err := Solve(mk(166, 206), mk(1200, 700))
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	const eps = 1e-9
	if math.Abs(got.ScaleX-want.ScaleX) > eps || math.Abs(got.ScaleY-want.ScaleY) > eps ||
		math.Abs(got.OffsetX-want.OffsetX) > eps || math.Abs(got.OffsetY-want.OffsetY) > eps {
		t.Errorf("Solve = %+v, want %+v", got, want)
	}
}

func TestSolveDegenerate(t *testing.T) {
	a := Point{ViewportX: 100, ViewportY: 100, ScreenX: 100, ScreenY: 100}
	b := Point{ViewportX: 100, ViewportY: 500, ScreenX: 120, ScreenY: 520}
	if _, err := Solve(a, b); !errors.Is(err, ErrConfiguration) {
		t.Errorf("err = %v, want ErrConfiguration", err)
	}
}

func TestWriteLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "calibration.json")
	want := Calibration{ScaleX: 1.25, ScaleY: 1.3, OffsetX: 8, OffsetY: 121}

	if err := Write(want, path); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != want {
		t.Errorf("Load = %+v, want %+v", got, want)
	}

	// Metadata is persisted but never parameterizes the transform.
	raw, _ := os.ReadFile(path)
	if !strings.Contains(string(raw), `"version"`) || !strings.Contains(string(raw), `"platform"`) {
		t.Errorf("file missing provenance metadata: %s", raw)
	}
}

func TestLoadMissingField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")
	os.WriteFile(path, []byte(`{"scale_x": 1, "scale_y": 1, "offset_x": 0}`), 0o644)

	if _, err := Load(path); !errors.Is(err, ErrConfiguration) {
		t.Errorf("err = %v, want ErrConfiguration", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); !errors.Is(err, ErrConfiguration) {
		t.Errorf("err = %v, want ErrConfiguration", err)
	}
}

func TestCalibrateHTMLEmbedded(t *testing.T) {
	page := string(CalibrateHTML)
	if !strings.Contains(page, "calibrate-a") || !strings.Contains(page, "calibrate-b") {
		t.Error("embedded page missing calibration targets")
	}
}
