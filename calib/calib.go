// Package calib maps browser viewport coordinates to OS screen
// coordinates through a per-machine affine transform:
//
//	screenX = viewportX*ScaleX + OffsetX
//	screenY = viewportY*ScaleY + OffsetY
//
// The transform absorbs window chrome, display scaling and window
// position. It is captured once from two known on-page targets and
// persisted as JSON.
package calib

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "embed"
)

// ErrConfiguration covers unreadable calibration files and degenerate
// capture geometry.
var ErrConfiguration = errors.New("calib: configuration")

// CalibrateHTML is the two-target capture page served during
// interactive calibration.
//
//go:embed calibrate.html
var CalibrateHTML []byte

// Calibration is an immutable affine viewport→screen transform.
type Calibration struct {
	ScaleX  float64
	ScaleY  float64
	OffsetX float64
	OffsetY float64
}

// Identity is the no-op transform: viewport coordinates are screen
// coordinates. Correct when the page occupies the full display at 1:1
// scaling.
func Identity() Calibration {
	return Calibration{ScaleX: 1, ScaleY: 1}
}

// Apply transforms a viewport point to screen coordinates.
func (c Calibration) Apply(x, y float64) (float64, float64) {
	return x*c.ScaleX + c.OffsetX, y*c.ScaleY + c.OffsetY
}

// calibrationFile is the v1 on-disk schema. Only the four transform
// fields parameterize the transform; the rest is provenance metadata.
type calibrationFile struct {
	Version   int     `json:"version"`
	ScaleX    float64 `json:"scale_x"`
	ScaleY    float64 `json:"scale_y"`
	OffsetX   float64 `json:"offset_x"`
	OffsetY   float64 `json:"offset_y"`
	CreatedAt int64   `json:"created_at,omitempty"`
	Platform  string  `json:"platform,omitempty"`
}

// Load reads a calibration file.
func Load(path string) (Calibration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Calibration{}, fmt.Errorf("%w: read %s: %v", ErrConfiguration, path, err)
	}

	// Decode into a map first so missing keys are distinguishable from
	// explicit zeros.
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Calibration{}, fmt.Errorf("%w: %s is not a JSON object: %v", ErrConfiguration, path, err)
	}
	for _, k := range []string{"scale_x", "scale_y", "offset_x", "offset_y"} {
		if _, ok := obj[k]; !ok {
			return Calibration{}, fmt.Errorf("%w: %s missing %q", ErrConfiguration, path, k)
		}
	}

	var f calibrationFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return Calibration{}, fmt.Errorf("%w: %s values must be numbers: %v", ErrConfiguration, path, err)
	}
	return Calibration{ScaleX: f.ScaleX, ScaleY: f.ScaleY, OffsetX: f.OffsetX, OffsetY: f.OffsetY}, nil
}

// Write persists a calibration with provenance metadata, creating
// parent directories as needed.
func Write(c Calibration, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("calib: mkdir for %s: %w", path, err)
	}
	payload, err := json.MarshalIndent(calibrationFile{
		Version:   1,
		ScaleX:    c.ScaleX,
		ScaleY:    c.ScaleY,
		OffsetX:   c.OffsetX,
		OffsetY:   c.OffsetY,
		CreatedAt: time.Now().Unix(),
		Platform:  runtime.GOOS,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("calib: marshal: %w", err)
	}
	if err := os.WriteFile(path, append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("calib: write %s: %w", path, err)
	}
	return nil
}

// DefaultPath is the per-user calibration location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("calib: user config dir: %w", err)
	}
	return filepath.Join(dir, "nibs", "calibration.json"), nil
}

// Point pairs a viewport coordinate with the screen coordinate observed
// for the same on-page target.
type Point struct {
	ViewportX float64
	ViewportY float64
	ScreenX   float64
	ScreenY   float64
}

// Solve derives the affine transform from two capture points. The
// points must differ on both axes; identical viewport coordinates on
// either axis make the system unsolvable and return ErrConfiguration.
func Solve(a, b Point) (Calibration, error) {
	dxv := b.ViewportX - a.ViewportX
	dyv := b.ViewportY - a.ViewportY
	if dxv == 0 || dyv == 0 {
		return Calibration{}, fmt.Errorf("%w: degenerate calibration points (no delta); resize the window and retry", ErrConfiguration)
	}

	sx := (b.ScreenX - a.ScreenX) / dxv
	sy := (b.ScreenY - a.ScreenY) / dyv
	return Calibration{
		ScaleX:  sx,
		ScaleY:  sy,
		OffsetX: a.ScreenX - sx*a.ViewportX,
		OffsetY: a.ScreenY - sy*a.ViewportY,
	}, nil
}
