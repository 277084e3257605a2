package motion

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/hazyhaar/nibs/osinput"
)

// MouseConfig tunes the trajectory generator.
type MouseConfig struct {
	// SampleRate is the emission rate in Hz. Default: 90.
	SampleRate float64

	// MinDuration and MaxDuration bound a single move. Default: 180ms / 650ms.
	MinDuration time.Duration
	MaxDuration time.Duration

	// Tremor amplitude in pixels: TremorBase + v̂(t)·TremorVelGain.
	// Defaults: 0.35 / 1.10.
	TremorBase    float64
	TremorVelGain float64

	// Spectral selects FFT-shaped pink noise; off = leaky-integrator
	// low-pass. Default: on.
	Spectral bool
}

func (c *MouseConfig) defaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 90
	}
	if c.MinDuration <= 0 {
		c.MinDuration = 180 * time.Millisecond
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 650 * time.Millisecond
	}
	if c.TremorBase == 0 {
		c.TremorBase = 0.35
	}
	if c.TremorVelGain == 0 {
		c.TremorVelGain = 1.10
	}
}

// DefaultMouseConfig returns the standard tuning with spectral noise on.
func DefaultMouseConfig() MouseConfig {
	c := MouseConfig{Spectral: true}
	c.defaults()
	return c
}

// Mouse moves the OS cursor along minimum-jerk paths.
type Mouse struct {
	sink osinput.Sink
	rng  *rand.Rand
	cfg  MouseConfig
}

// NewMouse creates a Mouse over the given sink and RNG.
func NewMouse(sink osinput.Sink, rng *rand.Rand, cfg MouseConfig) *Mouse {
	cfg.defaults()
	return &Mouse{sink: sink, rng: rng, cfg: cfg}
}

// MoveTo moves the cursor to (x, y), choosing a duration from the
// distance heuristic: minDur + clamp(dist/1400, 0, 1)·(maxDur−minDur),
// jittered ±15% and clamped back to the configured bounds.
func (m *Mouse) MoveTo(ctx context.Context, x, y float64) error {
	sx, sy := m.sink.Position()
	dist := math.Hypot(x-sx, y-sy)

	frac := clamp(dist/1400.0, 0, 1)
	est := float64(m.cfg.MinDuration) + frac*float64(m.cfg.MaxDuration-m.cfg.MinDuration)
	jittered := est * (0.85 + 0.30*m.rng.Float64())
	dur := time.Duration(clamp(jittered, float64(m.cfg.MinDuration), float64(m.cfg.MaxDuration)))

	return m.move(ctx, sx, sy, x, y, dur)
}

// MoveToIn moves the cursor to (x, y) over an explicit duration,
// bypassing the distance heuristic. Used for detour waypoints.
func (m *Mouse) MoveToIn(ctx context.Context, x, y float64, dur time.Duration) error {
	sx, sy := m.sink.Position()
	dur = time.Duration(clamp(float64(dur), float64(m.cfg.MinDuration), float64(m.cfg.MaxDuration)))
	return m.move(ctx, sx, sy, x, y, dur)
}

func (m *Mouse) move(ctx context.Context, sx, sy, tx, ty float64, dur time.Duration) error {
	dx := tx - sx
	dy := ty - sy

	steps := int(math.Ceil(dur.Seconds() * m.cfg.SampleRate))
	if steps < 2 {
		steps = 2
	}
	dt := dur / time.Duration(steps-1)

	noiseX := m.pink(steps)
	noiseY := m.pink(steps)

	// Normalize the velocity profile by its own sampled peak so tremor
	// scaling is independent of step count.
	vmax := 0.0
	for i := 0; i < steps; i++ {
		if v := MinJerkVel(float64(i) / float64(steps-1)); v > vmax {
			vmax = v
		}
	}
	if vmax == 0 {
		vmax = 1
	}

	ticker := time.NewTicker(dt)
	defer ticker.Stop()

	for i := 1; i < steps; i++ {
		t := float64(i) / float64(steps-1)
		s := MinJerk(t)
		vhat := math.Abs(MinJerkVel(t) / vmax)

		tremor := m.cfg.TremorBase + vhat*m.cfg.TremorVelGain
		x := sx + dx*s + tremor*noiseX[i]
		y := sy + dy*s + tremor*noiseY[i]

		if err := m.sink.MoveTo(x, y); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (m *Mouse) pink(n int) []float64 {
	if m.cfg.Spectral {
		return SpectralPink(m.rng, n)
	}
	return LowPassPink(m.rng, n)
}
