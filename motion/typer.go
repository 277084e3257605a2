package motion

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/hazyhaar/nibs/osinput"
)

// TyperConfig tunes keystroke timing.
type TyperConfig struct {
	// BaseDelay is the floor between keystrokes. Default: 35ms.
	BaseDelay time.Duration
	// DistCoeff adds latency per key unit of travel. Default: 8ms.
	DistCoeff time.Duration
	// LogNormalSigma and LogNormalScale shape the jitter term:
	// lognormal(0, σ)·scale. Defaults: 0.40 / 10ms.
	LogNormalSigma float64
	LogNormalScale time.Duration
	// Hold keeps keys down long enough that the next press often lands
	// before release (rollover), but short of OS key-repeat. Default: 55ms.
	Hold time.Duration
}

func (c *TyperConfig) defaults() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = 35 * time.Millisecond
	}
	if c.DistCoeff <= 0 {
		c.DistCoeff = 8 * time.Millisecond
	}
	if c.LogNormalSigma == 0 {
		c.LogNormalSigma = 0.40
	}
	if c.LogNormalScale <= 0 {
		c.LogNormalScale = 10 * time.Millisecond
	}
	if c.Hold <= 0 {
		c.Hold = 55 * time.Millisecond
	}
}

// Typer emits keystrokes with distance-dependent latency and rollover.
type Typer struct {
	sink  osinput.Sink
	rng   *rand.Rand
	cfg   TyperConfig
	keyXY map[string]keyPoint
}

// NewTyper creates a Typer over the given sink and RNG.
func NewTyper(sink osinput.Sink, rng *rand.Rand, cfg TyperConfig) *Typer {
	cfg.defaults()
	return &Typer{sink: sink, rng: rng, cfg: cfg, keyXY: buildKeyXY()}
}

// charToKey resolves a character to (modifier keys, base key). literal
// means the character has no key mapping and must be emitted through the
// sink's WriteChar primitive.
func (ty *Typer) charToKey(ch rune) (mods []string, key string, literal bool) {
	switch {
	case ch == ' ':
		return nil, "space", false
	case ch == '\n':
		return nil, "enter", false
	case ch >= 'a' && ch <= 'z':
		return nil, string(ch), false
	case ch >= 'A' && ch <= 'Z':
		return []string{"shift"}, string(ch - 'A' + 'a'), false
	case ch >= '0' && ch <= '9':
		return nil, string(ch), false
	}
	if base, ok := shifted[ch]; ok {
		name := string(base)
		if n, ok := keyNames[base]; ok {
			name = n
		}
		return []string{"shift"}, name, false
	}
	if name, ok := keyNames[ch]; ok {
		return nil, name, false
	}
	return nil, "", true
}

// Type emits text through the sink. Key releases run as independently
// scheduled tasks so consecutive hold windows may overlap; all pending
// releases complete before Type returns, even on error or cancellation.
func (ty *Typer) Type(ctx context.Context, text string) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	prev := ""
	for _, ch := range text {
		mods, key, literal := ty.charToKey(ch)

		dist := keyDistance(ty.keyXY, prev, key)
		jitter := math.Exp(ty.rng.NormFloat64()*ty.cfg.LogNormalSigma) * float64(ty.cfg.LogNormalScale)
		delay := ty.cfg.BaseDelay + time.Duration(dist*float64(ty.cfg.DistCoeff)) + time.Duration(jitter)

		for _, m := range mods {
			if err := ty.sink.KeyDown(m); err != nil {
				return err
			}
		}

		if literal {
			if err := ty.sink.WriteChar(ch); err != nil {
				return err
			}
		} else {
			if err := ty.sink.KeyDown(key); err != nil {
				return err
			}
			wg.Add(1)
			go ty.releaseAfter(&wg, ty.cfg.Hold, []string{key})
		}

		if len(mods) > 0 {
			wg.Add(1)
			go ty.releaseAfter(&wg, ty.cfg.Hold, mods)
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}
		prev = key
	}
	return nil
}

// releaseAfter releases keys (in reverse order) after the hold window.
// Release errors are ignored: a failed key-up cannot be usefully
// recovered mid-burst and must not abort the typing stream.
func (ty *Typer) releaseAfter(wg *sync.WaitGroup, hold time.Duration, keys []string) {
	defer wg.Done()
	time.Sleep(hold)
	for i := len(keys) - 1; i >= 0; i-- {
		_ = ty.sink.KeyUp(keys[i])
	}
}

// sleep is a context-aware time.Sleep.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
