package session

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/hazyhaar/nibs/osinput"
)

// Flick burst shape: a hard initial scroll decaying geometrically, with
// the inter-step delay stretching as momentum dies.
const (
	flickMagnitude  = -520
	flickDecay      = 0.55
	flickSteps      = 7
	flickStepDelay  = 20 * time.Millisecond
	flickStepGrowth = 1.35
)

// flicker fires occasional scroll bursts while a reply streams in, the
// way a reader nudges a page they are waiting on. Bursts run on their
// own goroutine; Tick never blocks, and Close waits for an in-flight
// burst before returning.
type flicker struct {
	sink   osinput.Sink
	rng    *rand.Rand
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	next    time.Time
	running bool
}

func newFlicker(sink osinput.Sink, rng *rand.Rand) *flicker {
	ctx, cancel := context.WithCancel(context.Background())
	f := &flicker{sink: sink, rng: rng, ctx: ctx, cancel: cancel}
	// First burst lands shortly after the reply starts.
	f.next = time.Now().Add(jitter(rng, 200*time.Millisecond, 600*time.Millisecond))
	return f
}

// Tick starts a burst when one is due and none is running.
func (f *flicker) Tick() {
	f.mu.Lock()
	if f.running || time.Now().Before(f.next) || f.ctx.Err() != nil {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	f.wg.Add(1)
	go f.burst()
}

func (f *flicker) burst() {
	defer f.wg.Done()
	defer func() {
		f.mu.Lock()
		f.running = false
		f.next = time.Now().Add(jitter(f.rng, 1200*time.Millisecond, 2400*time.Millisecond))
		f.mu.Unlock()
	}()

	mag := float64(flickMagnitude)
	delay := flickStepDelay
	for i := 0; i < flickSteps; i++ {
		if f.ctx.Err() != nil {
			return
		}
		if err := f.sink.Scroll(int(mag)); err != nil {
			return
		}
		mag *= flickDecay
		delay = time.Duration(float64(delay) * flickStepGrowth)
		t := time.NewTimer(delay)
		select {
		case <-f.ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// Close cancels pending bursts and waits for a running one.
func (f *flicker) Close() {
	f.cancel()
	f.wg.Wait()
}

func jitter(rng *rand.Rand, lo, hi time.Duration) time.Duration {
	return lo + time.Duration(rng.Float64()*float64(hi-lo))
}
