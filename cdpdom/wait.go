package cdpdom

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WaitOptions tunes WaitForSelector polling.
type WaitOptions struct {
	// Timeout bounds the whole wait. Required.
	Timeout time.Duration
	// Poll is the initial inter-poll delay, growing ×1.5 per miss up to
	// MaxPoll. Defaults: 50ms / 250ms.
	Poll    time.Duration
	MaxPoll time.Duration
	// Within optionally scopes the query to the first match of this
	// selector under the document root.
	Within string
}

func (o *WaitOptions) defaults() {
	if o.Poll <= 0 {
		o.Poll = 50 * time.Millisecond
	}
	if o.MaxPoll < o.Poll {
		o.MaxPoll = 250 * time.Millisecond
	}
	if o.MaxPoll < o.Poll {
		o.MaxPoll = o.Poll
	}
}

// WaitForSelector polls until selector matches, the deadline passes, or
// ctx is cancelled. The document-root cache refreshes on its own
// schedule while polling stays cheap; any resolution error drops the
// cache so the next poll starts from a fresh DOM.getDocument. Returns
// ErrTimeout only at or after the deadline, never before.
func (c *Client) WaitForSelector(ctx context.Context, selector string, opts WaitOptions) (NodeHandle, error) {
	opts.defaults()
	deadline := time.Now().Add(opts.Timeout)
	poll := opts.Poll

	var lastErr error
	for {
		h, err := c.ResolveNode(ctx, selector, opts.Within)
		if err == nil {
			return h, nil
		}
		lastErr = err
		if !errors.Is(err, ErrNotFound) {
			// Transient protocol state (often a navigation mid-poll).
			// The cache is already invalidated; keep polling.
			if ctx.Err() != nil {
				return NodeHandle{}, fmt.Errorf("%w: waiting for %q: %v", ErrTimeout, selector, ctx.Err())
			}
		}

		if time.Now().After(deadline) {
			break
		}
		if err := sleep(ctx, poll); err != nil {
			return NodeHandle{}, fmt.Errorf("%w: waiting for %q: %v", ErrTimeout, selector, err)
		}
		if next := time.Duration(float64(poll) * 1.5); next < opts.MaxPoll {
			poll = next
		} else {
			poll = opts.MaxPoll
		}
	}

	if opts.Within != "" {
		return NodeHandle{}, fmt.Errorf("%w: selector %q within %q after %v (last: %v)",
			ErrTimeout, selector, opts.Within, opts.Timeout, lastErr)
	}
	return NodeHandle{}, fmt.Errorf("%w: selector %q after %v (last: %v)",
		ErrTimeout, selector, opts.Timeout, lastErr)
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
