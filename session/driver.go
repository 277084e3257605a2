// CLAUDE:SUMMARY Flow-driver surface of a session: navigate, click, type, wait and extract primitives.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/nibs/cdpdom"
	"github.com/hazyhaar/nibs/events"
	"github.com/hazyhaar/nibs/flow"
)

// The session doubles as a flow.Driver so declarative flows run against
// the same synthesis path as chat completions.

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	if err := s.page.Navigate(url); err != nil {
		return fmt.Errorf("session: navigate %s: %w", url, err)
	}
	s.em.Emit("session.navigate", events.Fields{"url": url})
	s.attempt("wait_load", s.page.WaitLoad)
	return nil
}

func (s *Session) Click(ctx context.Context, selector, within string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	if _, err := s.dom.WaitForSelector(ctx, selector, cdpdom.WaitOptions{
		Timeout: s.cfg.Chat.InputTimeout,
		Within:  within,
	}); err != nil {
		return err
	}
	return s.approachAndClick(ctx, selector, within)
}

func (s *Session) Type(ctx context.Context, opts flow.TypeOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}

	if opts.ClickFirst {
		if _, err := s.dom.WaitForSelector(ctx, opts.Selector, cdpdom.WaitOptions{
			Timeout: s.cfg.Chat.InputTimeout,
			Within:  opts.Within,
		}); err != nil {
			return err
		}
		if err := s.approachAndClick(ctx, opts.Selector, opts.Within); err != nil {
			return err
		}
		delay := opts.PostClickDelay
		if delay <= 0 {
			delay = s.cfg.Motion.PostClickDelay
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}

	if opts.Text != "" {
		if err := s.hybrid.Enter(ctx, opts.Text); err != nil {
			return err
		}
	}
	if opts.PressEnter {
		return s.sink.Hotkey("enter")
	}
	return nil
}

func (s *Session) Press(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	return s.sink.Hotkey(key)
}

func (s *Session) WaitForSelector(ctx context.Context, selector, within string, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = s.cfg.Chat.InputTimeout
	}
	_, err := s.dom.WaitForSelector(ctx, selector, cdpdom.WaitOptions{Timeout: timeout, Within: within})
	return err
}

// WaitForText polls the element's extracted text until it contains the
// given substring.
func (s *Session) WaitForText(ctx context.Context, selector, within, contains string, timeout, poll time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return "", err
	}
	if timeout <= 0 {
		timeout = s.cfg.Chat.InputTimeout
	}
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	var lastErr error
	for {
		text, err := s.dom.ExtractText(ctx, selector, within)
		if err == nil && strings.Contains(text, contains) {
			s.em.Emit("session.wait_for_text", events.Fields{
				"selector": selector, "contains": contains, "ok": true,
			})
			return text, nil
		}
		lastErr = err

		if !time.Now().Before(deadline) {
			return "", fmt.Errorf("session: text %q did not appear in %s within %s: %w (last: %v)",
				contains, selector, timeout, cdpdom.ErrTimeout, lastErr)
		}
		if err := sleepCtx(ctx, poll); err != nil {
			return "", err
		}
	}
}

func (s *Session) ExtractText(ctx context.Context, selector, within string, timeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return "", err
	}
	if timeout <= 0 {
		timeout = s.cfg.Chat.InputTimeout
	}
	if _, err := s.dom.WaitForSelector(ctx, selector, cdpdom.WaitOptions{Timeout: timeout, Within: within}); err != nil {
		return "", err
	}
	return s.dom.ExtractText(ctx, selector, within)
}

var _ flow.Driver = (*Session)(nil)
