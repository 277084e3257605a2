package session

import (
	"context"

	"github.com/hazyhaar/nibs/cdpdom"
)

// ElementCenter reports the exact viewport center of the first element
// matching selector. Calibration capture needs the true center, not a
// humanized interior point.
func (s *Session) ElementCenter(ctx context.Context, selector string) (cdpdom.ViewportPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return cdpdom.ViewportPoint{}, err
	}
	if _, err := s.dom.WaitForSelector(ctx, selector, cdpdom.WaitOptions{
		Timeout: s.cfg.Chat.InputTimeout,
	}); err != nil {
		return cdpdom.ViewportPoint{}, err
	}
	return s.dom.ViewportCenter(ctx, selector, "")
}

// CursorPosition reports the OS cursor position from the input sink.
func (s *Session) CursorPosition() (x, y float64) {
	return s.sink.Position()
}
