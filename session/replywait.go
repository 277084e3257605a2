package session

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/nibs/cdpdom"
)

// waitForAssistantReply polls the transcript until an assistant turn
// newer than the baseline appears and stops changing for the stability
// window. The deadline is monotonic. onTick runs once per poll so idle
// behaviors (scroll flicks) pace themselves off the same loop.
//
// The dead-man switch scans every candidate: a challenge page that
// replaces the conversation is caught here, not after the timeout.
func (s *Session) waitForAssistantReply(ctx context.Context, baseline string, onTick func()) (string, error) {
	cfg := s.cfg.Chat
	deadline := time.Now().Add(cfg.ReplyTimeout)

	var candidate string
	var stableSince time.Time

	for {
		if onTick != nil {
			onTick()
		}

		text, err := s.dom.LastAssistantText(ctx, s.msgCfg())
		switch {
		case err != nil:
			s.log.Debug("session: reply poll failed", "error", err)
		case text != "" && text != baseline:
			if kw, hit := s.deadman.Scan(text); hit {
				return "", fmt.Errorf("%w: page shows %q", ErrInterrupted, kw)
			}
			if text != candidate {
				candidate = text
				stableSince = time.Now()
			} else if time.Since(stableSince) >= cfg.ReplyStable {
				return text, nil
			}
		}

		if !time.Now().Before(deadline) {
			return "", fmt.Errorf("session: no assistant reply within %s: %w",
				cfg.ReplyTimeout, cdpdom.ErrTimeout)
		}
		if err := sleepCtx(ctx, cfg.ReplyPoll); err != nil {
			return "", err
		}
	}
}
