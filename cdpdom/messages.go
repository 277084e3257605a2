package cdpdom

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/go-rod/rod/lib/proto"
	"github.com/microcosm-cc/bluemonday"
)

// ChatMessage is one chat turn, in DOM order.
type ChatMessage struct {
	Role      string // user, assistant, or unknown
	MessageID string
	Text      string
}

// MessagesConfig describes how chat turns appear in the page DOM.
type MessagesConfig struct {
	// TurnSelector matches one element per chat turn.
	// Default: [data-message-author-role].
	TurnSelector string
	// ContentSelector optionally narrows each turn to an inner content
	// node before extraction. Default: .whitespace-pre-wrap, .markdown.
	ContentSelector string
	// RoleAttr and MessageIDAttr name the attributes carrying the turn
	// role and id. Defaults: data-message-author-role / data-message-id.
	RoleAttr      string
	MessageIDAttr string
	// Markdown renders assistant turns as sanitized markdown instead of
	// plain text.
	Markdown bool
}

func (c *MessagesConfig) defaults() {
	if c.TurnSelector == "" {
		c.TurnSelector = "[data-message-author-role]"
	}
	if c.ContentSelector == "" {
		c.ContentSelector = ".whitespace-pre-wrap, .markdown"
	}
	if c.RoleAttr == "" {
		c.RoleAttr = "data-message-author-role"
	}
	if c.MessageIDAttr == "" {
		c.MessageIDAttr = "data-message-id"
	}
}

// Messages extracts all chat turns currently in the DOM. Turns whose
// extracted text is empty are skipped; a turn that fails mid-extraction
// (typically removed by a re-render between reads) is skipped with a
// debug log rather than failing the whole read.
func (c *Client) Messages(ctx context.Context, cfg MessagesConfig) ([]ChatMessage, error) {
	cfg.defaults()

	root, _, err := c.documentRoot(ctx, false)
	if err != nil {
		return nil, err
	}

	res, err := proto.DOMQuerySelectorAll{NodeID: root, Selector: cfg.TurnSelector}.Call(c.cl(ctx))
	if err != nil {
		c.invalidate()
		return nil, fmt.Errorf("%w: DOM.querySelectorAll %q: %v", ErrProtocol, cfg.TurnSelector, err)
	}

	var msgs []ChatMessage
	for _, id := range res.NodeIDs {
		msg, err := c.readTurn(ctx, id, cfg)
		if err != nil {
			slog.Debug("cdpdom: skipping unreadable chat turn", "error", err)
			continue
		}
		if msg.Text != "" {
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

func (c *Client) readTurn(ctx context.Context, id proto.DOMNodeID, cfg MessagesConfig) (ChatMessage, error) {
	attrs, err := proto.DOMGetAttributes{NodeID: id}.Call(c.cl(ctx))
	if err != nil {
		return ChatMessage{}, fmt.Errorf("%w: DOM.getAttributes: %v", ErrProtocol, err)
	}
	attrMap := pairsToMap(attrs.Attributes)

	role := attrMap[cfg.RoleAttr]
	if role == "" {
		role = "unknown"
	}

	// Prefer an inner content node; the turn wrapper often carries
	// avatars and toolbars that pollute the text.
	target := id
	if inner, err := c.querySelector(ctx, id, cfg.ContentSelector); err == nil && inner != 0 {
		target = inner
	}

	raw, err := proto.DOMGetOuterHTML{NodeID: target}.Call(c.cl(ctx))
	if err != nil {
		return ChatMessage{}, fmt.Errorf("%w: DOM.getOuterHTML: %v", ErrProtocol, err)
	}

	text := HTMLToText(raw.OuterHTML)
	if cfg.Markdown && role == "assistant" {
		if md, err := renderMarkdown(raw.OuterHTML); err == nil {
			text = md
		} else {
			slog.Debug("cdpdom: markdown render failed, keeping plain text", "error", err)
		}
	}

	return ChatMessage{Role: role, MessageID: attrMap[cfg.MessageIDAttr], Text: text}, nil
}

// LastAssistantText returns the text of the newest assistant turn, or
// "" when none exists yet.
func (c *Client) LastAssistantText(ctx context.Context, cfg MessagesConfig) (string, error) {
	msgs, err := c.Messages(ctx, cfg)
	if err != nil {
		return "", err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "assistant" {
			return msgs[i].Text, nil
		}
	}
	return "", nil
}

// pairsToMap converts the flat [name, value, name, value, ...] list
// that DOM.getAttributes returns.
func pairsToMap(pairs []string) map[string]string {
	out := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out[pairs[i]] = pairs[i+1]
	}
	return out
}

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	),
)

var mdSanitizer = bluemonday.UGCPolicy()

func renderMarkdown(fragment string) (string, error) {
	return mdConverter.ConvertString(mdSanitizer.Sanitize(fragment))
}
