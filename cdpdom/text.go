package cdpdom

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// OuterHTML serialises the handle's subtree. A stale handle is
// re-resolved once via its original selector.
func (c *Client) OuterHTML(ctx context.Context, h NodeHandle) (string, error) {
	var out string
	err := c.withNode(ctx, h, func(id proto.DOMNodeID) error {
		res, err := proto.DOMGetOuterHTML{NodeID: id}.Call(c.cl(ctx))
		if err != nil {
			return fmt.Errorf("%w: DOM.getOuterHTML: %v", ErrProtocol, err)
		}
		out = res.OuterHTML
		return nil
	})
	return out, err
}

// ExtractText resolves selector and returns its rendered-ish text
// content, computed entirely from serialised HTML.
func (c *Client) ExtractText(ctx context.Context, selector, within string) (string, error) {
	h, err := c.ResolveNode(ctx, selector, within)
	if err != nil {
		return "", err
	}
	raw, err := c.OuterHTML(ctx, h)
	if err != nil {
		return "", err
	}
	return HTMLToText(raw), nil
}

// blockAtoms are elements that force a line break around their content.
var blockAtoms = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Br: true,
}

// HTMLToText converts an HTML fragment to plain text: script, style and
// noscript subtrees are dropped, runs of whitespace collapse to one
// space, and block elements contribute a single line break. This is a
// textContent approximation that never needs script evaluation in the
// page.
func HTMLToText(fragment string) string {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return collapseSpace(fragment)
	}

	var b strings.Builder
	for _, n := range nodes {
		walkText(&b, n)
	}
	return joinLines(b.String())
}

// blockBreak separates block-element content in the intermediate
// buffer. Literal newlines in text nodes are ordinary whitespace and
// must not read as breaks, so the marker is a byte HTML text never
// contains.
const blockBreak = "\x00"

func walkText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript:
			return
		}
		if blockAtoms[n.DataAtom] {
			b.WriteString(blockBreak)
		}
	case html.TextNode:
		b.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(b, c)
	}
	if n.Type == html.ElementNode && blockAtoms[n.DataAtom] {
		b.WriteString(blockBreak)
	}
}

// joinLines collapses intra-line whitespace and squeezes consecutive
// block breaks into a single line break.
func joinLines(s string) string {
	var lines []string
	for _, line := range strings.Split(s, blockBreak) {
		if line = collapseSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
