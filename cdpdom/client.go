// Package cdpdom reads the DOM of a live page over the Chrome DevTools
// Protocol without ever evaluating script in the page. All element
// location, geometry and text extraction goes through the DOM domain
// (getDocument / querySelector / getBoxModel / getOuterHTML) plus
// Page.getLayoutMetrics for viewport conversion, so it keeps working
// with the Runtime domain disabled.
package cdpdom

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

// Caller is the subset of *rod.Page the client needs: a CDP transport
// bound to one page session.
type Caller interface {
	Call(ctx context.Context, sessionID, methodName string, params any) ([]byte, error)
	GetSessionID() proto.TargetSessionID
}

// NodeHandle identifies a DOM node within one document generation.
// Handles go stale when the page navigates or the document is replaced;
// node-scoped operations re-resolve a stale handle exactly once before
// failing.
type NodeHandle struct {
	ID  proto.DOMNodeID
	Gen uint64

	selector string
	within   string
}

// Config tunes document caching.
type Config struct {
	// DocRefresh bounds how long a cached document root is trusted
	// before DOM.getDocument is re-issued. Default: 1s.
	DocRefresh time.Duration
}

func (c *Config) defaults() {
	if c.DocRefresh <= 0 {
		c.DocRefresh = time.Second
	}
}

// Client is a DOM-only reader for a single page. Safe for concurrent
// use; the document-root cache is the only shared state.
type Client struct {
	caller Caller
	cfg    Config

	mu        sync.Mutex
	rootID    proto.DOMNodeID
	gen       uint64
	refreshed time.Time
}

// New creates a Client over a page transport, usually a *rod.Page.
func New(caller Caller, cfg Config) *Client {
	cfg.defaults()
	return &Client{caller: caller, cfg: cfg}
}

// ctxClient adapts Caller to the proto command interface with a
// per-call context.
type ctxClient struct {
	c   Caller
	ctx context.Context
}

func (c ctxClient) Call(ctx context.Context, sessionID, methodName string, params any) ([]byte, error) {
	return c.c.Call(ctx, sessionID, methodName, params)
}

func (c ctxClient) GetContext() context.Context         { return c.ctx }
func (c ctxClient) GetSessionID() proto.TargetSessionID { return c.c.GetSessionID() }

func (c *Client) cl(ctx context.Context) ctxClient {
	return ctxClient{c: c.caller, ctx: ctx}
}

// documentRoot returns the cached document root node id and its
// generation, refreshing via DOM.getDocument when forced or when the
// cache is older than DocRefresh. A shallow pierced document is enough:
// only the root id is needed to scope querySelector.
func (c *Client) documentRoot(ctx context.Context, force bool) (proto.DOMNodeID, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && c.rootID != 0 && time.Since(c.refreshed) < c.cfg.DocRefresh {
		return c.rootID, c.gen, nil
	}

	depth := 1
	doc, err := proto.DOMGetDocument{Depth: &depth, Pierce: true}.Call(c.cl(ctx))
	if err != nil {
		c.rootID = 0
		return 0, c.gen, fmt.Errorf("%w: DOM.getDocument: %v", ErrProtocol, err)
	}
	if doc.Root == nil || doc.Root.NodeID == 0 {
		c.rootID = 0
		return 0, c.gen, fmt.Errorf("%w: DOM.getDocument returned no root", ErrProtocol)
	}

	if doc.Root.NodeID != c.rootID {
		c.gen++
	}
	c.rootID = doc.Root.NodeID
	c.refreshed = time.Now()
	return c.rootID, c.gen, nil
}

// invalidate drops the cached document root so the next lookup
// re-issues DOM.getDocument. Called after any resolution error, since
// a navigation invalidates every cached node id.
func (c *Client) invalidate() {
	c.mu.Lock()
	c.rootID = 0
	c.mu.Unlock()
}

func (c *Client) querySelector(ctx context.Context, scope proto.DOMNodeID, selector string) (proto.DOMNodeID, error) {
	res, err := proto.DOMQuerySelector{NodeID: scope, Selector: selector}.Call(c.cl(ctx))
	if err != nil {
		return 0, fmt.Errorf("%w: DOM.querySelector %q: %v", ErrProtocol, selector, err)
	}
	return res.NodeID, nil
}

// ResolveNode resolves selector to a node handle in the current
// document generation. A non-empty within scopes the query to the first
// match of that selector under the document root.
func (c *Client) ResolveNode(ctx context.Context, selector, within string) (NodeHandle, error) {
	return c.resolve(ctx, selector, within, false)
}

func (c *Client) resolve(ctx context.Context, selector, within string, force bool) (NodeHandle, error) {
	root, gen, err := c.documentRoot(ctx, force)
	if err != nil {
		return NodeHandle{}, err
	}

	scope := root
	if within != "" {
		id, err := c.querySelector(ctx, root, within)
		if err != nil {
			c.invalidate()
			return NodeHandle{}, err
		}
		if id == 0 {
			return NodeHandle{}, fmt.Errorf("%w: scope selector %q", ErrNotFound, within)
		}
		scope = id
	}

	id, err := c.querySelector(ctx, scope, selector)
	if err != nil {
		c.invalidate()
		return NodeHandle{}, err
	}
	if id == 0 {
		if within != "" {
			return NodeHandle{}, fmt.Errorf("%w: selector %q within %q", ErrNotFound, selector, within)
		}
		return NodeHandle{}, fmt.Errorf("%w: selector %q", ErrNotFound, selector)
	}
	return NodeHandle{ID: id, Gen: gen, selector: selector, within: within}, nil
}

// withNode runs fn against the handle's node id, re-resolving the
// handle's selector once if the handle is from an older generation or
// the first attempt fails. The second failure is final.
func (c *Client) withNode(ctx context.Context, h NodeHandle, fn func(proto.DOMNodeID) error) error {
	c.mu.Lock()
	stale := h.Gen != c.gen
	c.mu.Unlock()

	if !stale {
		err := fn(h.ID)
		if err == nil {
			return nil
		}
		if h.selector == "" {
			return err
		}
		c.invalidate()
	}

	if h.selector == "" {
		return fmt.Errorf("%w: handle from generation %d is stale", ErrProtocol, h.Gen)
	}
	fresh, err := c.resolve(ctx, h.selector, h.within, true)
	if err != nil {
		return err
	}
	return fn(fresh.ID)
}
