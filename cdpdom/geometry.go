package cdpdom

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/go-rod/rod/lib/proto"
)

// ViewportPoint is a point in viewport coordinates.
type ViewportPoint struct {
	X float64
	Y float64
}

// Quad is an element quad: 8 values, [x1 y1 x2 y2 x3 y3 x4 y4].
type Quad []float64

// Center returns the centroid of the quad.
func (q Quad) Center() ViewportPoint {
	var x, y float64
	for i := 0; i+1 < len(q); i += 2 {
		x += q[i]
		y += q[i+1]
	}
	n := float64(len(q) / 2)
	return ViewportPoint{X: x / n, Y: y / n}
}

func (q Quad) bounds() (minX, minY, maxX, maxY float64) {
	minX, minY = q[0], q[1]
	maxX, maxY = q[0], q[1]
	for i := 2; i+1 < len(q); i += 2 {
		minX = min(minX, q[i])
		maxX = max(maxX, q[i])
		minY = min(minY, q[i+1])
		maxY = max(maxY, q[i+1])
	}
	return
}

// ViewportQuad returns the handle's box-model quad converted to
// viewport coordinates. The content quad is preferred; collapsed
// content boxes fall back to border, then margin. Page coordinates are
// converted by subtracting the visual-viewport scroll offset from
// Page.getLayoutMetrics.
func (c *Client) ViewportQuad(ctx context.Context, h NodeHandle) (Quad, error) {
	var model *proto.DOMBoxModel
	err := c.withNode(ctx, h, func(id proto.DOMNodeID) error {
		res, err := proto.DOMGetBoxModel{NodeID: id}.Call(c.cl(ctx))
		if err != nil {
			return fmt.Errorf("%w: DOM.getBoxModel: %v", ErrProtocol, err)
		}
		model = res.Model
		return nil
	})
	if err != nil {
		return nil, err
	}

	var raw proto.DOMQuad
	for _, q := range []proto.DOMQuad{model.Content, model.Border, model.Margin} {
		if len(q) >= 8 {
			raw = q
			break
		}
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: box model has no usable quad", ErrProtocol)
	}

	pageX, pageY := c.viewportOffset(ctx)
	quad := make(Quad, len(raw))
	for i := 0; i+1 < len(raw); i += 2 {
		quad[i] = raw[i] - pageX
		quad[i+1] = raw[i+1] - pageY
	}
	return quad, nil
}

// viewportOffset reads the visual-viewport scroll position. Layout
// metrics failing means no conversion, not a hard error: an unscrolled
// page has a zero offset anyway.
func (c *Client) viewportOffset(ctx context.Context) (pageX, pageY float64) {
	metrics, err := proto.PageGetLayoutMetrics{}.Call(c.cl(ctx))
	if err != nil || metrics.CSSVisualViewport == nil {
		return 0, 0
	}
	return metrics.CSSVisualViewport.PageX, metrics.CSSVisualViewport.PageY
}

// ViewportCenter resolves selector and returns the center of its quad
// in viewport coordinates.
func (c *Client) ViewportCenter(ctx context.Context, selector, within string) (ViewportPoint, error) {
	h, err := c.ResolveNode(ctx, selector, within)
	if err != nil {
		return ViewportPoint{}, err
	}
	quad, err := c.ViewportQuad(ctx, h)
	if err != nil {
		return ViewportPoint{}, err
	}
	return quad.Center(), nil
}

// GaussianInteriorPoint picks a click target inside the element: each
// axis draws from a normal centered on the midpoint of the inner-50%
// box with σ = range/6, clamped to the inner box. Targets cluster near
// the middle without ever landing on the element's edge.
func (c *Client) GaussianInteriorPoint(ctx context.Context, selector, within string, rng *rand.Rand) (ViewportPoint, error) {
	h, err := c.ResolveNode(ctx, selector, within)
	if err != nil {
		return ViewportPoint{}, err
	}
	quad, err := c.ViewportQuad(ctx, h)
	if err != nil {
		return ViewportPoint{}, err
	}

	minX, minY, maxX, maxY := quad.bounds()
	innerMinX := minX + 0.25*(maxX-minX)
	innerMaxX := maxX - 0.25*(maxX-minX)
	innerMinY := minY + 0.25*(maxY-minY)
	innerMaxY := maxY - 0.25*(maxY-minY)

	return ViewportPoint{
		X: gaussianInRange(rng, innerMinX, innerMaxX),
		Y: gaussianInRange(rng, innerMinY, innerMaxY),
	}, nil
}

func gaussianInRange(rng *rand.Rand, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	mean := (lo + hi) / 2
	sigma := (hi - lo) / 6
	v := mean + rng.NormFloat64()*sigma
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
