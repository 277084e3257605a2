// Package kit carries the transport-agnostic endpoint plumbing shared by
// the HTTP and MCP surfaces: an Endpoint function shape, middleware
// chaining, and request-scoped context accessors.
package kit

import "context"

// Endpoint is one transport-agnostic operation: decoded request in,
// response out. Both HTTP handlers and MCP tools terminate in one.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middleware left to right: the first argument is the
// outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
