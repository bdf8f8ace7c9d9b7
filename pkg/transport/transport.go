// Package transport sends JSON requests to the remote tabular API and turns
// failures into classified retry.APIError values.
package transport

import (
	"context"
	"net/url"
)

// Request is a single remote call. Path must already be escaped.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Body is JSON-encoded when non-nil.
	Body any
}

// Transport performs one remote call without retrying. A successful response
// body is decoded into out when out is non-nil.
type Transport interface {
	Send(ctx context.Context, req Request, out any) error
}

// SendFunc adapts a function to the Transport interface.
type SendFunc func(ctx context.Context, req Request, out any) error

// Send calls f.
func (f SendFunc) Send(ctx context.Context, req Request, out any) error {
	return f(ctx, req, out)
}

// TokenSource supplies the bearer token for each request. An empty token
// sends no Authorization header.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token returns the token.
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}
