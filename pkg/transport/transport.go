// Package transport provides the HTTP send capability the polling
// engine is parameterized over. The engine never builds its own
// client; callers inject a Senderer and retry/TLS/pooling concerns
// stay on that side of the boundary.
package transport

import (
	"context"
	"net/http"
)

// Senderer issues a single HTTP request. Implementations must not
// retry; transport-level errors are returned as-is to the caller.
type Senderer interface {
	Send(ctx context.Context, req *http.Request) (*http.Response, error)
}

// HTTPSender is the plain net/http instantiation of Senderer.
type HTTPSender struct {
	Client *http.Client
}

// NewHTTPSender wraps an *http.Client, defaulting to
// http.DefaultClient when nil.
func NewHTTPSender(client *http.Client) *HTTPSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSender{Client: client}
}

func (s *HTTPSender) Send(ctx context.Context, req *http.Request) (*http.Response, error) {
	return s.Client.Do(req.WithContext(ctx))
}

// SenderFunc adapts a function to the Senderer interface, mainly for
// tests and small fakes.
type SenderFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f SenderFunc) Send(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}
