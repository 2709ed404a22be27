package testutil

import (
	"context"
	"net/http"

	"sigillum/internal/platform/middleware"
	"sigillum/pkg/domain"
)

// WithOwner adds an authenticated owner address to the request context.
// This simulates what the auth middleware does for authenticated requests.
// Invalid addresses are silently ignored.
func WithOwner(req *http.Request, owner string) *http.Request {
	parsed, err := domain.ParseOwnerAddress(owner)
	if err != nil {
		return req
	}
	ctx := context.WithValue(req.Context(), middleware.ContextKeyOwner, parsed)
	return req.WithContext(ctx)
}

// WithRequestID stamps a request ID on a context the way the middleware does,
// so tests can assert request-ID propagation without an HTTP round trip.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, middleware.ContextKeyRequestID, requestID)
}
