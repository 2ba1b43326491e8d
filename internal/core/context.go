package core

import (
	"context"
	"log/slog"
)

type requestIDKey struct{}

// WithRequestID tags ctx with the X-Request-ID of the HTTP request that
// triggered a cache operation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID returns the ID set by WithRequestID, or "" for background work
// such as the expiration sweep and CLI preloads.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestIDAttr is a log attribute carrying the request ID. It is empty, and
// dropped by slog handlers, when ctx has none.
func RequestIDAttr(ctx context.Context) slog.Attr {
	if id := RequestID(ctx); id != "" {
		return slog.String("request_id", id)
	}
	return slog.Attr{}
}
