package logtrace

import (
	"context"
)

type requestIdKey struct{}

// WithRequestId returns a context carrying the request id.
func WithRequestId(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIdKey{}, id)
}

// RequestIdFromContext returns the request id, or "" if none is set.
func RequestIdFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	r, _ := ctx.Value(requestIdKey{}).(string)
	return r
}
