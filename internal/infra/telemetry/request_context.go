package telemetry

import (
	"context"

	"github.com/google/uuid"
)

type requestContextKey struct{}

// WithRequestID stamps a request ID on the context, minting one when empty.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return context.WithValue(ctx, requestContextKey{}, requestID)
}

// RequestIDFromContext returns the request ID carried by the context.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	requestID, ok := ctx.Value(requestContextKey{}).(string)
	return requestID, ok && requestID != ""
}
