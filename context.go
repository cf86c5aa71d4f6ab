package objperm

import "context"

type initiatorContextKey struct{}
type requestIDContextKey struct{}

// WithInitiator attaches the ID of whoever triggered a mutation to ctx. It
// is copied into [Change.Initiator] and audit events.
func WithInitiator(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, initiatorContextKey{}, id)
}

// WithRequestID attaches a correlation ID to ctx. It is copied into
// [Change.RequestID] and audit events.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

func initiatorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(initiatorContextKey{}).(string)
	return id
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}
