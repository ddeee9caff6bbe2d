package core

import "context"

type ctxKeySessionID struct{}

// WithSessionID tags a context with the session identifier, so tool
// hooks and other downstream code can attribute their work to the call.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeySessionID{}, id)
}

// SessionIDFrom extracts the session identifier, if present.
func SessionIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeySessionID{}).(string)
	return id, ok && id != ""
}
