package agent

import "context"

type sessionIDKey struct{}

// WithSessionID returns a context carrying the session a tool runs for.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// SessionIDFromContext returns the session id set by the engine before
// invoking tools, or "" outside a turn.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}
