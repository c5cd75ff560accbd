package toolexecutor

import "context"

type callerKey struct{}

// ContextWithCaller records who issued the tool call (transport and peer)
// for the audit trail.
func ContextWithCaller(ctx context.Context, caller string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if caller == "" {
		return ctx
	}
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the caller recorded by ContextWithCaller
func CallerFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(callerKey{}).(string); ok {
		return v
	}
	return ""
}
