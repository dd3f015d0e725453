package middlewarex

import "context"

type ctxKey string

const (
	ctxClientID ctxKey = "client_id"
)

// WithClientID attaches the authenticated API client to the request context.
// Handlers read it back through ClientID; nothing is ever attached to the
// request object itself.
func WithClientID(ctx context.Context, clientID int64) context.Context {
	return context.WithValue(ctx, ctxClientID, clientID)
}

func ClientID(ctx context.Context) (int64, bool) {
	v, ok := ctx.Value(ctxClientID).(int64)
	return v, ok
}
