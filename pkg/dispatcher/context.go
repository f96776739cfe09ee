package dispatcher

import "context"

type ctxKey int

const (
	eventTypeKey ctxKey = iota
	requestIDKey
)

func withEnvelope(ctx context.Context, eventType, requestID string) context.Context {
	ctx = context.WithValue(ctx, eventTypeKey, eventType)
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the requestId of the message being dispatched,
// for handlers that send a correlated reply.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// EventTypeFromContext returns the eventType of the message being dispatched.
func EventTypeFromContext(ctx context.Context) string {
	t, _ := ctx.Value(eventTypeKey).(string)
	return t
}
