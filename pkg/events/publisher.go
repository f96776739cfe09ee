package events

import "context"

// EventPublisher is the interface for publishing connection lifecycle events.
type EventPublisher interface {
	PublishConnection(ctx context.Context, event *ConnectionEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing (for in-process usage without events).
type NoOpPublisher struct{}

// PublishConnection is a no-op.
func (p *NoOpPublisher) PublishConnection(_ context.Context, _ *ConnectionEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *ConnectionEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *ConnectionEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishConnection calls the callback.
func (p *CallbackPublisher) PublishConnection(ctx context.Context, event *ConnectionEvent) error {
	return p.callback(ctx, event)
}
