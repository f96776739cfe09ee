// Package client is the calling side of the envelope protocol. It sends
// tagged messages and correlates inbound replies with outstanding requests by
// requestId under a timeout.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Transport is an established connection to a server.
type Transport interface {
	// Send writes one envelope. It returns once the transport accepted the write.
	Send(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens a Transport. Every inbound message must be passed to deliver,
// from a single goroutine.
type Dialer interface {
	Dial(ctx context.Context, deliver func(data []byte)) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, deliver func(data []byte)) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, deliver func(data []byte)) (Transport, error) {
	return f(ctx, deliver)
}

// Message is an outbound envelope. Payload fields are flattened next to
// eventType and requestId on the wire.
type Message struct {
	EventType string
	RequestID string
	Payload   any
}

// Reply is an inbound envelope whose tag resolved to a registered shape.
type Reply struct {
	EventType  string
	RequestID  string
	Payload    any
	Raw        []byte
	ReceivedAt time.Time
}

var (
	// ErrConnectionStart wraps the dial error returned by Connect.
	ErrConnectionStart = errors.New("connection start failure")
	// ErrNotConnected is returned when sending before Connect.
	ErrNotConnected = errors.New("client not connected")
	// ErrDisposed is returned for any use after Dispose, including by waiters
	// pending when Dispose was called.
	ErrDisposed = errors.New("client disposed")
	// ErrTimeout is matched by *TimeoutError.
	ErrTimeout = errors.New("timed out waiting for reply")
	// ErrRemote is matched by *RemoteError.
	ErrRemote = errors.New("server reported a dispatch failure")
)

// TimeoutError reports that no matching reply arrived in time. It is an
// expected outcome, distinct from decode or transport failures.
type TimeoutError struct {
	ExpectedEventType string
	RequestID         string
	Timeout           time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no %s reply for request %s within %s", e.ExpectedEventType, e.RequestID, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// RemoteError is the server's failure notification for a request.
type RemoteError struct {
	RequestID string
	Code      string
	Message   string
	EventType string
	Filter    string
}

func (e *RemoteError) Error() string {
	if e.Filter != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Filter, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RemoteError) Is(target error) bool { return target == ErrRemote }
