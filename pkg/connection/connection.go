// Package connection defines the handle handlers use to reach a peer and the
// directory of currently connected peers.
package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/morezero/socket-dispatch/pkg/envelope"
)

// Attribute keys populated by the transports.
const (
	AttrProtocolVersion = "protocolVersion"
	AttrRemoteAddr      = "remoteAddr"
	AttrUserAgent       = "userAgent"
	AttrTransport       = "transport"
)

// HeaderProtocolVersion carries a peer's protocol version on transports that
// have request headers.
const HeaderProtocolVersion = "X-Protocol-Version"

// Connection is a peer reachable by the dispatch layer.
type Connection interface {
	// ID identifies the peer for addressing replies and broadcasts.
	ID() string
	// Send writes one serialized envelope to the peer.
	Send(ctx context.Context, data []byte) error
	// Attribute returns connection metadata captured when the peer connected.
	Attribute(key string) string
}

// SendEnvelope encodes payload under eventType and requestID and sends it to c.
func SendEnvelope(ctx context.Context, c Connection, eventType, requestID string, payload any) error {
	data, err := envelope.Encode(eventType, requestID, payload)
	if err != nil {
		return err
	}
	if err := c.Send(ctx, data); err != nil {
		return fmt.Errorf("connection:connection - send to %s failed: %w", c.ID(), err)
	}
	return nil
}

// MemoryConn is an in-process Connection that records every frame sent to it.
type MemoryConn struct {
	id    string
	attrs map[string]string

	mu      sync.Mutex
	sent    [][]byte
	sendErr error
}

// NewMemoryConn creates a MemoryConn with the given id and attributes.
func NewMemoryConn(id string, attrs map[string]string) *MemoryConn {
	copied := make(map[string]string, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	return &MemoryConn{id: id, attrs: copied}
}

// ID returns the connection id.
func (m *MemoryConn) ID() string { return m.id }

// Attribute returns the attribute for key.
func (m *MemoryConn) Attribute(key string) string { return m.attrs[key] }

// Send records data, or fails with the error set by FailSends.
func (m *MemoryConn) Send(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	m.sent = append(m.sent, frame)
	return nil
}

// FailSends makes subsequent sends return err. Pass nil to restore.
func (m *MemoryConn) FailSends(err error) {
	m.mu.Lock()
	m.sendErr = err
	m.mu.Unlock()
}

// Sent returns a copy of the recorded frames.
func (m *MemoryConn) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

// Envelopes decodes every recorded frame.
func (m *MemoryConn) Envelopes() []*envelope.Envelope {
	var out []*envelope.Envelope
	for _, frame := range m.Sent() {
		if env, err := envelope.Decode(frame); err == nil {
			out = append(out, env)
		}
	}
	return out
}
