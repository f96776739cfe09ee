package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/morezero/socket-dispatch/pkg/envelope"
	"github.com/morezero/socket-dispatch/pkg/ids"
)

const logPrefix = "client:client"

// Defaults applied by New.
const (
	DefaultBufferSize = 1024
	DefaultTimeout    = 5 * time.Second
)

// Params configures a Client. Dialer is required.
type Params struct {
	Dialer         Dialer
	BufferSize     int
	DefaultTimeout time.Duration
}

type decodeFunc func(raw []byte) (any, error)

type result struct {
	reply *Reply
	err   error
}

type waiter struct {
	expected string
	ch       chan result
}

// Client sends envelopes and matches replies to outstanding requests.
//
// Inbound replies are appended to a bounded buffer and handed directly to any
// waiter registered for their requestId. A waiter is registered before its
// request is written, so only replies arriving after the send can satisfy it.
type Client struct {
	dialer         Dialer
	defaultTimeout time.Duration

	shapesMu sync.RWMutex
	shapes   map[string]decodeFunc

	mu        sync.Mutex
	transport Transport
	disposed  bool
	buffer    *ring
	waiters   map[string][]*waiter

	dropped atomic.Int64
	evicted atomic.Int64
	done    chan struct{}
}

// New creates a Client. Connect must be called before sending.
func New(params Params) *Client {
	if params.BufferSize <= 0 {
		params.BufferSize = DefaultBufferSize
	}
	if params.DefaultTimeout <= 0 {
		params.DefaultTimeout = DefaultTimeout
	}
	c := &Client{
		dialer:         params.Dialer,
		defaultTimeout: params.DefaultTimeout,
		shapes:         make(map[string]decodeFunc),
		buffer:         newRing(params.BufferSize),
		waiters:        make(map[string][]*waiter),
		done:           make(chan struct{}),
	}
	RegisterReply[envelope.ErrorMessage](c, envelope.ErrorEventType)
	return c
}

// Connect dials the transport. Calling it on a connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	disposed, connected := c.disposed, c.transport != nil
	c.mu.Unlock()

	if disposed {
		return ErrDisposed
	}
	if connected {
		return nil
	}
	if c.dialer == nil {
		return fmt.Errorf("%s - %w: no dialer configured", logPrefix, ErrConnectionStart)
	}

	transport, err := c.dialer.Dial(ctx, c.Deliver)
	if err != nil {
		return fmt.Errorf("%s - %w: %w", logPrefix, ErrConnectionStart, err)
	}

	c.mu.Lock()
	switch {
	case c.disposed:
		c.mu.Unlock()
		_ = transport.Close()
		return ErrDisposed
	case c.transport != nil:
		c.mu.Unlock()
		_ = transport.Close()
		return nil
	}
	c.transport = transport
	c.mu.Unlock()

	slog.Info(fmt.Sprintf("%s - Connected", logPrefix))
	return nil
}

// Dispose closes the transport. Pending SendAndAwait calls fail with
// ErrDisposed. Dispose is idempotent.
func (c *Client) Dispose() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	transport := c.transport
	c.transport = nil
	pending := c.waiters
	c.waiters = make(map[string][]*waiter)
	close(c.done)
	c.mu.Unlock()

	failed := 0
	for _, ws := range pending {
		for _, w := range ws {
			w.ch <- result{err: ErrDisposed}
			failed++
		}
	}
	slog.Info(fmt.Sprintf("%s - Disposed (%d pending requests failed)", logPrefix, failed))

	if transport == nil {
		return nil
	}
	if err := transport.Close(); err != nil {
		return fmt.Errorf("%s - close transport: %w", logPrefix, err)
	}
	return nil
}

// Send transmits msg without waiting for any reply.
func (c *Client) Send(ctx context.Context, msg Message) error {
	data, err := envelope.Encode(msg.EventType, msg.RequestID, msg.Payload)
	if err != nil {
		return fmt.Errorf("%s - encode %s: %w", logPrefix, msg.EventType, err)
	}
	return c.write(ctx, data)
}

func (c *Client) write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	transport, disposed := c.transport, c.disposed
	c.mu.Unlock()

	if disposed {
		return ErrDisposed
	}
	if transport == nil {
		return ErrNotConnected
	}
	if err := transport.Send(ctx, data); err != nil {
		return fmt.Errorf("%s - send: %w", logPrefix, err)
	}
	return nil
}

// SendAndAwait sends msg and waits for the reply tagged expectedTag that
// carries the same requestId. A request id is generated when msg has none.
// A timeout <= 0 uses the client's default. It fails with a *TimeoutError
// when the timeout elapses, with a *RemoteError when the server reports a
// dispatch failure for the request, and with ctx.Err() when ctx ends first.
//
// An error message carrying the request id resolves the wait with a
// *RemoteError whatever expectedTag is, rather than being ignored until the
// timeout. Replies buffered before the request is written never match, so a
// reused request id always transmits and waits for a fresh reply.
func (c *Client) SendAndAwait(ctx context.Context, msg Message, expectedTag string, timeout time.Duration) (*Reply, error) {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	if msg.RequestID == "" {
		msg.RequestID = ids.NewRequestID()
	}
	data, err := envelope.Encode(msg.EventType, msg.RequestID, msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("%s - encode %s: %w", logPrefix, msg.EventType, err)
	}

	w, err := c.await(msg.RequestID, expectedTag)
	if err != nil {
		return nil, err
	}

	if err := c.write(ctx, data); err != nil {
		c.cancel(msg.RequestID, w)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-w.ch:
		return res.reply, res.err
	case <-timer.C:
		c.cancel(msg.RequestID, w)
		slog.Debug(fmt.Sprintf("%s - Timed out waiting for %s requestId=%s", logPrefix, expectedTag, msg.RequestID))
		return nil, &TimeoutError{ExpectedEventType: expectedTag, RequestID: msg.RequestID, Timeout: timeout}
	case <-ctx.Done():
		c.cancel(msg.RequestID, w)
		return nil, ctx.Err()
	}
}

// await registers a waiter for the next reply matching requestID.
func (c *Client) await(requestID, expectedTag string) (*waiter, error) {
	expected := envelope.NormalizeTag(expectedTag)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return nil, ErrDisposed
	}
	w := &waiter{expected: expected, ch: make(chan result, 1)}
	c.waiters[requestID] = append(c.waiters[requestID], w)
	return w, nil
}

func (c *Client) cancel(requestID string, w *waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(requestID, w)
}

func (c *Client) removeLocked(requestID string, w *waiter) {
	ws := c.waiters[requestID]
	for i, candidate := range ws {
		if candidate == w {
			ws = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(ws) == 0 {
		delete(c.waiters, requestID)
	} else {
		c.waiters[requestID] = ws
	}
}

// Deliver is the inbound path. Transports call it once per received message.
// Messages whose tag has no registered shape are dropped.
func (c *Client) Deliver(data []byte) {
	env, err := envelope.Decode(data)
	if err != nil {
		c.dropped.Add(1)
		slog.Debug(fmt.Sprintf("%s - Dropping undecodable message: %v", logPrefix, err))
		return
	}

	c.shapesMu.RLock()
	decode, ok := c.shapes[envelope.NormalizeTag(env.EventType)]
	c.shapesMu.RUnlock()
	if !ok {
		c.dropped.Add(1)
		slog.Debug(fmt.Sprintf("%s - Dropping unresolvable eventType=%s", logPrefix, env.EventType))
		return
	}

	payload, err := decode(env.Raw)
	if err != nil {
		c.dropped.Add(1)
		slog.Debug(fmt.Sprintf("%s - Dropping %s: %v", logPrefix, env.EventType, err))
		return
	}

	reply := Reply{
		EventType:  env.EventType,
		RequestID:  env.RequestID,
		Payload:    payload,
		Raw:        env.Raw,
		ReceivedAt: time.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.buffer.push(reply) {
		c.evicted.Add(1)
	}
	if reply.RequestID == "" {
		return
	}
	ws := c.waiters[reply.RequestID]
	if len(ws) == 0 {
		return
	}
	var keep []*waiter
	for _, w := range ws {
		if matches(&reply, reply.RequestID, w.expected) {
			w.ch <- resolve(&reply)
			continue
		}
		keep = append(keep, w)
	}
	if len(keep) == 0 {
		delete(c.waiters, reply.RequestID)
	} else {
		c.waiters[reply.RequestID] = keep
	}
}

// Received returns a snapshot of the buffered replies, oldest first.
func (c *Client) Received() []Reply {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer.snapshot()
}

// Dropped returns how many inbound messages were discarded as unresolvable.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

// Evicted returns how many buffered replies were pushed out by newer ones.
func (c *Client) Evicted() int64 {
	return c.evicted.Load()
}

// Done is closed when the client is disposed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func matches(r *Reply, requestID, expected string) bool {
	if r.RequestID != requestID {
		return false
	}
	tag := envelope.NormalizeTag(r.EventType)
	return tag == expected || tag == errorTag
}

var errorTag = envelope.NormalizeTag(envelope.ErrorEventType)

func resolve(r *Reply) result {
	if envelope.NormalizeTag(r.EventType) != errorTag {
		reply := *r
		return result{reply: &reply}
	}
	msg, _ := r.Payload.(*envelope.ErrorMessage)
	if msg == nil {
		msg = &envelope.ErrorMessage{}
	}
	return result{err: &RemoteError{
		RequestID: r.RequestID,
		Code:      msg.Code,
		Message:   msg.Message,
		EventType: msg.EventType,
		Filter:    msg.Filter,
	}}
}
