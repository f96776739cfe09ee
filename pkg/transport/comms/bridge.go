// Package comms carries envelopes over COMMS (NATS). The server side
// subscribes to a dispatch subject; each peer publishes with a reply inbox
// that becomes its connection id, and everything sent to the peer is
// published to that inbox.
package comms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/morezero/socket-dispatch/pkg/commsutil"
	"github.com/morezero/socket-dispatch/pkg/connection"
	"github.com/morezero/socket-dispatch/pkg/dispatcher"
)

const logPrefix = "comms:bridge"

// TransportName is the value of the connection.AttrTransport attribute.
const TransportName = "comms"

// ErrNoReplySubject is returned when sending to a peer that published
// without a reply inbox.
var ErrNoReplySubject = errors.New("peer has no reply subject")

// Dispatcher is the part of *dispatcher.Dispatcher the bridge needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, raw []byte, c connection.Connection) error
}

// BridgeParams configures a Bridge. Conn and Dispatcher are required.
type BridgeParams struct {
	Conn       *nats.Conn
	Subject    string
	Queue      string
	Dispatcher Dispatcher
	Directory  *connection.Directory
	Notify     func(ctx context.Context, c connection.Connection, err error) error
	OnClose    func(id string)
	// PeerIdleTimeout removes peers from the directory after this long
	// without a message. Defaults to 5m.
	PeerIdleTimeout time.Duration
	DispatchTimeout time.Duration
}

// Bridge serves COMMS peers. nats.go delivers a subscription's messages on a
// single goroutine, so messages are dispatched in arrival order.
type Bridge struct {
	params BridgeParams

	mu    sync.Mutex
	sub   *nats.Subscription
	peers map[string]*peer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBridge creates a Bridge. Start begins serving.
func NewBridge(params BridgeParams) *Bridge {
	if params.Subject == "" {
		params.Subject = commsutil.SubjectDispatch
	}
	if params.Notify == nil {
		params.Notify = dispatcher.NotifyFailure
	}
	if params.Directory == nil {
		params.Directory = connection.NewDirectory(nil)
	}
	if params.PeerIdleTimeout <= 0 {
		params.PeerIdleTimeout = 5 * time.Minute
	}
	if params.DispatchTimeout <= 0 {
		params.DispatchTimeout = 30 * time.Second
	}
	return &Bridge{params: params, peers: make(map[string]*peer)}
}

// Start subscribes to the dispatch subject.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub != nil {
		return nil
	}
	if b.params.Conn == nil || b.params.Dispatcher == nil {
		return fmt.Errorf("%s - Conn and Dispatcher are required", logPrefix)
	}

	b.ctx, b.cancel = context.WithCancel(ctx)
	var (
		sub *nats.Subscription
		err error
	)
	if b.params.Queue != "" {
		sub, err = b.params.Conn.QueueSubscribe(b.params.Subject, b.params.Queue, b.handle)
	} else {
		sub, err = b.params.Conn.Subscribe(b.params.Subject, b.handle)
	}
	if err != nil {
		b.cancel()
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, b.params.Subject, err)
	}
	b.sub = sub
	// Peers may publish as soon as Start returns.
	if err := b.params.Conn.Flush(); err != nil {
		slog.Warn(fmt.Sprintf("%s - flush after subscribe: %v", logPrefix, err))
	}

	b.wg.Add(1)
	go b.sweep()

	slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, b.params.Subject))
	return nil
}

func (b *Bridge) handle(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(b.ctx, b.params.DispatchTimeout)
	defer cancel()

	c := b.peerFor(ctx, msg)
	err := b.params.Dispatcher.Dispatch(ctx, msg.Data, c)
	if err == nil {
		return
	}

	slog.Warn(fmt.Sprintf("%s - Dispatch failed for %s: %v", logPrefix, c.ID(), err))
	if msg.Reply == "" {
		return
	}
	if nerr := b.params.Notify(ctx, c, err); nerr != nil {
		slog.Warn(fmt.Sprintf("%s - Failed to notify %s: %v", logPrefix, c.ID(), nerr))
	}
}

// peerFor returns the connection for msg's reply inbox, adding it to the
// directory on first contact. Directory changes for peers happen under b.mu
// so the peer table and the directory never disagree.
func (b *Bridge) peerFor(ctx context.Context, msg *nats.Msg) *peer {
	if msg.Reply == "" {
		return newPeer(b.params.Conn, "", msg)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if p, ok := b.peers[msg.Reply]; ok {
		p.touch()
		return p
	}
	p := newPeer(b.params.Conn, msg.Reply, msg)
	b.peers[msg.Reply] = p
	if err := b.params.Directory.Add(ctx, p); err != nil {
		slog.Warn(fmt.Sprintf("%s - %v", logPrefix, err))
	}
	return p
}

func (b *Bridge) sweep() {
	defer b.wg.Done()

	interval := b.params.PeerIdleTimeout / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.expire(time.Now().Add(-b.params.PeerIdleTimeout))
		}
	}
}

// expire removes peers last seen before cutoff and returns their ids.
func (b *Bridge) expire(cutoff time.Time) []string {
	b.mu.Lock()
	var idle []string
	for id, p := range b.peers {
		if p.lastSeen().Before(cutoff) {
			idle = append(idle, id)
			delete(b.peers, id)
			b.params.Directory.Remove(context.Background(), id)
		}
	}
	b.mu.Unlock()

	for _, id := range idle {
		if b.params.OnClose != nil {
			b.params.OnClose(id)
		}
		slog.Debug(fmt.Sprintf("%s - Expired idle peer %s", logPrefix, id))
	}
	return idle
}

// Len returns the number of known peers.
func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.peers)
}

// Stop drains the subscription and forgets every peer.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()

	if sub == nil {
		return nil
	}
	err := sub.Drain()
	b.cancel()
	b.wg.Wait()
	b.expire(time.Now().Add(time.Hour))

	if err != nil {
		return fmt.Errorf("%s - drain %s: %w", logPrefix, b.params.Subject, err)
	}
	slog.Info(fmt.Sprintf("%s - Unsubscribed from %s", logPrefix, b.params.Subject))
	return nil
}
