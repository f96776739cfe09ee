package comms

import (
	"context"
	"sync/atomic"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/morezero/socket-dispatch/pkg/connection"
)

// peer is a COMMS sender addressed by its reply inbox.
type peer struct {
	nc    *nats.Conn
	inbox string
	attrs map[string]string
	seen  atomic.Int64
}

func newPeer(nc *nats.Conn, inbox string, msg *nats.Msg) *peer {
	p := &peer{
		nc:    nc,
		inbox: inbox,
		attrs: map[string]string{
			connection.AttrTransport:  TransportName,
			connection.AttrRemoteAddr: inbox,
		},
	}
	if msg.Header != nil {
		p.attrs[connection.AttrProtocolVersion] = msg.Header.Get(connection.HeaderProtocolVersion)
		p.attrs[connection.AttrUserAgent] = msg.Header.Get("User-Agent")
	}
	p.touch()
	return p
}

func (p *peer) ID() string {
	if p.inbox == "" {
		return "anonymous"
	}
	return p.inbox
}

func (p *peer) Attribute(key string) string { return p.attrs[key] }

func (p *peer) Send(_ context.Context, data []byte) error {
	if p.inbox == "" {
		return ErrNoReplySubject
	}
	return p.nc.Publish(p.inbox, data)
}

func (p *peer) touch() { p.seen.Store(time.Now().UnixNano()) }

func (p *peer) lastSeen() time.Time { return time.Unix(0, p.seen.Load()) }
