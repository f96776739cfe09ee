package comms

import (
	"context"
	"fmt"
	"log/slog"

	nats "github.com/nats-io/nats.go"

	"github.com/morezero/socket-dispatch/pkg/client"
	"github.com/morezero/socket-dispatch/pkg/commsutil"
	"github.com/morezero/socket-dispatch/pkg/connection"
)

const dialerLogPrefix = "comms:dialer"

// Dialer connects a client.Client to a Bridge. When Conn is nil a connection
// to URL is opened and closed with the transport.
type Dialer struct {
	Conn            *nats.Conn
	URL             string
	Name            string
	Subject         string
	ProtocolVersion string
}

var _ client.Dialer = (*Dialer)(nil)

// Dial subscribes a private inbox and returns a transport publishing to the
// dispatch subject with that inbox as reply subject.
func (d *Dialer) Dial(_ context.Context, deliver func([]byte)) (client.Transport, error) {
	nc, owned := d.Conn, false
	if nc == nil {
		var err error
		nc, err = commsutil.Connect(commsutil.ConnectParams{URL: d.URL, Name: d.Name})
		if err != nil {
			return nil, err
		}
		owned = true
	}

	subject := d.Subject
	if subject == "" {
		subject = commsutil.SubjectDispatch
	}

	inbox := nc.NewInbox()
	sub, err := nc.Subscribe(inbox, func(m *nats.Msg) { deliver(m.Data) })
	if err != nil {
		if owned {
			nc.Close()
		}
		return nil, fmt.Errorf("%s - subscribe %s: %w", dialerLogPrefix, inbox, err)
	}
	// The inbox must be known to the server before the first publish.
	if err := nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		if owned {
			nc.Close()
		}
		return nil, fmt.Errorf("%s - flush: %w", dialerLogPrefix, err)
	}

	slog.Debug(fmt.Sprintf("%s - Dialed %s with inbox %s", dialerLogPrefix, subject, inbox))
	return &transport{nc: nc, owned: owned, sub: sub, subject: subject, inbox: inbox, version: d.ProtocolVersion}, nil
}

type transport struct {
	nc      *nats.Conn
	owned   bool
	sub     *nats.Subscription
	subject string
	inbox   string
	version string
}

func (t *transport) Send(_ context.Context, data []byte) error {
	msg := nats.NewMsg(t.subject)
	msg.Reply = t.inbox
	msg.Data = data
	if t.version != "" {
		msg.Header.Set(connection.HeaderProtocolVersion, t.version)
	}
	return t.nc.PublishMsg(msg)
}

func (t *transport) Close() error {
	err := t.sub.Unsubscribe()
	if t.owned {
		t.nc.Close()
	}
	if err != nil {
		return fmt.Errorf("%s - unsubscribe %s: %w", dialerLogPrefix, t.inbox, err)
	}
	return nil
}
