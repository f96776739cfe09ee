// Package ws carries envelopes over WebSocket text frames, one envelope per
// frame. Server accepts peers and dispatches their messages; Dialer connects
// a client.Client to such a server.
package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/morezero/socket-dispatch/pkg/connection"
)

// HeaderProtocolVersion carries the peer's protocol version on the upgrade
// request. The query parameter "v" is accepted as a fallback.
const HeaderProtocolVersion = connection.HeaderProtocolVersion

// TransportName is the value of the connection.AttrTransport attribute.
const TransportName = "websocket"

// Conn is a server-side peer. Writes are serialized and bounded by a deadline.
type Conn struct {
	id           string
	ws           *websocket.Conn
	attrs        map[string]string
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newConn(id string, wsConn *websocket.Conn, r *http.Request, writeTimeout time.Duration) *Conn {
	return &Conn{
		id:           id,
		ws:           wsConn,
		attrs:        requestAttributes(r),
		writeTimeout: writeTimeout,
	}
}

func requestAttributes(r *http.Request) map[string]string {
	version := strings.TrimSpace(r.Header.Get(HeaderProtocolVersion))
	if version == "" {
		version = strings.TrimSpace(r.URL.Query().Get("v"))
	}
	return map[string]string{
		connection.AttrProtocolVersion: version,
		connection.AttrRemoteAddr:      r.RemoteAddr,
		connection.AttrUserAgent:       r.UserAgent(),
		connection.AttrTransport:       TransportName,
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Attribute(key string) string { return c.attrs[key] }

// Send writes data as one text frame.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(writeDeadline(ctx, c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close sends a close frame and closes the socket. Safe to call more than once.
func (c *Conn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// writeDeadline is the earlier of ctx's deadline and now+timeout.
func writeDeadline(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}
