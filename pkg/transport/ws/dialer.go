package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/morezero/socket-dispatch/pkg/client"
)

const dialerLogPrefix = "ws:dialer"

// Dialer connects a client.Client to a Server.
type Dialer struct {
	URL             string
	ProtocolVersion string
	Header          http.Header
	// HandshakeTimeout defaults to 10s, WriteTimeout to 10s.
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

var _ client.Dialer = (*Dialer)(nil)

// Dial opens the socket and starts a reader that passes every frame to deliver.
func (d *Dialer) Dial(ctx context.Context, deliver func([]byte)) (client.Transport, error) {
	handshake := d.HandshakeTimeout
	if handshake <= 0 {
		handshake = 10 * time.Second
	}
	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	header := http.Header{}
	for k, v := range d.Header {
		header[k] = append([]string(nil), v...)
	}
	if d.ProtocolVersion != "" {
		header.Set(HeaderProtocolVersion, d.ProtocolVersion)
	}

	wsDialer := &websocket.Dialer{HandshakeTimeout: handshake}
	conn, resp, err := wsDialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%s - dial %s: %w (status %d)", dialerLogPrefix, d.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("%s - dial %s: %w", dialerLogPrefix, d.URL, err)
	}

	t := &clientTransport{conn: conn, writeTimeout: writeTimeout, done: make(chan struct{})}
	go t.read(deliver)
	return t, nil
}

type clientTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
	done         chan struct{}
}

func (t *clientTransport) read(deliver func([]byte)) {
	defer close(t.done)
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug(fmt.Sprintf("%s - Read failed: %v", dialerLogPrefix, err))
			}
			return
		}
		deliver(data)
	}
}

func (t *clientTransport) Send(ctx context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	_ = t.conn.SetWriteDeadline(writeDeadline(ctx, t.writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *clientTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		t.writeMu.Unlock()

		select {
		case <-t.done:
		case <-time.After(time.Second):
		}
		err = t.conn.Close()
	})
	return err
}
