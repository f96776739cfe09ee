package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/morezero/socket-dispatch/pkg/connection"
	"github.com/morezero/socket-dispatch/pkg/dispatcher"
	"github.com/morezero/socket-dispatch/pkg/ids"
)

const logPrefix = "ws:server"

// Dispatcher is the part of *dispatcher.Dispatcher the server needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, raw []byte, c connection.Connection) error
}

// ServerParams configures a Server. Dispatcher and Directory are required.
type ServerParams struct {
	Dispatcher Dispatcher
	Directory  *connection.Directory
	// Notify reports a failed dispatch to the peer. Defaults to dispatcher.NotifyFailure.
	Notify func(ctx context.Context, c connection.Connection, err error) error
	// OnClose runs after a peer is removed from the directory.
	OnClose         func(id string)
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	DispatchTimeout time.Duration
	MaxMessageBytes int64
	CheckOrigin     func(r *http.Request) bool
}

// Server is an http.Handler that upgrades requests and serves each peer on
// its own goroutine. Messages from one peer are dispatched in arrival order;
// a slow handler delays only that peer.
type Server struct {
	params   ServerParams
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[string]*Conn
}

// NewServer creates a Server. Zero durations and sizes get defaults.
func NewServer(params ServerParams) *Server {
	if params.Notify == nil {
		params.Notify = dispatcher.NotifyFailure
	}
	if params.WriteTimeout <= 0 {
		params.WriteTimeout = 10 * time.Second
	}
	if params.PingInterval <= 0 {
		params.PingInterval = 30 * time.Second
	}
	if params.DispatchTimeout <= 0 {
		params.DispatchTimeout = 30 * time.Second
	}
	if params.MaxMessageBytes <= 0 {
		params.MaxMessageBytes = 1 << 20
	}
	if params.CheckOrigin == nil {
		params.CheckOrigin = func(*http.Request) bool { return true }
	}
	if params.Directory == nil {
		params.Directory = connection.NewDirectory(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		params: params,
		upgrader: websocket.Upgrader{
			CheckOrigin:     params.CheckOrigin,
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[string]*Conn),
	}
}

// ServeHTTP upgrades the request and starts serving the peer.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - Upgrade failed from %s: %v", logPrefix, r.RemoteAddr, err))
		return
	}

	c := newConn(ids.NewConnectionID(), wsConn, r, s.params.WriteTimeout)
	if err := s.params.Directory.Add(s.ctx, c); err != nil {
		slog.Error(fmt.Sprintf("%s - %v", logPrefix, err))
		_ = c.Close(websocket.CloseInternalServerErr, "duplicate connection id")
		return
	}

	s.mu.Lock()
	s.conns[c.ID()] = c
	s.mu.Unlock()

	slog.Info(fmt.Sprintf("%s - Connected %s from %s (version=%q)", logPrefix, c.ID(), r.RemoteAddr, c.Attribute(connection.AttrProtocolVersion)))

	s.wg.Add(1)
	go s.serve(c)
}

func (s *Server) serve(c *Conn) {
	defer s.wg.Done()
	defer s.drop(c)

	pongWait := 2 * s.params.PingInterval
	c.ws.SetReadLimit(s.params.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go s.keepAlive(c, stopPing)

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn(fmt.Sprintf("%s - Read from %s failed: %v", logPrefix, c.ID(), err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		s.handle(c, data)
	}
}

// handle dispatches one message inline. A failure is reported to the peer and
// the connection stays open.
func (s *Server) handle(c *Conn, data []byte) {
	ctx, cancel := context.WithTimeout(s.ctx, s.params.DispatchTimeout)
	defer cancel()

	err := s.params.Dispatcher.Dispatch(ctx, data, c)
	if err == nil {
		return
	}

	slog.Warn(fmt.Sprintf("%s - Dispatch failed for %s: %v", logPrefix, c.ID(), err))
	if nerr := s.params.Notify(ctx, c, err); nerr != nil {
		slog.Warn(fmt.Sprintf("%s - Failed to notify %s: %v", logPrefix, c.ID(), nerr))
	}
}

func (s *Server) keepAlive(c *Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.params.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				slog.Debug(fmt.Sprintf("%s - Ping to %s failed: %v", logPrefix, c.ID(), err))
				_ = c.ws.Close()
				return
			}
		}
	}
}

func (s *Server) drop(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c.ID())
	s.mu.Unlock()

	_ = c.Close(websocket.CloseNormalClosure, "")
	s.params.Directory.Remove(context.Background(), c.ID())
	if s.params.OnClose != nil {
		s.params.OnClose(c.ID())
	}
	slog.Info(fmt.Sprintf("%s - Disconnected %s", logPrefix, c.ID()))
}

// Len returns the number of peers being served.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown stops accepting peers, closes every open connection and waits
// for their goroutines to finish or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	open := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		open = append(open, c)
	}
	s.mu.Unlock()

	for _, c := range open {
		_ = c.Close(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(fmt.Errorf("%s - shutdown: %d connections still open", logPrefix, s.Len()), ctx.Err())
	}
}
