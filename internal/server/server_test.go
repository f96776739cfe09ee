package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/morezero/socket-dispatch/internal/config"
	"github.com/morezero/socket-dispatch/internal/handlers"
	"github.com/morezero/socket-dispatch/pkg/client"
	"github.com/morezero/socket-dispatch/pkg/db"
	"github.com/morezero/socket-dispatch/pkg/dispatcher"
	"github.com/morezero/socket-dispatch/pkg/envelope"
	commstransport "github.com/morezero/socket-dispatch/pkg/transport/comms"
	"github.com/morezero/socket-dispatch/pkg/transport/ws"
)

const serverTestPrefix = "server:server_test"

func testConfig() *config.Config {
	return &config.Config{
		ServiceName:        "socket-dispatch-test",
		HTTPPort:           8080,
		WSPath:             "/ws",
		WriteTimeout:       5 * time.Second,
		PingInterval:       time.Second,
		MaxMessageBytes:    1 << 20,
		DispatchTimeout:    5 * time.Second,
		COMMSSubject:       "socket.dispatch.test",
		EventSubject:       "socket.connections.test",
		PeerIdleTimeout:    time.Minute,
		ProtocolVersion:    "1.0.0",
		MinClientVersion:   "1.0.0",
		RateLimit:          100,
		RateBurst:          100,
		JournalSize:        16,
		JournalTimeout:     time.Second,
		HealthCheckTimeout: time.Second,
		ShutdownTimeout:    5 * time.Second,
	}
}

type running struct {
	srv  *Server
	http *httptest.Server
}

func startServer(t *testing.T, cfg *config.Config) *running {
	t.Helper()
	srv, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("%s - New failed: %v", serverTestPrefix, err)
	}
	if srv.bridge != nil {
		if err := srv.bridge.Start(context.Background()); err != nil {
			t.Fatalf("%s - bridge Start failed: %v", serverTestPrefix, err)
		}
	}
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		hs.Close()
	})
	return &running{srv: srv, http: hs}
}

func (r *running) dial(t *testing.T, version string) *client.Client {
	t.Helper()
	c := client.New(client.Params{Dialer: &ws.Dialer{
		URL:             "ws" + strings.TrimPrefix(r.http.URL, "http") + r.srv.cfg.WSPath,
		ProtocolVersion: version,
	}})
	client.RegisterReplyType[handlers.EchoReply](c)
	client.RegisterReplyType[handlers.BroadcastAck](c)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("%s - Connect failed: %v", serverTestPrefix, err)
	}
	t.Cleanup(func() { _ = c.Dispose() })
	return c
}

func (r *running) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(r.http.URL + path)
	if err != nil {
		t.Fatalf("%s - GET %s failed: %v", serverTestPrefix, path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

// waitForConnections polls until the directory holds n peers.
func (r *running) waitForConnections(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for r.srv.directory.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("%s - directory has %d connections, want %d", serverTestPrefix, r.srv.directory.Len(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServer_EchoRoundTrip(t *testing.T) {
	r := startServer(t, testConfig())
	c := r.dial(t, "1.0.0")

	reply, err := client.Request[handlers.EchoReply](context.Background(), c, client.Message{
		EventType: "Echo",
		Payload:   &handlers.Echo{Message: "hi"},
	}, "EchoReply", 2*time.Second)
	if err != nil {
		t.Fatalf("%s - Request failed: %v", serverTestPrefix, err)
	}
	if reply.Message != "hi" {
		t.Errorf("%s - reply = %q, want hi", serverTestPrefix, reply.Message)
	}

	status, body := r.get(t, "/metrics")
	if status != http.StatusOK || !strings.Contains(body, `socket_dispatch_dispatch_total{event_type="Echo",outcome="ok"} 1`) {
		t.Errorf("%s - metrics missing echo counter (status %d)", serverTestPrefix, status)
	}
}

func TestServer_UnregisteredIsJournaled(t *testing.T) {
	r := startServer(t, testConfig())
	c := r.dial(t, "1.0.0")

	_, err := c.SendAndAwait(context.Background(), client.Message{EventType: "Unregistered", RequestID: "u-1"}, "Anything", 2*time.Second)
	var remote *client.RemoteError
	if !errors.As(err, &remote) || remote.Code != dispatcher.CodeHandlerNotFound {
		t.Fatalf("%s - expected HANDLER_NOT_FOUND, got %v", serverTestPrefix, err)
	}

	status, body := r.get(t, "/failures?limit=5")
	if status != http.StatusOK {
		t.Fatalf("%s - /failures status %d", serverTestPrefix, status)
	}
	var failures []db.Failure
	if err := envelope.Unmarshal([]byte(body), &failures); err != nil {
		t.Fatalf("%s - decode failures: %v", serverTestPrefix, err)
	}
	if len(failures) != 1 || failures[0].RequestID != "u-1" || failures[0].Code != dispatcher.CodeHandlerNotFound {
		t.Errorf("%s - failures = %+v", serverTestPrefix, failures)
	}

	// The connection survives the failure.
	if _, err := c.SendAndAwait(context.Background(), client.Message{EventType: "Echo", Payload: &handlers.Echo{}}, "EchoReply", 2*time.Second); err != nil {
		t.Errorf("%s - Echo after failure: %v", serverTestPrefix, err)
	}
}

func TestServer_AwaitTimesOut(t *testing.T) {
	r := startServer(t, testConfig())
	c := r.dial(t, "1.0.0")

	start := time.Now()
	_, err := c.SendAndAwait(context.Background(), client.Message{EventType: "Echo", Payload: &handlers.Echo{Message: "x"}}, "NeverSent", 2*time.Second)
	elapsed := time.Since(start)
	if !errors.Is(err, client.ErrTimeout) {
		t.Fatalf("%s - expected ErrTimeout, got %v", serverTestPrefix, err)
	}
	if elapsed < 2*time.Second || elapsed > 3*time.Second {
		t.Errorf("%s - timed out after %v", serverTestPrefix, elapsed)
	}
}

func TestServer_BroadcastAndConnections(t *testing.T) {
	r := startServer(t, testConfig())
	sender := r.dial(t, "1.2.0")
	r.dial(t, "1.0.0")
	r.dial(t, "1.0.0")
	r.waitForConnections(t, 3)

	ack, err := client.Request[handlers.BroadcastAck](context.Background(), sender, client.Message{
		EventType: "BroadcastDto",
		Payload:   &handlers.Broadcast{Message: "hello"},
	}, "BroadcastAck", 2*time.Second)
	if err != nil {
		t.Fatalf("%s - Broadcast failed: %v", serverTestPrefix, err)
	}
	if ack.Delivered != 2 {
		t.Errorf("%s - delivered = %d, want 2", serverTestPrefix, ack.Delivered)
	}

	_, body := r.get(t, "/connections")
	var out connectionsOutput
	if err := envelope.Unmarshal([]byte(body), &out); err != nil {
		t.Fatalf("%s - decode connections: %v", serverTestPrefix, err)
	}
	if out.Count != 3 || out.WebSocket != 3 {
		t.Errorf("%s - connections = %+v", serverTestPrefix, out)
	}
}

func TestServer_HealthAndReady(t *testing.T) {
	r := startServer(t, testConfig())

	tests := []struct {
		path string
		want string
	}{
		{"/health", `"status":"healthy"`},
		{"/ready", `"status":"ready"`},
		{"/failures?limit=0", `limit must be a positive integer`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, body := r.get(t, tt.path)
			if !strings.Contains(body, tt.want) {
				t.Errorf("%s - %s body = %s, want %s", serverTestPrefix, tt.path, body, tt.want)
			}
		})
	}
}

func TestServer_COMMSBridge(t *testing.T) {
	ns, err := commsserver.NewServer(&commsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("%s - failed to create COMMS server: %v", serverTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - COMMS server failed to start", serverTestPrefix)
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	cfg := testConfig()
	cfg.COMMSURL = ns.ClientURL()
	r := startServer(t, cfg)

	c := client.New(client.Params{Dialer: &commstransport.Dialer{
		URL:             ns.ClientURL(),
		Subject:         cfg.COMMSSubject,
		ProtocolVersion: "1.0.0",
	}})
	client.RegisterReplyType[handlers.EchoReply](c)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("%s - Connect failed: %v", serverTestPrefix, err)
	}
	defer c.Dispose()

	reply, err := client.Request[handlers.EchoReply](context.Background(), c, client.Message{
		EventType: "Echo",
		Payload:   &handlers.Echo{Message: "over comms"},
	}, "EchoReply", 2*time.Second)
	if err != nil {
		t.Fatalf("%s - Request failed: %v", serverTestPrefix, err)
	}
	if reply.Message != "over comms" {
		t.Errorf("%s - reply = %q", serverTestPrefix, reply.Message)
	}

	_, body := r.get(t, "/health")
	if !strings.Contains(body, `"comms":true`) {
		t.Errorf("%s - health = %s", serverTestPrefix, body)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.WSPath = "ws"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Errorf("%s - expected error for invalid WS_PATH", serverTestPrefix)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("%s - ParseLogLevel(%q) = %v, want %v", serverTestPrefix, tt.in, got, tt.want)
		}
	}
}
