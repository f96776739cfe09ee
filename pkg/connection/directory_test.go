package connection

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/morezero/socket-dispatch/pkg/events"
)

const directoryTestPrefix = "connection:directory_test"

func TestDirectory_AddRemove(t *testing.T) {
	var mu sync.Mutex
	var captured []*events.ConnectionEvent
	pub := events.NewCallbackPublisher(func(_ context.Context, e *events.ConnectionEvent) error {
		mu.Lock()
		captured = append(captured, e)
		mu.Unlock()
		return nil
	})

	dir := NewDirectory(pub)
	ctx := context.Background()

	a := NewMemoryConn("a", map[string]string{AttrProtocolVersion: "1.0.0"})
	b := NewMemoryConn("b", nil)

	if err := dir.Add(ctx, a); err != nil {
		t.Fatalf("%s - Add(a) failed: %v", directoryTestPrefix, err)
	}
	if err := dir.Add(ctx, b); err != nil {
		t.Fatalf("%s - Add(b) failed: %v", directoryTestPrefix, err)
	}
	if err := dir.Add(ctx, a); !errors.Is(err, ErrDuplicateConnection) {
		t.Errorf("%s - expected ErrDuplicateConnection, got %v", directoryTestPrefix, err)
	}

	if dir.Len() != 2 {
		t.Errorf("%s - Len() = %d, want 2", directoryTestPrefix, dir.Len())
	}
	if ids := dir.IDs(); len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("%s - IDs() = %v", directoryTestPrefix, ids)
	}
	if got, ok := dir.Get("a"); !ok || got != a {
		t.Errorf("%s - Get(a) = %v, %v", directoryTestPrefix, got, ok)
	}

	if !dir.Remove(ctx, "a") {
		t.Errorf("%s - Remove(a) should report true", directoryTestPrefix)
	}
	if dir.Remove(ctx, "a") {
		t.Errorf("%s - second Remove(a) should report false", directoryTestPrefix)
	}
	if _, ok := dir.Get("a"); ok {
		t.Errorf("%s - a still present after Remove", directoryTestPrefix)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(captured) != 3 {
		t.Fatalf("%s - expected 3 events, got %d", directoryTestPrefix, len(captured))
	}
	if captured[0].Kind != events.KindConnected || captured[0].ConnectionID != "a" || captured[0].Connections != 1 {
		t.Errorf("%s - first event = %+v", directoryTestPrefix, captured[0])
	}
	if captured[0].Attributes[AttrProtocolVersion] != "1.0.0" {
		t.Errorf("%s - expected attributes on event, got %v", directoryTestPrefix, captured[0].Attributes)
	}
	if captured[2].Kind != events.KindDisconnected || captured[2].Connections != 1 {
		t.Errorf("%s - last event = %+v", directoryTestPrefix, captured[2])
	}
}

func TestDirectory_BroadcastSkipsExceptAndContinuesPastFailures(t *testing.T) {
	dir := NewDirectory(nil)
	ctx := context.Background()

	a := NewMemoryConn("a", nil)
	b := NewMemoryConn("b", nil)
	c := NewMemoryConn("c", nil)
	c.FailSends(errors.New("closed"))
	for _, conn := range []*MemoryConn{a, b, c} {
		if err := dir.Add(ctx, conn); err != nil {
			t.Fatalf("%s - Add failed: %v", directoryTestPrefix, err)
		}
	}

	delivered, err := dir.Broadcast(ctx, []byte(`{"eventType":"Hello"}`), "a")
	if err == nil {
		t.Fatalf("%s - expected error from failing connection", directoryTestPrefix)
	}
	if delivered != 1 {
		t.Errorf("%s - delivered = %d, want 1", directoryTestPrefix, delivered)
	}

	if len(a.Sent()) != 0 {
		t.Errorf("%s - excluded connection received %d frames", directoryTestPrefix, len(a.Sent()))
	}
	if len(b.Sent()) != 1 {
		t.Errorf("%s - b received %d frames, want 1", directoryTestPrefix, len(b.Sent()))
	}
}

func TestSendEnvelope(t *testing.T) {
	conn := NewMemoryConn("x", nil)
	err := SendEnvelope(context.Background(), conn, "EchoReply", "r1", map[string]string{"message": "hi"})
	if err != nil {
		t.Fatalf("%s - SendEnvelope failed: %v", directoryTestPrefix, err)
	}
	envs := conn.Envelopes()
	if len(envs) != 1 || envs[0].EventType != "EchoReply" || envs[0].RequestID != "r1" {
		t.Errorf("%s - unexpected envelopes: %+v", directoryTestPrefix, envs)
	}

	conn.FailSends(errors.New("broken pipe"))
	if err := SendEnvelope(context.Background(), conn, "EchoReply", "", nil); err == nil {
		t.Errorf("%s - expected send error", directoryTestPrefix)
	}
}
