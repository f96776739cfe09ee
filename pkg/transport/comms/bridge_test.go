package comms

import (
	"context"
	"sync"
	"testing"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/morezero/socket-dispatch/pkg/connection"
)

const peersTestPrefix = "comms:bridge_test"

func TestBridge_PeerTableMatchesDirectory(t *testing.T) {
	directory := connection.NewDirectory(nil)
	b := NewBridge(BridgeParams{Directory: directory})
	msg := &nats.Msg{Subject: "socket.dispatch.v1", Reply: "_INBOX.peer"}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			b.peerFor(context.Background(), msg)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			b.expire(time.Now().Add(time.Minute))
		}
	}()
	wg.Wait()

	p := b.peerFor(context.Background(), msg)
	got, ok := directory.Get(msg.Reply)
	if !ok {
		t.Fatalf("%s - returning peer missing from directory", peersTestPrefix)
	}
	if got != connection.Connection(p) {
		t.Errorf("%s - directory holds a stale peer for %s", peersTestPrefix, msg.Reply)
	}
	if b.Len() != 1 || directory.Len() != 1 {
		t.Errorf("%s - bridge=%d directory=%d, want 1/1", peersTestPrefix, b.Len(), directory.Len())
	}
}

func TestBridge_ExpireThenReturn(t *testing.T) {
	directory := connection.NewDirectory(nil)
	var closed []string
	b := NewBridge(BridgeParams{Directory: directory, OnClose: func(id string) { closed = append(closed, id) }})
	msg := &nats.Msg{Reply: "_INBOX.again"}

	first := b.peerFor(context.Background(), msg)
	if idle := b.expire(time.Now().Add(time.Minute)); len(idle) != 1 {
		t.Fatalf("%s - expired %v, want one peer", peersTestPrefix, idle)
	}
	if _, ok := directory.Get(msg.Reply); ok {
		t.Fatalf("%s - expired peer still in directory", peersTestPrefix)
	}

	second := b.peerFor(context.Background(), msg)
	if second == first {
		t.Errorf("%s - expired peer was reused", peersTestPrefix)
	}
	if got, ok := directory.Get(msg.Reply); !ok || got != connection.Connection(second) {
		t.Errorf("%s - directory does not hold the returning peer", peersTestPrefix)
	}
	if len(closed) != 1 || closed[0] != msg.Reply {
		t.Errorf("%s - OnClose calls = %v", peersTestPrefix, closed)
	}
}
