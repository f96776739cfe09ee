package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/morezero/socket-dispatch/pkg/events"
)

const directoryLogPrefix = "connection:directory"

// ErrDuplicateConnection is returned by Add when the id is already present.
var ErrDuplicateConnection = errors.New("connection already registered")

// Directory tracks the connections currently attached to a server. Transports
// add a connection when it opens and remove it when it closes.
type Directory struct {
	mu        sync.RWMutex
	conns     map[string]Connection
	publisher events.EventPublisher
}

// NewDirectory creates an empty Directory. A nil publisher disables events.
func NewDirectory(publisher events.EventPublisher) *Directory {
	if publisher == nil {
		publisher = &events.NoOpPublisher{}
	}
	return &Directory{
		conns:     make(map[string]Connection),
		publisher: publisher,
	}
}

// Add registers c and publishes a connected event.
func (d *Directory) Add(ctx context.Context, c Connection) error {
	d.mu.Lock()
	if _, exists := d.conns[c.ID()]; exists {
		d.mu.Unlock()
		return fmt.Errorf("%s - %w: %s", directoryLogPrefix, ErrDuplicateConnection, c.ID())
	}
	d.conns[c.ID()] = c
	n := len(d.conns)
	d.mu.Unlock()

	slog.Debug(fmt.Sprintf("%s - Added %s (%d connected)", directoryLogPrefix, c.ID(), n))
	d.publish(ctx, c, events.KindConnected, n)
	return nil
}

// Remove unregisters the connection with the given id. It reports whether it was present.
func (d *Directory) Remove(ctx context.Context, id string) bool {
	d.mu.Lock()
	c, ok := d.conns[id]
	if ok {
		delete(d.conns, id)
	}
	n := len(d.conns)
	d.mu.Unlock()

	if !ok {
		return false
	}
	slog.Debug(fmt.Sprintf("%s - Removed %s (%d connected)", directoryLogPrefix, id, n))
	d.publish(ctx, c, events.KindDisconnected, n)
	return true
}

// Get returns the connection with the given id.
func (d *Directory) Get(id string) (Connection, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.conns[id]
	return c, ok
}

// Len returns the number of connections.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.conns)
}

// IDs returns the sorted ids of all connections.
func (d *Directory) IDs() []string {
	d.mu.RLock()
	ids := make([]string, 0, len(d.conns))
	for id := range d.conns {
		ids = append(ids, id)
	}
	d.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Broadcast sends data to every connection except those listed in except and
// returns how many sends succeeded. Delivery continues past individual
// failures; the joined errors are returned.
func (d *Directory) Broadcast(ctx context.Context, data []byte, except ...string) (int, error) {
	skip := make(map[string]bool, len(except))
	for _, id := range except {
		skip[id] = true
	}

	d.mu.RLock()
	targets := make([]Connection, 0, len(d.conns))
	for id, c := range d.conns {
		if !skip[id] {
			targets = append(targets, c)
		}
	}
	d.mu.RUnlock()

	var errs []error
	delivered := 0
	for _, c := range targets {
		if err := c.Send(ctx, data); err != nil {
			slog.Warn(fmt.Sprintf("%s - broadcast to %s failed: %v", directoryLogPrefix, c.ID(), err))
			errs = append(errs, fmt.Errorf("%s: %w", c.ID(), err))
			continue
		}
		delivered++
	}
	return delivered, errors.Join(errs...)
}

func (d *Directory) publish(ctx context.Context, c Connection, kind string, n int) {
	event := &events.ConnectionEvent{
		ConnectionID: c.ID(),
		Kind:         kind,
		Attributes:   snapshotAttributes(c),
		Connections:  n,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
	if err := d.publisher.PublishConnection(ctx, event); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish %s event for %s: %v", directoryLogPrefix, kind, c.ID(), err))
	}
}

func snapshotAttributes(c Connection) map[string]string {
	attrs := make(map[string]string)
	for _, key := range []string{AttrProtocolVersion, AttrRemoteAddr, AttrUserAgent, AttrTransport} {
		if v := c.Attribute(key); v != "" {
			attrs[key] = v
		}
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}
