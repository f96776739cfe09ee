// Package handlers is the application's registration table: the payload
// types the server understands and the handlers bound to them.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/socket-dispatch/pkg/connection"
	"github.com/morezero/socket-dispatch/pkg/dispatcher"
	"github.com/morezero/socket-dispatch/pkg/envelope"
	"github.com/morezero/socket-dispatch/pkg/filter"
	"github.com/morezero/socket-dispatch/pkg/registry"
)

const logPrefix = "handlers:handlers"

// Params carries what the handlers need from the server.
type Params struct {
	Directory       *connection.Directory
	ProtocolVersion string
	// VersionConstraint gates Broadcast and ListConnections.
	VersionConstraint string
	// RateLimit, when set, applies to Echo and Broadcast.
	RateLimit filter.Filter
}

// Definitions returns the registration table.
func Definitions(p Params) ([]registry.Definition, error) {
	if p.Directory == nil {
		return nil, fmt.Errorf("%s - Directory is required", logPrefix)
	}
	requireVersion, err := filter.RequireVersion(p.VersionConstraint)
	if err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}

	limited := func(fs ...filter.Filter) []filter.Filter {
		if p.RateLimit != nil {
			fs = append(fs, p.RateLimit)
		}
		return fs
	}

	h := &handlers{params: p}
	return []registry.Definition{
		registry.HandleType(h.echo).With(limited(filter.Validate())...),
		registry.HandleType(h.ping),
		registry.HandleType(h.broadcast).With(limited(requireVersion, filter.Validate())...),
		registry.HandleType(h.listConnections).With(requireVersion),
	}, nil
}

type handlers struct {
	params Params
}

func (h *handlers) echo(ctx context.Context, p *Echo, c connection.Connection) error {
	return reply(ctx, c, &EchoReply{Message: p.Message})
}

func (h *handlers) ping(ctx context.Context, _ *Ping, c connection.Connection) error {
	return reply(ctx, c, &Pong{
		ServerTime:      time.Now().UTC(),
		ProtocolVersion: h.params.ProtocolVersion,
		ConnectionID:    c.ID(),
	})
}

func (h *handlers) broadcast(ctx context.Context, p *Broadcast, c connection.Connection) error {
	data, err := envelope.Encode(envelope.TagOf(BroadcastMessage{}), "", &BroadcastMessage{From: c.ID(), Message: p.Message})
	if err != nil {
		return err
	}

	var except []string
	if !p.IncludeSelf {
		except = append(except, c.ID())
	}
	delivered, err := h.params.Directory.Broadcast(ctx, data, except...)
	if err != nil {
		// Partial delivery is still acknowledged.
		slog.Warn(fmt.Sprintf("%s - broadcast from %s: %v", logPrefix, c.ID(), err))
	}
	slog.Debug(fmt.Sprintf("%s - %s broadcast to %d peers", logPrefix, c.ID(), delivered))
	return reply(ctx, c, &BroadcastAck{Delivered: delivered})
}

func (h *handlers) listConnections(ctx context.Context, _ *ListConnections, c connection.Connection) error {
	return reply(ctx, c, &ConnectionList{Connections: h.params.Directory.IDs()})
}

// reply sends payload tagged with its type name, echoing the request id.
func reply(ctx context.Context, c connection.Connection, payload any) error {
	return connection.SendEnvelope(ctx, c, envelope.TagOf(payload), dispatcher.RequestIDFromContext(ctx), payload)
}
