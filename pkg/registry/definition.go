package registry

import (
	"context"
	"errors"

	"github.com/morezero/socket-dispatch/pkg/connection"
	"github.com/morezero/socket-dispatch/pkg/envelope"
	"github.com/morezero/socket-dispatch/pkg/filter"
)

// Definition is one row of the registration table an application supplies.
type Definition struct {
	Tag     string
	Decode  Decoder
	Filters []filter.Filter
	Invoke  Invoker
}

// With returns a copy of the definition with filters appended in order.
func (d Definition) With(filters ...filter.Filter) Definition {
	merged := make([]filter.Filter, 0, len(d.Filters)+len(filters))
	merged = append(merged, d.Filters...)
	merged = append(merged, filters...)
	d.Filters = merged
	return d
}

// HandlerFunc is a handler over a concrete payload type.
type HandlerFunc[T any] func(ctx context.Context, payload *T, c connection.Connection) error

// Handle builds a Definition whose decoder produces *T and whose invoker
// calls fn with it.
func Handle[T any](tag string, fn HandlerFunc[T]) Definition {
	def := Definition{
		Tag: tag,
		Decode: func(raw []byte) (any, error) {
			payload := new(T)
			if err := envelope.DecodePayload(raw, payload); err != nil {
				return nil, err
			}
			return payload, nil
		},
	}
	if fn != nil {
		def.Invoke = func(ctx context.Context, payload any, c connection.Connection) error {
			typed, ok := payload.(*T)
			if !ok {
				return filter.ErrPayloadType
			}
			return fn(ctx, typed, c)
		}
	}
	return def
}

// HandleType is Handle with the tag taken from the payload type name.
func HandleType[T any](fn HandlerFunc[T]) Definition {
	return Handle(envelope.TagOf(new(T)), fn)
}

// Add registers every definition, in order, and returns all failures joined.
func (r *Registry) Add(defs ...Definition) error {
	var errs []error
	for _, def := range defs {
		if err := r.Register(def.Tag, def.Decode, def.Filters, def.Invoke); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build creates a registry from defs and freezes it. Any configuration error
// fails the whole build.
func Build(defs []Definition, opts ...Option) (*Registry, error) {
	r := New(opts...)
	if err := r.Add(defs...); err != nil {
		return nil, err
	}
	r.Freeze()
	return r, nil
}
