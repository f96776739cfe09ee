// Package filter provides the pre-handler checks attached to a registration.
// Filters run in declared order before the handler; the first failure aborts
// dispatch.
package filter

import (
	"context"
	"errors"
	"fmt"

	"github.com/morezero/socket-dispatch/pkg/connection"
)

// Filter is a named pre-condition evaluated against the decoded payload and
// the originating connection. Filters must not mutate the payload.
type Filter interface {
	Name() string
	Check(ctx context.Context, c connection.Connection, payload any) error
}

// ErrPayloadType is returned by typed filters that receive a payload of another type.
var ErrPayloadType = errors.New("unexpected payload type")

type funcFilter struct {
	name string
	fn   func(ctx context.Context, c connection.Connection, payload any) error
}

func (f *funcFilter) Name() string { return f.name }

func (f *funcFilter) Check(ctx context.Context, c connection.Connection, payload any) error {
	return f.fn(ctx, c, payload)
}

// Func adapts a function into a Filter.
func Func(name string, fn func(ctx context.Context, c connection.Connection, payload any) error) Filter {
	return &funcFilter{name: name, fn: fn}
}

// Typed adapts a function over a concrete payload type into a Filter.
func Typed[T any](name string, fn func(ctx context.Context, c connection.Connection, payload *T) error) Filter {
	return Func(name, func(ctx context.Context, c connection.Connection, payload any) error {
		typed, ok := payload.(*T)
		if !ok {
			return fmt.Errorf("%w: %T", ErrPayloadType, payload)
		}
		return fn(ctx, c, typed)
	})
}

// RejectedError reports the filter that stopped a dispatch.
type RejectedError struct {
	Filter string
	Err    error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("filter %s rejected message: %v", e.Filter, e.Err)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// Chain is an ordered list of filters.
type Chain []Filter

// Run evaluates each filter in order and stops at the first failure.
func (ch Chain) Run(ctx context.Context, c connection.Connection, payload any) error {
	for _, f := range ch {
		if err := f.Check(ctx, c, payload); err != nil {
			return &RejectedError{Filter: f.Name(), Err: err}
		}
	}
	return nil
}

// Names returns the filter names in order.
func (ch Chain) Names() []string {
	names := make([]string, len(ch))
	for i, f := range ch {
		names[i] = f.Name()
	}
	return names
}
