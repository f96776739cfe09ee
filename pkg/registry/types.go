// Package registry maps type tags to handler descriptors. The table is built
// once at startup from an explicit list of definitions and is read-only after
// Freeze.
package registry

import (
	"context"
	"errors"

	"github.com/morezero/socket-dispatch/pkg/connection"
	"github.com/morezero/socket-dispatch/pkg/filter"
)

// Decoder turns the flattened envelope object into the handler's payload value.
type Decoder func(raw []byte) (any, error)

// Invoker runs a handler against a decoded payload.
type Invoker func(ctx context.Context, payload any, c connection.Connection) error

// HandlerDescriptor binds a type tag to its decoder, filters and handler.
type HandlerDescriptor struct {
	tag        string
	normalized string
	decode     Decoder
	filters    filter.Chain
	invoke     Invoker
}

// Tag returns the tag as registered.
func (d *HandlerDescriptor) Tag() string { return d.tag }

// NormalizedTag returns the comparison key of the tag.
func (d *HandlerDescriptor) NormalizedTag() string { return d.normalized }

// Decode decodes a raw envelope into the payload type.
func (d *HandlerDescriptor) Decode(raw []byte) (any, error) { return d.decode(raw) }

// Filters returns a copy of the filter chain in declared order.
func (d *HandlerDescriptor) Filters() filter.Chain {
	out := make(filter.Chain, len(d.filters))
	copy(out, d.filters)
	return out
}

// Invoke runs the handler.
func (d *HandlerDescriptor) Invoke(ctx context.Context, payload any, c connection.Connection) error {
	return d.invoke(ctx, payload, c)
}

// Sentinel configuration errors; *Error values match them with errors.Is.
var (
	ErrDuplicateHandler = errors.New("duplicate handler")
	ErrEmptyTag         = errors.New("empty type tag")
	ErrNilHandler       = errors.New("nil decoder, handler or filter")
	ErrFrozen           = errors.New("registry frozen")
)

// Error codes.
const (
	CodeDuplicateHandler = "DUPLICATE_HANDLER"
	CodeEmptyTag         = "EMPTY_TAG"
	CodeNilHandler       = "NIL_HANDLER"
	CodeFrozen           = "REGISTRY_FROZEN"
)

var sentinels = map[string]error{
	CodeDuplicateHandler: ErrDuplicateHandler,
	CodeEmptyTag:         ErrEmptyTag,
	CodeNilHandler:       ErrNilHandler,
	CodeFrozen:           ErrFrozen,
}

// Error is a structured configuration error from the registry. These are
// raised while building the table, never while handling messages.
type Error struct {
	Code    string `json:"code"`
	Tag     string `json:"tag,omitempty"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Tag == "" {
		return e.Code + ": " + e.Message
	}
	return e.Code + " [" + e.Tag + "]: " + e.Message
}

// Is matches the sentinel corresponding to the error code.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Code]
	return ok && s == target
}

// NewError creates a new Error.
func NewError(code, tag, message string) *Error {
	return &Error{Code: code, Tag: tag, Message: message}
}
