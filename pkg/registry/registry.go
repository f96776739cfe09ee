package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/morezero/socket-dispatch/pkg/envelope"
	"github.com/morezero/socket-dispatch/pkg/filter"
)

const logPrefix = "registry:registry"

// Registry is the type tag to handler table.
//
// Register is meant for startup only and is not safe for concurrent use.
// After Freeze the table never changes and Lookup needs no locking.
type Registry struct {
	entries map[string]*HandlerDescriptor
	common  []filter.Filter
	frozen  atomic.Bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithCommonFilters prepends filters to every handler registered afterwards.
func WithCommonFilters(filters ...filter.Filter) Option {
	return func(r *Registry) {
		r.common = append(r.common, filters...)
	}
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{entries: make(map[string]*HandlerDescriptor)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds one handler. The tag is compared case-insensitively and
// without the conventional suffix, so "Echo" and "EchoDto" collide.
func (r *Registry) Register(tag string, decode Decoder, filters []filter.Filter, invoke Invoker) error {
	if r.frozen.Load() {
		return NewError(CodeFrozen, tag, "register handlers before serving")
	}
	normalized := envelope.NormalizeTag(tag)
	if normalized == "" {
		return NewError(CodeEmptyTag, tag, "type tag is required")
	}
	if decode == nil {
		return NewError(CodeNilHandler, tag, "decoder is required")
	}
	if invoke == nil {
		return NewError(CodeNilHandler, tag, "handler is required")
	}

	chain := make(filter.Chain, 0, len(r.common)+len(filters))
	chain = append(chain, r.common...)
	chain = append(chain, filters...)
	for i, f := range chain {
		if f == nil {
			return NewError(CodeNilHandler, tag, fmt.Sprintf("filter %d is nil", i))
		}
	}
	if existing, ok := r.entries[normalized]; ok {
		return NewError(CodeDuplicateHandler, tag,
			fmt.Sprintf("normalizes to %q, already registered as %q", normalized, existing.tag))
	}

	r.entries[normalized] = &HandlerDescriptor{
		tag:        strings.TrimSpace(tag),
		normalized: normalized,
		decode:     decode,
		filters:    chain,
		invoke:     invoke,
	}

	slog.Debug(fmt.Sprintf("%s - Registered %s filters=%v", logPrefix, tag, chain.Names()))
	return nil
}

// Lookup resolves a tag to its descriptor.
func (r *Registry) Lookup(tag string) (*HandlerDescriptor, bool) {
	d, ok := r.entries[envelope.NormalizeTag(tag)]
	return d, ok
}

// Freeze makes the registry read-only. It is idempotent.
func (r *Registry) Freeze() {
	if r.frozen.CompareAndSwap(false, true) {
		slog.Info(fmt.Sprintf("%s - Registry frozen with %d handlers", logPrefix, len(r.entries)))
	}
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Tags returns the registered tags, sorted.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.entries))
	for _, d := range r.entries {
		tags = append(tags, d.tag)
	}
	sort.Strings(tags)
	return tags
}
