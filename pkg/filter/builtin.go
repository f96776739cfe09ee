package filter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	masterminds "github.com/Masterminds/semver/v3"
	"golang.org/x/time/rate"

	"github.com/morezero/socket-dispatch/pkg/connection"
)

var (
	// ErrVersionMissing is returned when a connection did not declare a protocol version.
	ErrVersionMissing = errors.New("protocol version not declared")
	// ErrVersionUnsupported is returned when the declared version fails the constraint.
	ErrVersionUnsupported = errors.New("protocol version not supported")
	// ErrAttributeMissing is returned by RequireAttribute.
	ErrAttributeMissing = errors.New("required connection attribute missing")
	// ErrRateLimited is returned by RateLimit when the connection exhausted its budget.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Validator is implemented by payloads that can check their own invariants.
type Validator interface {
	Validate() error
}

// RequireVersion rejects connections whose protocolVersion attribute does not
// satisfy constraint (for example ">= 1.2.0, < 2").
func RequireVersion(constraint string) (Filter, error) {
	c, err := masterminds.NewConstraint(constraint)
	if err != nil {
		return nil, fmt.Errorf("filter:builtin - invalid version constraint %q: %w", constraint, err)
	}
	name := "require_version(" + constraint + ")"
	return Func(name, func(_ context.Context, conn connection.Connection, _ any) error {
		declared := conn.Attribute(connection.AttrProtocolVersion)
		if declared == "" {
			return ErrVersionMissing
		}
		v, err := masterminds.NewVersion(declared)
		if err != nil {
			return fmt.Errorf("%w: %q is not a version", ErrVersionUnsupported, declared)
		}
		if !c.Check(v) {
			return fmt.Errorf("%w: %s does not satisfy %s", ErrVersionUnsupported, declared, constraint)
		}
		return nil
	}), nil
}

// MustRequireVersion is RequireVersion that panics on an invalid constraint.
func MustRequireVersion(constraint string) Filter {
	f, err := RequireVersion(constraint)
	if err != nil {
		panic(err)
	}
	return f
}

// RequireAttribute rejects connections without a non-empty attribute key.
func RequireAttribute(key string) Filter {
	return Func("require_attribute("+key+")", func(_ context.Context, conn connection.Connection, _ any) error {
		if conn.Attribute(key) == "" {
			return fmt.Errorf("%w: %s", ErrAttributeMissing, key)
		}
		return nil
	})
}

// Validate calls Validate on payloads implementing Validator and passes others.
func Validate() Filter {
	return Func("validate", func(_ context.Context, _ connection.Connection, payload any) error {
		if v, ok := payload.(Validator); ok {
			return v.Validate()
		}
		return nil
	})
}

// RateLimitFilter limits how often each connection may pass. Limiter state is
// kept per connection id until Forget is called.
type RateLimitFilter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// RateLimit creates a per-connection token bucket filter.
func RateLimit(limit rate.Limit, burst int) *RateLimitFilter {
	return &RateLimitFilter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Name returns the filter name.
func (f *RateLimitFilter) Name() string { return "rate_limit" }

// Check consumes one token from the connection's bucket.
func (f *RateLimitFilter) Check(_ context.Context, conn connection.Connection, _ any) error {
	f.mu.Lock()
	l, ok := f.limiters[conn.ID()]
	if !ok {
		l = rate.NewLimiter(f.limit, f.burst)
		f.limiters[conn.ID()] = l
	}
	f.mu.Unlock()

	if !l.Allow() {
		return ErrRateLimited
	}
	return nil
}

// Forget drops the limiter state for a connection.
func (f *RateLimitFilter) Forget(connectionID string) {
	f.mu.Lock()
	delete(f.limiters, connectionID)
	f.mu.Unlock()
}

// Tracked returns the number of connections with limiter state.
func (f *RateLimitFilter) Tracked() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.limiters)
}
