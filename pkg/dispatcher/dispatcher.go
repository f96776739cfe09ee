// Package dispatcher routes inbound envelopes to registered handlers through
// their filter chains.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/morezero/socket-dispatch/pkg/connection"
	"github.com/morezero/socket-dispatch/pkg/db"
	"github.com/morezero/socket-dispatch/pkg/envelope"
	"github.com/morezero/socket-dispatch/pkg/filter"
	"github.com/morezero/socket-dispatch/pkg/registry"
)

const (
	logPrefix  = "dispatcher:dispatch"
	tracerName = "github.com/morezero/socket-dispatch/pkg/dispatcher"

	// DefaultJournalTimeout bounds a single failure journal write.
	DefaultJournalTimeout = 2 * time.Second
)

// Params configures a Dispatcher. Only Registry is required.
type Params struct {
	Registry *registry.Registry
	Metrics  *Metrics
	Journal  db.FailureJournal
	Tracer   trace.Tracer
	// JournalTimeout caps how long Dispatch waits on the journal after a
	// failure. Defaults to DefaultJournalTimeout.
	JournalTimeout time.Duration
}

// Dispatcher holds no per-message state and is safe for concurrent use.
type Dispatcher struct {
	registry *registry.Registry
	metrics  *Metrics
	journal  db.FailureJournal
	tracer   trace.Tracer

	journalTimeout time.Duration
}

// New creates a Dispatcher and freezes its registry.
func New(params Params) *Dispatcher {
	if params.Registry == nil {
		params.Registry = registry.New()
	}
	params.Registry.Freeze()
	if params.Journal == nil {
		params.Journal = db.NoOpJournal{}
	}
	if params.Tracer == nil {
		params.Tracer = otel.Tracer(tracerName)
	}
	if params.JournalTimeout <= 0 {
		params.JournalTimeout = DefaultJournalTimeout
	}
	return &Dispatcher{
		registry: params.Registry,
		metrics:  params.Metrics,
		journal:  params.Journal,
		tracer:   params.Tracer,

		journalTimeout: params.JournalTimeout,
	}
}

// Registry returns the frozen handler table.
func (d *Dispatcher) Registry() *registry.Registry {
	return d.registry
}

// Dispatch decodes raw, resolves its handler, runs the handler's filters in
// order and invokes the handler. Every failure is an *Error; nothing is
// retried.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte, c connection.Connection) error {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "Dispatch", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	span.SetAttributes(attribute.String("connection.id", c.ID()))

	label, err := d.dispatch(ctx, raw, c)

	outcome := OutcomeOK
	if err != nil {
		outcome = CodeOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		d.record(ctx, raw, c, err)
	}
	span.SetAttributes(attribute.String("dispatch.outcome", outcome))
	d.metrics.observe(label, outcome, time.Since(start))
	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, raw []byte, c connection.Connection) (string, error) {
	env, err := envelope.Decode(raw)
	if err != nil {
		return unknownEventType, &Error{Code: CodeMalformedEnvelope, Err: err}
	}
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("message.event_type", env.EventType),
		attribute.String("message.request_id", env.RequestID),
	)

	desc, ok := d.registry.Lookup(env.EventType)
	if !ok {
		return unknownEventType, &Error{Code: CodeHandlerNotFound, EventType: env.EventType, RequestID: env.RequestID}
	}
	label := desc.Tag()
	ctx = withEnvelope(ctx, env.EventType, env.RequestID)

	slog.Debug(fmt.Sprintf("%s - conn=%s eventType=%s requestId=%s", logPrefix, c.ID(), env.EventType, env.RequestID))

	payload, err := desc.Decode(env.Raw)
	if err != nil {
		return label, &Error{Code: CodePayloadDecode, EventType: env.EventType, RequestID: env.RequestID, Err: err}
	}

	if err := desc.Filters().Run(ctx, c, payload); err != nil {
		de := &Error{Code: CodeFilterRejected, EventType: env.EventType, RequestID: env.RequestID, Err: err}
		var rejected *filter.RejectedError
		if errors.As(err, &rejected) {
			de.Filter = rejected.Filter
			de.Err = rejected.Err
		}
		return label, de
	}

	if err := invoke(ctx, desc, payload, c); err != nil {
		return label, &Error{Code: CodeHandlerError, EventType: env.EventType, RequestID: env.RequestID, Err: err}
	}
	return label, nil
}

func invoke(ctx context.Context, desc *registry.HandlerDescriptor, payload any, c connection.Connection) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - handler %s panicked: %v", logPrefix, desc.Tag(), r))
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return desc.Invoke(ctx, payload, c)
}

func (d *Dispatcher) record(ctx context.Context, raw []byte, c connection.Connection, err error) {
	f := &db.Failure{
		ConnectionID: c.ID(),
		Code:         CodeOf(err),
		Message:      err.Error(),
		Payload:      raw,
		OccurredAt:   time.Now().UTC(),
	}
	var de *Error
	if errors.As(err, &de) {
		f.EventType = de.EventType
		f.RequestID = de.RequestID
		f.Filter = de.Filter
	}
	// The write outlives a cancelled dispatch context but not the journal timeout.
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.journalTimeout)
	defer cancel()
	if jerr := d.journal.Record(jctx, f); jerr != nil {
		slog.Warn(fmt.Sprintf("%s - failed to journal %s: %v", logPrefix, f.Code, jerr))
	}
}
