// Package otel traces journal connector calls with OpenTelemetry.
package otel

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/codewandler/eventum-go/core/es"
)

const instrumentationName = "github.com/codewandler/eventum-go/adapters/otel"

var (
	attrAggregateID = attribute.Key("eventum.aggregate_id")
	attrEventCount  = attribute.Key("eventum.event_count")
	attrSequence    = attribute.Key("eventum.sequence")
	attrLastSeq     = attribute.Key("eventum.last_sequence")
	attrConnector   = attribute.Key("eventum.connector")
)

type TracingOption func(*TracingConnector)

// WithTracerProvider uses tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) TracingOption {
	return func(c *TracingConnector) { c.tracer = tp.Tracer(instrumentationName) }
}

// WithConnectorName sets the eventum.connector attribute of every span.
func WithConnectorName(name string) TracingOption {
	return func(c *TracingConnector) { c.name = name }
}

// TracingConnector wraps a journal connector with one span per call.
type TracingConnector struct {
	next   es.JournalConnector
	tracer trace.Tracer
	name   string
}

func NewTracingConnector(next es.JournalConnector, opts ...TracingOption) *TracingConnector {
	c := &TracingConnector{
		next:   next,
		tracer: otel.Tracer(instrumentationName),
		name:   "unknown",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *TracingConnector) GetJournal(ctx context.Context, aggregateID string) (j *es.Journal, err error) {
	ctx, span := c.start(ctx, "JournalConnector.GetJournal", attrAggregateID.String(aggregateID))
	defer func() { end(span, err) }()

	j, err = c.next.GetJournal(ctx, aggregateID)
	if err == nil {
		span.SetAttributes(
			attrEventCount.Int(len(j.Events)),
			attrLastSeq.Int64(int64(j.LastSequence())),
			attribute.Bool("eventum.snapshot", j.Snapshot != nil),
		)
	}
	return j, err
}

func (c *TracingConnector) SaveEvents(ctx context.Context, inputs []es.EventInput) (events []es.Event, err error) {
	attrs := []attribute.KeyValue{attrEventCount.Int(len(inputs))}
	if len(inputs) > 0 {
		attrs = append(attrs, attrAggregateID.String(inputs[0].AggregateID))
	}
	ctx, span := c.start(ctx, "JournalConnector.SaveEvents", attrs...)
	defer func() { end(span, err) }()

	events, err = c.next.SaveEvents(ctx, inputs)
	if err == nil && len(events) > 0 {
		span.SetAttributes(attrLastSeq.Int64(int64(events[len(events)-1].Sequence)))
	}
	return events, err
}

func (c *TracingConnector) SaveSnapshot(ctx context.Context, input es.SnapshotInput) (err error) {
	ctx, span := c.start(ctx, "JournalConnector.SaveSnapshot",
		attrAggregateID.String(input.AggregateID),
		attrSequence.Int64(int64(input.Sequence)),
	)
	defer func() { end(span, err) }()

	return c.next.SaveSnapshot(ctx, input)
}

// Close closes the wrapped connector if it holds resources.
func (c *TracingConnector) Close() error {
	if closer, ok := c.next.(es.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *TracingConnector) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(
		append(attrs, attrConnector.String(c.name))...,
	))
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		// a missing journal is an answer, not a failure
		if !errors.Is(err, es.ErrJournalNotFound) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

var (
	_ es.JournalConnector = (*TracingConnector)(nil)
	_ es.Closer           = (*TracingConnector)(nil)
)
