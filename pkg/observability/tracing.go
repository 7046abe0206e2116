// Package observability wires OpenTelemetry tracing and instrument-level
// metrics into the storage core. Commit, compress and scan each run inside
// a span; with no provider installed the spans are no-ops.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ajitpratap0/strata"

// GetTracer returns the tracer of the global provider.
func GetTracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Span wraps a tracing span and records its duration when ended.
type Span struct {
	span       trace.Span
	ctx        context.Context
	component  string
	operation  string
	startTime  time.Time
	attributes []attribute.KeyValue
	err        error
}

// NewSpan starts a span.
func NewSpan(ctx context.Context, component, operation string) (context.Context, *Span) {
	ctx, span := GetTracer().Start(ctx, component+"."+operation)
	return ctx, &Span{
		span:      span,
		ctx:       ctx,
		component: component,
		operation: operation,
		startTime: time.Now(),
	}
}

// SetAttribute adds an attribute to the span. Attributes are applied in one
// batch when the span ends.
func (s *Span) SetAttribute(key string, value interface{}) {
	var attr attribute.KeyValue

	switch v := value.(type) {
	case string:
		attr = attribute.String(key, v)
	case int:
		attr = attribute.Int(key, v)
	case int64:
		attr = attribute.Int64(key, v)
	case float64:
		attr = attribute.Float64(key, v)
	case bool:
		attr = attribute.Bool(key, v)
	default:
		attr = attribute.String(key, fmt.Sprintf("%v", v))
	}

	s.attributes = append(s.attributes, attr)
}

// AddEvent adds an event to the span
func (s *Span) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Fail marks the span as failed.
func (s *Span) Fail(err error) {
	if err == nil {
		return
	}
	s.err = err
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// End ends the span and records its duration.
func (s *Span) End() {
	if len(s.attributes) > 0 {
		s.span.SetAttributes(s.attributes...)
	}
	if s.err == nil {
		s.span.SetStatus(codes.Ok, "")
	}
	recordDuration(s.ctx, s.component, s.operation, time.Since(s.startTime), s.err)
	s.span.End()
}

// StorageTracer starts spans for one component and table.
type StorageTracer struct {
	component string
	table     string
}

// NewStorageTracer creates a tracer for a component ("table", "codec",
// "scan") working on table.
func NewStorageTracer(component, table string) *StorageTracer {
	return &StorageTracer{component: component, table: table}
}

// StartSpan starts a span tagged with the component and table.
func (st *StorageTracer) StartSpan(ctx context.Context, operation string) (context.Context, *Span) {
	ctx, span := NewSpan(ctx, st.component, operation)
	span.SetAttribute("strata.component", st.component)
	span.SetAttribute("strata.table", st.table)
	return ctx, span
}

// Trace runs fn inside a span and records its error, if any.
func (st *StorageTracer) Trace(ctx context.Context, operation string, fn func(ctx context.Context, span *Span) error) error {
	ctx, span := st.StartSpan(ctx, operation)
	defer span.End()

	err := fn(ctx, span)
	span.Fail(err)
	return err
}
