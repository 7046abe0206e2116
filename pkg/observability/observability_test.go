package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(previous)
	})
	return exp
}

func TestStorageTracerRecordsSpans(t *testing.T) {
	exp := installRecorder(t)
	tracer := NewStorageTracer("table", "trades")
	ctx := context.Background()

	err := tracer.Trace(ctx, "commit", func(ctx context.Context, span *Span) error {
		span.SetAttribute("rows", int64(100))
		return nil
	})
	require.NoError(t, err)

	failure := errors.New("msync failed")
	err = tracer.Trace(ctx, "commit", func(ctx context.Context, span *Span) error {
		return failure
	})
	assert.ErrorIs(t, err, failure)

	spans := exp.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "table.commit", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	assert.Equal(t, codes.Error, spans[1].Status.Code)

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "trades", attrs["strata.table"])
	assert.Equal(t, "100", attrs["rows"])
}

func TestInitializeStdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	config := DefaultConfig()
	config.Tracing.Enabled = true
	config.Tracing.Exporter = ExporterStdout
	config.Tracing.Writer = &buf

	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	require.NoError(t, Initialize(config))
	_, span := NewSpan(context.Background(), "scan", "run")
	span.End()
	require.NoError(t, Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "scan.run")
	// A second shutdown is a no-op.
	assert.NoError(t, Shutdown(context.Background()))
}

func TestInitializeDisabledAndInvalid(t *testing.T) {
	assert.NoError(t, Initialize(DefaultConfig()))

	config := DefaultConfig()
	config.Tracing.Enabled = true
	config.Tracing.Exporter = "zipkin"
	assert.Error(t, Initialize(config))
}
