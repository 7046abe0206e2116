package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	instrumentsOnce   sync.Once
	operationDuration metric.Float64Histogram
)

// GetMeter returns the meter of the global provider.
func GetMeter() metric.Meter {
	return otel.Meter(instrumentationName)
}

func instruments() metric.Float64Histogram {
	instrumentsOnce.Do(func() {
		h, err := GetMeter().Float64Histogram("strata.operation.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of traced storage operations"),
		)
		if err == nil {
			operationDuration = h
		}
	})
	return operationDuration
}

// recordDuration records a traced operation's duration on the OpenTelemetry
// meter. Prometheus metrics for the same operations live in pkg/metrics.
func recordDuration(ctx context.Context, component, operation string, d time.Duration, err error) {
	h := instruments()
	if h == nil {
		return
	}
	h.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("component", component),
		attribute.String("operation", operation),
		attribute.String("status", getStatus(err)),
	))
}

// getStatus returns status string for metrics
func getStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
