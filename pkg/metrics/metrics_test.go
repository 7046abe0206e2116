package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersRegistered(t *testing.T) {
	RowsAppended.WithLabelValues("metrics_test").Add(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(RowsAppended.WithLabelValues("metrics_test")))

	Commits.WithLabelValues("metrics_test", StatusSuccess).Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(Commits.WithLabelValues("metrics_test", StatusSuccess)))
}

func TestThroughputTracker(t *testing.T) {
	tracker := NewThroughputTracker("metrics_test", "append")
	tracker.Increment(1000)
	time.Sleep(10 * time.Millisecond)

	rate := tracker.GetAndReset()
	assert.Greater(t, rate, 0.0)
	assert.Equal(t, rate, testutil.ToFloat64(Throughput.WithLabelValues("metrics_test", "append")))
}

func TestLatencyTrackerPercentiles(t *testing.T) {
	l := NewLatencyTracker(4)
	assert.Zero(t, l.GetPercentile(50))

	for _, ms := range []int{40, 10, 30, 20, 50} {
		l.Record(time.Duration(ms) * time.Millisecond)
	}
	// The oldest sample (40ms) was evicted.
	assert.Equal(t, 4, l.Count())
	assert.Equal(t, 10*time.Millisecond, l.GetPercentile(0))
	assert.Equal(t, 30*time.Millisecond, l.GetPercentile(50))
	assert.Equal(t, 50*time.Millisecond, l.GetPercentile(100))
}

func TestTimer(t *testing.T) {
	timer := NewTimer("op")
	assert.Equal(t, "op", timer.Name())
	assert.GreaterOrEqual(t, timer.Stop(), time.Duration(0))
}
