// Package metrics provides Prometheus instrumentation for the storage core.
//
// # Overview
//
// The metrics package provides:
//   - Pre-defined metrics for appends, commits, compression and scans
//   - Timers, throughput and latency tracking utilities
//   - Automatic metric registration on the default registry
//
// # Basic Usage
//
//	// Record appended rows
//	metrics.RowsAppended.WithLabelValues("trades").Add(float64(n))
//
//	// Track commit latency
//	timer := metrics.NewTimer("commit")
//	err := w.Commit()
//	metrics.CommitLatency.WithLabelValues("trades").Observe(timer.Stop().Seconds())
//
//	// Track ingest throughput
//	tracker := metrics.NewThroughputTracker("trades", "append")
//	tracker.Increment(int64(n))
//	rowsPerSec := tracker.GetAndReset()
//
// # Metric Types
//
// Counter: Monotonically increasing values (e.g., total rows appended)
// Gauge: Values that can go up or down (e.g., open writers)
// Histogram: Distribution of values (e.g., scan latency)
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Commit outcomes used as the status label.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// storageBuckets cover sub-millisecond appends up to multi-second scans of
// cold data, in seconds.
var storageBuckets = []float64{
	1e-5, // 10μs
	1e-4, // 100μs
	1e-3, // 1ms
	1e-2, // 10ms
	0.1,
	1,
	10,
}

var (
	// RowsAppended tracks rows appended to table writers, committed or not.
	// Labels: table
	RowsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_rows_appended_total",
			Help: "Total number of rows appended",
		},
		[]string{"table"},
	)

	// Commits tracks commit attempts.
	// Labels: table, status (success/failure)
	//
	// Example:
	//	metrics.Commits.WithLabelValues("trades", metrics.StatusSuccess).Inc()
	Commits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_commits_total",
			Help: "Total number of commits",
		},
		[]string{"table", "status"},
	)

	// CommitLatency tracks the time from commit start to publication,
	// including msync of every column.
	CommitLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "strata_commit_latency_seconds",
			Help:    "Commit latency in seconds",
			Buckets: storageBuckets,
		},
		[]string{"table"},
	)

	// OpenWriters tracks writers currently holding a table's writer slot.
	OpenWriters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "strata_open_writers",
			Help: "Number of open table writers",
		},
	)

	// CompressionBytes tracks bytes passing through the codec.
	// Labels: algorithm, kind (raw/compressed)
	CompressionBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_compression_bytes_total",
			Help: "Bytes read from raw columns and written to artifacts",
		},
		[]string{"algorithm", "kind"},
	)

	// CompressLatency tracks compress-and-verify time per column.
	CompressLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "strata_compress_latency_seconds",
			Help:    "Column compression latency in seconds, including verification",
			Buckets: storageBuckets,
		},
		[]string{"algorithm"},
	)

	// DecompressLatency tracks artifact decompression time.
	DecompressLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "strata_decompress_latency_seconds",
			Help:    "Artifact decompression latency in seconds",
			Buckets: storageBuckets,
		},
		[]string{"algorithm"},
	)

	// CorruptArtifacts counts artifacts that failed verification.
	CorruptArtifacts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_corrupt_artifacts_total",
			Help: "Compressed artifacts that failed length or checksum verification",
		},
		[]string{"algorithm"},
	)

	// ScanLatency tracks whole-scan latency.
	// Labels: table, source (raw/compressed)
	ScanLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "strata_scan_latency_seconds",
			Help:    "Scan latency in seconds",
			Buckets: storageBuckets,
		},
		[]string{"table", "source"},
	)

	// RowsScanned tracks rows visited by scans.
	RowsScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_rows_scanned_total",
			Help: "Total number of rows visited by scans",
		},
		[]string{"table"},
	)

	// MemoryAllocated tracks resident memory as reported by the CLI.
	MemoryAllocated = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strata_memory_allocated_bytes",
			Help: "Memory allocated in bytes",
		},
		[]string{"component"},
	)

	// Throughput tracks rows per second.
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strata_throughput_rows_per_second",
			Help: "Current throughput in rows per second",
		},
		[]string{"table", "operation"},
	)
)

// Timer provides a simple timing mechanism for measuring operation durations.
// It captures the start time on creation and calculates elapsed time on stop.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
// The name parameter is for identification in logs or metrics.
//
// Example:
//
//	timer := metrics.NewTimer("scan")
//	agg, err := a.Scan(ctx, req)
//	logger.Info("scan finished", zap.Duration("duration", timer.Stop()))
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the timer's name.
func (t *Timer) Name() string {
	return t.name
}

// Stop returns the elapsed duration since creation. The timer can be
// stopped multiple times.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker tracks throughput (rows per second) over time windows.
// Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64     // Rows processed since last reset
	lastReset time.Time // Time of last reset
	table     string
	operation string
}

// NewThroughputTracker creates a new throughput tracker for a table
// operation. The table and operation are used as metric labels.
func NewThroughputTracker(table, operation string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset: time.Now(),
		table:     table,
		operation: operation,
	}
}

// Increment adds n to the row count. Safe for concurrent use.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset calculates the current throughput (rows/second),
// updates the Prometheus metric, resets the counter, and returns
// the calculated throughput. Safe for concurrent use.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed

	// Reset for next period
	t.count = 0
	t.lastReset = time.Now()

	Throughput.WithLabelValues(t.table, t.operation).Set(throughput)

	return throughput
}

// LatencyTracker keeps the most recent latencies for percentile reporting.
type LatencyTracker struct {
	mu      sync.Mutex
	values  []time.Duration
	maxSize int
}

// NewLatencyTracker creates a new latency tracker
func NewLatencyTracker(maxSize int) *LatencyTracker {
	return &LatencyTracker{
		values:  make([]time.Duration, 0, maxSize),
		maxSize: maxSize,
	}
}

// Record records a latency value
func (l *LatencyTracker) Record(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.values) >= l.maxSize {
		// Remove oldest
		l.values = l.values[1:]
	}
	l.values = append(l.values, d)
}

// Count returns the number of retained samples.
func (l *LatencyTracker) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.values)
}

// GetPercentile returns the percentile value (0-100)
func (l *LatencyTracker) GetPercentile(p float64) time.Duration {
	l.mu.Lock()
	sorted := make([]time.Duration, len(l.values))
	copy(sorted, l.values)
	l.mu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	index := int(float64(len(sorted)) * p / 100)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
