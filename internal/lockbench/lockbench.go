// Package lockbench measures the reader-writer lock variants under a mixed
// workload. Every operation draws n in [0, ratio); n == 0 takes the write
// lock, anything else the read lock, and the holder spins over a few random
// numbers to emulate work.
package lockbench

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/strata/pkg/metrics"
	"github.com/ajitpratap0/strata/pkg/rwlock"
	"github.com/ajitpratap0/strata/pkg/strataerrors"
)

// BaselineKind labels the run that does the work without any lock.
const BaselineKind rwlock.Kind = "baseline"

const (
	// one in sampleEvery operations is timed individually
	sampleEvery = 1024
	maxSamples  = 1 << 16
)

// Config describes a benchmark run.
type Config struct {
	Kinds      []rwlock.Kind `yaml:"kinds" json:"kinds"`
	Ratios     []int         `yaml:"ratios" json:"ratios"`
	Goroutines int           `yaml:"goroutines" json:"goroutines"`
	Duration   time.Duration `yaml:"duration" json:"duration"`
	Spins      int           `yaml:"spins" json:"spins"`
	Baseline   bool          `yaml:"baseline" json:"baseline"`
}

// DefaultConfig runs every kind at the standard ratios.
func DefaultConfig() Config {
	return Config{
		Kinds:      rwlock.Kinds(),
		Ratios:     []int{1000, 10000, 100000},
		Goroutines: 8,
		Duration:   time.Second,
		Spins:      50,
		Baseline:   true,
	}
}

// Validate checks the run parameters.
func (c Config) Validate() error {
	if len(c.Kinds) == 0 && !c.Baseline {
		return strataerrors.New(strataerrors.ErrorTypeValidation, "no lock kinds selected")
	}
	for _, k := range c.Kinds {
		if _, err := rwlock.ParseKind(string(k)); err != nil {
			return err
		}
	}
	if len(c.Kinds) > 0 && len(c.Ratios) == 0 {
		return strataerrors.New(strataerrors.ErrorTypeValidation, "no read/write ratios selected")
	}
	for _, r := range c.Ratios {
		if r < 1 {
			return strataerrors.Newf(strataerrors.ErrorTypeValidation, "ratio must be at least 1, got %d", r)
		}
	}
	switch {
	case c.Goroutines < 1:
		return strataerrors.Newf(strataerrors.ErrorTypeValidation, "goroutines must be at least 1, got %d", c.Goroutines)
	case c.Duration <= 0:
		return strataerrors.Newf(strataerrors.ErrorTypeValidation, "duration must be positive, got %s", c.Duration)
	case c.Spins < 0:
		return strataerrors.Newf(strataerrors.ErrorTypeValidation, "spins cannot be negative, got %d", c.Spins)
	}
	return nil
}

// Result is the outcome of one kind at one ratio.
type Result struct {
	Kind       rwlock.Kind
	Ratio      int
	Goroutines int
	Reads      int64
	Writes     int64
	Elapsed    time.Duration
	// P50 and P99 are over sampled operations, lock and work included.
	P50 time.Duration
	P99 time.Duration
}

// Ops returns the total operation count.
func (r Result) Ops() int64 { return r.Reads + r.Writes }

// NsPerOp returns the average wall time per operation per goroutine.
func (r Result) NsPerOp() float64 {
	if r.Ops() == 0 {
		return 0
	}
	return float64(r.Elapsed.Nanoseconds()) * float64(r.Goroutines) / float64(r.Ops())
}

// sink keeps the emulated work observable.
var sink atomic.Int64

// Run executes the baseline, if selected, and then every kind at every
// ratio, in order.
func Run(ctx context.Context, cfg Config) ([]Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var results []Result
	if cfg.Baseline {
		r, err := runOne(ctx, cfg, BaselineKind, nil, 1)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	for _, ratio := range cfg.Ratios {
		for _, kind := range cfg.Kinds {
			l, err := rwlock.New(kind)
			if err != nil {
				return results, err
			}
			r, err := runOne(ctx, cfg, kind, l, ratio)
			if err != nil {
				return results, err
			}
			results = append(results, r)
		}
	}
	return results, nil
}

func runOne(ctx context.Context, cfg Config, kind rwlock.Kind, l rwlock.RWLock, ratio int) (Result, error) {
	var (
		stop          atomic.Bool
		reads, writes atomic.Int64
		holders       atomic.Int64
	)
	latencies := metrics.NewLatencyTracker(maxSamples)
	tracker := metrics.NewThroughputTracker("lockbench", string(kind))

	done := make(chan struct{})
	go func() {
		select {
		case <-time.After(cfg.Duration):
		case <-ctx.Done():
		case <-done:
		}
		stop.Store(true)
	}()
	defer close(done)

	timer := metrics.NewTimer(string(kind))
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Goroutines; i++ {
		seed := uint64(i) + 1
		g.Go(func() error {
			rnd := rand.New(rand.NewPCG(seed, uint64(time.Now().UnixNano()))) //nolint:gosec // G404: workload only
			var reader rwlock.Reader
			if l != nil {
				reader = l.NewReader()
				defer reader.Close()
			}

			var (
				sum    int64
				nr, nw int64
			)
			for op := 0; !stop.Load(); op++ {
				var start time.Time
				sampled := op%sampleEvery == 0
				if sampled {
					start = time.Now()
				}

				switch {
				case l == nil:
					sum += spin(rnd, cfg.Spins)
					nr++
				case rnd.IntN(ratio) == 0:
					l.Lock()
					if holders.Add(1) != 1 {
						l.Unlock()
						return strataerrors.Newf(strataerrors.ErrorTypeState, "%s: writer overlapped another holder", kind)
					}
					sum += spin(rnd, cfg.Spins)
					holders.Add(-1)
					l.Unlock()
					nw++
				default:
					reader.RLock()
					sum += spin(rnd, cfg.Spins)
					reader.RUnlock()
					nr++
				}

				if sampled {
					latencies.Record(time.Since(start))
					if err := gctx.Err(); err != nil {
						return err
					}
				}
			}
			sink.Add(sum)
			reads.Add(nr)
			writes.Add(nw)
			tracker.Increment(nr + nw)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	tracker.GetAndReset()

	return Result{
		Kind:       kind,
		Ratio:      ratio,
		Goroutines: cfg.Goroutines,
		Reads:      reads.Load(),
		Writes:     writes.Load(),
		Elapsed:    timer.Stop(),
		P50:        latencies.GetPercentile(50),
		P99:        latencies.GetPercentile(99),
	}, nil
}

func spin(rnd *rand.Rand, n int) int64 {
	var sum int64
	for i := 0; i < n; i++ {
		sum += int64(rnd.Int32())
	}
	return sum
}

// WriteReport writes results as a table.
func WriteReport(w io.Writer, results []Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "kind\tratio\tops\twrites\tns/op\tp50\tp99\t\n")
	for _, r := range results {
		ratio := "-"
		if r.Kind != BaselineKind {
			ratio = fmt.Sprint(r.Ratio)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.1f\t%s\t%s\t\n",
			r.Kind, ratio, r.Ops(), r.Writes, r.NsPerOp(), r.P50, r.P99)
	}
	return tw.Flush()
}
