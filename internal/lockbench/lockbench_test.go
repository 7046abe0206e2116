package lockbench

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/strata/pkg/rwlock"
	"github.com/ajitpratap0/strata/pkg/strataerrors"
)

func quickConfig() Config {
	cfg := DefaultConfig()
	cfg.Ratios = []int{10}
	cfg.Goroutines = 4
	cfg.Duration = 20 * time.Millisecond
	return cfg
}

func TestRunCoversEveryKind(t *testing.T) {
	cfg := quickConfig()
	results, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, results, 1+len(rwlock.Kinds()))

	assert.Equal(t, BaselineKind, results[0].Kind)
	assert.Zero(t, results[0].Writes)
	for i, kind := range rwlock.Kinds() {
		r := results[i+1]
		assert.Equal(t, kind, r.Kind)
		assert.Equal(t, 10, r.Ratio)
		assert.Positive(t, r.Reads, "kind %s", kind)
		assert.Positive(t, r.NsPerOp(), "kind %s", kind)
		assert.GreaterOrEqual(t, r.P99, r.P50)
	}
}

func TestRatioOneOnlyWrites(t *testing.T) {
	cfg := quickConfig()
	cfg.Baseline = false
	cfg.Ratios = []int{1}
	results, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	for _, r := range results {
		assert.Zero(t, r.Reads, "kind %s", r.Kind)
		assert.Positive(t, r.Writes, "kind %s", r.Kind)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := quickConfig()
	cfg.Duration = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Run(ctx, cfg)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown kind", func(c *Config) { c.Kinds = []rwlock.Kind{"spin"} }},
		{"nothing to run", func(c *Config) { c.Kinds = nil; c.Baseline = false }},
		{"no ratios", func(c *Config) { c.Ratios = nil }},
		{"zero ratio", func(c *Config) { c.Ratios = []int{0} }},
		{"no goroutines", func(c *Config) { c.Goroutines = 0 }},
		{"no duration", func(c *Config) { c.Duration = 0 }},
		{"negative spins", func(c *Config) { c.Spins = -1 }},
	}
	require.NoError(t, DefaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var se *strataerrors.Error
			assert.ErrorAs(t, err, &se)
		})
	}
}

func TestWriteReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, []Result{
		{Kind: BaselineKind, Goroutines: 1, Reads: 100, Elapsed: time.Millisecond},
		{Kind: rwlock.KindBiased, Ratio: 1000, Goroutines: 2, Reads: 990, Writes: 10, Elapsed: time.Millisecond},
	}))
	out := buf.String()
	assert.Contains(t, out, "baseline")
	assert.Contains(t, out, "biased")
	assert.Contains(t, out, "1000")
}
