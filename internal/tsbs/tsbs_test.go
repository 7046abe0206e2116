package tsbs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/compression"
	"github.com/ajitpratap0/strata/pkg/performance"
	"github.com/ajitpratap0/strata/pkg/scan"
	"github.com/ajitpratap0/strata/pkg/strataerrors"
	"github.com/ajitpratap0/strata/pkg/table"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Rows = 50_000
	cfg.Seed = 42
	return cfg
}

func newCatalog(t *testing.T) *table.Catalog {
	t.Helper()
	opts := table.DefaultOptions()
	opts.Logger = zap.NewNop()
	opts.SyncCommit = false
	c, err := table.NewCatalog(t.TempDir(), opts)
	require.NoError(t, err)
	return c
}

func newCodec(t *testing.T, alg compression.Algorithm) *compression.Codec {
	t.Helper()
	cfg := compression.DefaultConfig()
	cfg.Algorithm = alg
	codec, err := compression.NewCodec(cfg, zap.NewNop())
	require.NoError(t, err)
	return codec
}

func TestGeneratorIsDeterministic(t *testing.T) {
	cfg := smallConfig()
	a, b := NewGenerator(cfg), NewGenerator(cfg)
	for i := 0; i < 10_000; i++ {
		sa, la := a.Next()
		sb, lb := b.Next()
		require.Equal(t, sa, sb, "row %d", i)
		require.Equal(t, la, lb, "row %d", i)
	}
}

func TestGeneratorBounds(t *testing.T) {
	cfg := smallConfig()
	g := NewGenerator(cfg)
	seen := false
	for i := 0; i < 100_000; i++ {
		sym, lng := g.Next()
		require.True(t, sym >= 0 && sym < cfg.DistinctSymbols, "symbol %d", sym)
		require.True(t, lng >= 0 && lng < cfg.LongUpperBound, "long %d", lng)
		if sym == cfg.FilteredSymbol {
			seen = true
		}
	}
	assert.True(t, seen, "filtered symbol never generated")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative rows", func(c *Config) { c.Rows = -1 }},
		{"no symbols", func(c *Config) { c.DistinctSymbols = 0 }},
		{"filtered out of range", func(c *Config) { c.FilteredSymbol = c.DistinctSymbols }},
		{"filtered zero", func(c *Config) { c.FilteredSymbol = 0 }},
		{"small upper bound", func(c *Config) { c.LongUpperBound = 100 }},
	}
	require.NoError(t, DefaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.True(t, strataerrors.IsType(cfg.Validate(), strataerrors.ErrorTypeValidation))
		})
	}
}

func TestRunVariantsAgree(t *testing.T) {
	cfg := smallConfig()
	c := newCatalog(t)
	ctx := context.Background()

	full, err := Run(ctx, cfg, RunOptions{Catalog: c, Table: "full", Logger: zap.NewNop()})
	require.NoError(t, err)
	assert.Equal(t, cfg.Rows, full.Written.Rows)
	assert.Equal(t, cfg.Rows, full.Result.Scanned)
	assert.Positive(t, full.Result.Matched)

	sub, err := Run(ctx, cfg, RunOptions{
		Catalog:      c,
		Codec:        newCodec(t, compression.Zstd),
		Compress:     true,
		SubPartition: true,
		Table:        "sub",
		ScanOptions:  []scan.Option{scan.WithWorkers(3)},
		Logger:       zap.NewNop(),

		CompressOptions: table.CompressOptions{
			RemoveRaw: true,
			Workers:   2,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, full.Result.Matched, sub.Written.Rows)
	assert.Equal(t, full.Result.Sum, sub.Result.Sum)
	assert.Equal(t, full.Result.Matched, sub.Result.Matched)
	assert.Len(t, sub.Artifacts, 2)

	names := make([]string, 0, len(sub.Phases))
	for _, ph := range sub.Phases {
		names = append(names, ph.Name)
	}
	assert.Equal(t, []string{"write", "compress", "scan"}, names)
}

func TestRunCompressedMatchesRaw(t *testing.T) {
	cfg := smallConfig()
	c := newCatalog(t)
	ctx := context.Background()

	raw, err := Run(ctx, cfg, RunOptions{Catalog: c, Logger: zap.NewNop()})
	require.NoError(t, err)

	prof := performance.NewProfiler("test")
	lz4, err := Run(ctx, cfg, RunOptions{
		Catalog:  c,
		Codec:    newCodec(t, compression.LZ4),
		Compress: true,
		Profiler: prof,
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)
	assert.Equal(t, raw.Result, lz4.Result)
	assert.Len(t, lz4.Artifacts, 3)
	assert.Len(t, prof.Phases(), 3)
}

func TestRunRequiresCodecForCompression(t *testing.T) {
	_, err := Run(context.Background(), smallConfig(), RunOptions{Catalog: newCatalog(t), Compress: true})
	assert.True(t, strataerrors.IsType(err, strataerrors.ErrorTypeValidation))
}

func TestWriteHonoursCancellation(t *testing.T) {
	cfg := smallConfig()
	cfg.Rows = 3 * commitEvery
	c := newCatalog(t)
	tbl, err := c.Create("cancelled", Columns())
	require.NoError(t, err)
	w, err := tbl.NewWriter()
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err := Write(ctx, w, cfg)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(commitEvery), stats.Rows)
	assert.Zero(t, w.CommittedRowCount())
}
