// Package tsbs generates the TSBS-style ingest and filter workload used to
// compare raw, compressed and sub-partitioned column layouts.
//
// Each row carries a cycling symbol and a cycling long. The symbol walks up
// to DistinctSymbols and restarts at a random value below FilteredSymbol;
// the long walks up to LongUpperBound and restarts at a random value below
// 100. The query sums both long columns over rows whose symbol equals
// FilteredSymbol.
package tsbs

import (
	"context"
	"math/rand/v2"

	"github.com/ajitpratap0/strata/pkg/column"
	"github.com/ajitpratap0/strata/pkg/scan"
	"github.com/ajitpratap0/strata/pkg/strataerrors"
	"github.com/ajitpratap0/strata/pkg/table"
)

// Column names of the generated tables.
const (
	SymbolColumn = "i"
	Long1Column  = "l1"
	Long2Column  = "l2"
)

// commitEvery bounds how many rows a writer keeps uncommitted.
const commitEvery = 1 << 20

// Config describes a generated data set.
type Config struct {
	Rows            int64  `yaml:"rows" json:"rows"`
	DistinctSymbols int32  `yaml:"distinct_symbols" json:"distinct_symbols"`
	FilteredSymbol  int32  `yaml:"filtered_symbol" json:"filtered_symbol"`
	LongUpperBound  int64  `yaml:"long_upper_bound" json:"long_upper_bound"`
	Seed            uint64 `yaml:"seed" json:"seed"`
}

// DefaultConfig returns the default data set.
func DefaultConfig() Config {
	return Config{
		Rows:            10_000_000,
		DistinctSymbols: 100,
		FilteredSymbol:  50,
		LongUpperBound:  1000,
		Seed:            1,
	}
}

// Validate checks the generator bounds.
func (c Config) Validate() error {
	switch {
	case c.Rows < 0:
		return strataerrors.Newf(strataerrors.ErrorTypeValidation, "rows cannot be negative, got %d", c.Rows)
	case c.DistinctSymbols <= 0:
		return strataerrors.Newf(strataerrors.ErrorTypeValidation, "distinct symbols must be positive, got %d", c.DistinctSymbols)
	case c.FilteredSymbol <= 0 || c.FilteredSymbol >= c.DistinctSymbols:
		return strataerrors.Newf(strataerrors.ErrorTypeValidation,
			"filtered symbol must be within (0, %d), got %d", c.DistinctSymbols, c.FilteredSymbol)
	case c.LongUpperBound <= 100:
		return strataerrors.Newf(strataerrors.ErrorTypeValidation, "long upper bound must exceed 100, got %d", c.LongUpperBound)
	}
	return nil
}

// Generator produces the row values. It is deterministic for a seed.
type Generator struct {
	cfg Config
	rnd *rand.Rand
	sym int32
	lng int64
}

// NewGenerator creates a generator.
func NewGenerator(cfg Config) *Generator {
	return &Generator{
		cfg: cfg,
		rnd: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)), //nolint:gosec // G404: benchmark data
	}
}

// Next returns the symbol and long of the next row.
func (g *Generator) Next() (int32, int64) {
	g.sym++
	if g.sym == g.cfg.DistinctSymbols {
		g.sym = g.rnd.Int32N(g.cfg.FilteredSymbol)
	}
	g.lng++
	if g.lng == g.cfg.LongUpperBound {
		g.lng = g.rnd.Int64N(100)
	}
	return g.sym, g.lng
}

// Columns is the layout of the full table.
func Columns() []table.ColumnDef {
	return []table.ColumnDef{
		{Name: SymbolColumn, Type: column.TypeInt},
		{Name: Long1Column, Type: column.TypeLong},
		{Name: Long2Column, Type: column.TypeLong},
	}
}

// SubPartitionColumns is the layout of the table holding only the rows of
// the filtered symbol.
func SubPartitionColumns() []table.ColumnDef {
	return []table.ColumnDef{
		{Name: Long1Column, Type: column.TypeLong},
		{Name: Long2Column, Type: column.TypeLong},
	}
}

// Stats summarizes what was written, including the expected answer of the
// filter query.
type Stats struct {
	Rows     int64
	Matching int64
	Sum      int64
}

// Bytes returns the raw size of the written columns.
func (s Stats) Bytes(cols []table.ColumnDef) int64 {
	var width int64
	for _, c := range cols {
		width += int64(c.Type.Width())
	}
	return s.Rows * width
}

// Write appends cfg.Rows rows to w, which must write a table with Columns.
func Write(ctx context.Context, w *table.Writer, cfg Config) (Stats, error) {
	return write(ctx, w, cfg, false)
}

// WriteSubPartition appends only the rows of the filtered symbol to w, which
// must write a table with SubPartitionColumns.
func WriteSubPartition(ctx context.Context, w *table.Writer, cfg Config) (Stats, error) {
	return write(ctx, w, cfg, true)
}

func write(ctx context.Context, w *table.Writer, cfg Config, filteredOnly bool) (Stats, error) {
	if err := cfg.Validate(); err != nil {
		return Stats{}, err
	}
	var (
		stats   Stats
		pending int64
	)
	g := NewGenerator(cfg)
	for i := int64(0); i < cfg.Rows; i++ {
		sym, lng := g.Next()
		match := sym == cfg.FilteredSymbol
		if match {
			stats.Matching++
			stats.Sum += 2 * lng
		}
		if filteredOnly && !match {
			continue
		}

		r := w.NewRow()
		if filteredOnly {
			r.PutLong(0, lng).PutLong(1, lng)
		} else {
			r.PutInt(0, sym).PutLong(1, lng).PutLong(2, lng)
		}
		if err := r.Append(); err != nil {
			return stats, err
		}
		stats.Rows++

		if pending++; pending == commitEvery {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			if err := w.CommitContext(ctx); err != nil {
				return stats, err
			}
			pending = 0
		}
	}
	return stats, w.CommitContext(ctx)
}

// Request is the filter query over the full table.
func Request(cfg Config) scan.Request {
	return scan.Request{
		Columns:         []string{Long1Column, Long2Column},
		PredicateColumn: SymbolColumn,
		PredicateValue:  int64(cfg.FilteredSymbol),
		RowCount:        scan.AllCommitted,
	}
}

// SubPartitionRequest is the same query over the sub-partitioned table,
// where every row already matches.
func SubPartitionRequest() scan.Request {
	return scan.Request{
		Columns:  []string{Long1Column, Long2Column},
		RowCount: scan.AllCommitted,
	}
}
