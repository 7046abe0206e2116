// Package scan runs filtered aggregate scans over committed table data.
//
// A scan pins the table snapshot it reads, maps each column it needs
// (or decompresses its artifact when the raw file has been retired) and
// sums the selected columns over the rows whose predicate column equals
// the predicate value:
//
//	agg, err := scan.NewAggregator(tbl, codec)
//	defer agg.Close()
//	res, err := agg.Scan(ctx, scan.Request{
//		Columns:         []string{"l1", "l2"},
//		PredicateColumn: "i",
//		PredicateValue:  7,
//		RowCount:        scan.AllCommitted,
//	})
package scan

import (
	"context"
	"errors"
	"math/bits"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/strata/pkg/column"
	"github.com/ajitpratap0/strata/pkg/compression"
	"github.com/ajitpratap0/strata/pkg/logger"
	"github.com/ajitpratap0/strata/pkg/metrics"
	"github.com/ajitpratap0/strata/pkg/mmap"
	"github.com/ajitpratap0/strata/pkg/observability"
	"github.com/ajitpratap0/strata/pkg/strataerrors"
	"github.com/ajitpratap0/strata/pkg/table"
	"github.com/ajitpratap0/strata/pkg/txn"
)

// AllCommitted scans every row of the pinned snapshot.
const AllCommitted int64 = -1

// chunkRows is how often a range worker checks for cancellation.
const chunkRows = 64 << 10

// pinAttempts bounds retries when the snapshot txn fell behind the
// scoreboard minimum.
const pinAttempts = 3

// Bounds of the wait between pins while the scoreboard is full.
const (
	pinBackoffMin = 100 * time.Microsecond
	pinBackoffMax = 10 * time.Millisecond
)

// Request describes one scan.
type Request struct {
	// Columns are summed for every matching row.
	Columns []string
	// PredicateColumn is compared with PredicateValue for each row. Empty
	// means every row matches.
	PredicateColumn string
	PredicateValue  int64
	// RowCount limits the scan to the first rows of the snapshot, or
	// AllCommitted.
	RowCount int64
}

// Aggregate is the result of a scan. The zero value is the result of
// scanning an empty table.
type Aggregate struct {
	Sum     int64
	Matched int64
	Scanned int64
}

// Option configures an Aggregator.
type Option func(*config)

type config struct {
	workers          int
	coldRead         bool
	advice           bool
	preferCompressed bool
	logger           *zap.Logger
}

// WithWorkers sets how many row ranges are folded in parallel.
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// WithColdRead evicts the page cache of every source file before mapping
// it, so the scan measures reads from disk.
func WithColdRead(cold bool) Option {
	return func(c *config) { c.coldRead = cold }
}

// WithAdvice advises the kernel that raw column mappings are read
// sequentially.
func WithAdvice(sequential bool) Option {
	return func(c *config) { c.advice = sequential }
}

// PreferCompressed reads a column's artifact whenever one is recorded,
// even if the raw file is still present.
func PreferCompressed(prefer bool) Option {
	return func(c *config) { c.preferCompressed = prefer }
}

// WithLogger sets the aggregator's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.logger = l }
}

// Aggregator scans one table. It holds a metadata reader registration for
// its lifetime and must be used by one goroutine at a time; create one per
// scanning goroutine.
type Aggregator struct {
	table  *table.Table
	codec  *compression.Codec
	reader *table.MetaReader
	cfg    config
	logger *zap.Logger
	tracer *observability.StorageTracer
}

// NewAggregator creates an aggregator for tbl. The codec is needed only to
// read compressed columns and may be nil otherwise.
func NewAggregator(tbl *table.Table, codec *compression.Codec, opts ...Option) (*Aggregator, error) {
	if tbl == nil {
		return nil, strataerrors.New(strataerrors.ErrorTypeValidation, "table is required")
	}
	cfg := config{workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.workers <= 0 {
		cfg.workers = 1
	}
	return &Aggregator{
		table:  tbl,
		codec:  codec,
		reader: tbl.Metadata().NewReader(),
		cfg:    cfg,
		logger: logger.Named(cfg.logger, "scan").With(zap.String("table", tbl.Name())),
		tracer: observability.NewStorageTracer("scan", tbl.Name()),
	}, nil
}

// Close releases the metadata reader registration.
func (a *Aggregator) Close() {
	if a.reader != nil {
		a.reader.Close()
		a.reader = nil
	}
}

// Scan folds the request over a pinned snapshot of the table.
func (a *Aggregator) Scan(ctx context.Context, req Request) (Aggregate, error) {
	if a.reader == nil {
		return Aggregate{}, strataerrors.New(strataerrors.ErrorTypeState, "aggregator is closed")
	}
	cols, pred, err := a.resolve(req)
	if err != nil {
		return Aggregate{}, err
	}

	var result Aggregate
	err = a.tracer.Trace(ctx, "scan", func(ctx context.Context, span *observability.Span) error {
		start := time.Now()
		sb := a.table.Scoreboard()
		snap, err := a.pin(ctx, sb)
		if err != nil {
			return err
		}
		defer sb.Release(snap.Txn)
		span.SetAttribute("strata.txn", snap.Txn)

		rows := snap.RowCount
		switch {
		case req.RowCount == AllCommitted:
		case req.RowCount < 0:
			return strataerrors.Newf(strataerrors.ErrorTypeValidation, "invalid row count %d", req.RowCount)
		case req.RowCount > snap.RowCount:
			return strataerrors.Newf(strataerrors.ErrorTypeValidation,
				"row count %d exceeds committed row count %d", req.RowCount, snap.RowCount).
				WithDetail("table", a.table.Name())
		default:
			rows = req.RowCount
		}
		if rows == 0 {
			return nil
		}

		srcs := newSources(a, snap, rows)
		defer srcs.close()

		var predSrc *column.Reader
		if pred != nil {
			if predSrc, err = srcs.open(*pred); err != nil {
				return err
			}
		}
		valSrcs := make([]*column.Reader, len(cols))
		for i, col := range cols {
			if valSrcs[i], err = srcs.open(col); err != nil {
				return err
			}
		}

		res, err := a.fold(ctx, rows, predSrc, valSrcs, req.PredicateValue)
		if err != nil {
			return err
		}
		result = res

		source := srcs.kind()
		span.SetAttribute("strata.source", source)
		span.SetAttribute("strata.rows", rows)
		span.SetAttribute("strata.matched", res.Matched)
		metrics.ScanLatency.WithLabelValues(a.table.Name(), source).Observe(time.Since(start).Seconds())
		metrics.RowsScanned.WithLabelValues(a.table.Name()).Add(float64(res.Scanned))
		a.logger.Debug("scan",
			zap.Int64("txn", snap.Txn),
			zap.Int64("rows", rows),
			zap.Int64("matched", res.Matched),
			zap.String("source", source),
			zap.Duration("elapsed", time.Since(start)))
		return nil
	})
	if err != nil {
		return Aggregate{}, err
	}
	return result, nil
}

// resolve returns the value columns and the predicate column, which is nil
// when the request has no predicate.
func (a *Aggregator) resolve(req Request) ([]table.ColumnDef, *table.ColumnDef, error) {
	if len(req.Columns) == 0 {
		return nil, nil, strataerrors.New(strataerrors.ErrorTypeValidation, "scan needs at least one column")
	}
	var pred *table.ColumnDef
	if req.PredicateColumn != "" {
		col, err := a.table.Column(req.PredicateColumn)
		if err != nil {
			return nil, nil, err
		}
		if !col.Type.Integral() {
			return nil, nil, strataerrors.Newf(strataerrors.ErrorTypeValidation,
				"predicate column %q is %s, not integral", col.Name, col.Type)
		}
		pred = &col
	}
	cols := make([]table.ColumnDef, len(req.Columns))
	for i, name := range req.Columns {
		col, err := a.table.Column(name)
		if err != nil {
			return nil, nil, err
		}
		if !col.Type.Integral() {
			return nil, nil, strataerrors.Newf(strataerrors.ErrorTypeValidation,
				"column %q is %s, not integral", col.Name, col.Type)
		}
		cols[i] = col
	}
	return cols, pred, nil
}

// pin takes a snapshot and pins its txn. A snapshot that falls below the
// scoreboard minimum is retaken. When the scoreboard is full, because an
// older scan is still pinned far behind the latest commit, pin waits for
// that scan to finish or for ctx to end.
func (a *Aggregator) pin(ctx context.Context, sb *txn.Scoreboard) (table.Snapshot, error) {
	var (
		err     error
		tooOld  int
		backoff = pinBackoffMin
	)
	for {
		var snap table.Snapshot
		snap, err = a.reader.Pin(sb)
		switch {
		case err == nil:
			return snap, nil
		case errors.Is(err, txn.ErrTxnTooOld):
			if tooOld++; tooOld < pinAttempts {
				continue
			}
		case errors.Is(err, txn.ErrScoreboardFull):
			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return table.Snapshot{}, ctx.Err()
			case <-t.C:
			}
			backoff = min(2*backoff, pinBackoffMax)
			continue
		}
		return table.Snapshot{}, strataerrors.Wrap(err, strataerrors.ErrorTypeState, "failed to pin snapshot").
			WithDetail("table", a.table.Name())
	}
}

// fold splits [0, rows) into one range per worker. Each range produces a
// partial aggregate and the partials are combined in range order. Sums are
// accumulated in 128 bits, so the result, and whether it overflows int64,
// does not depend on the number of workers.
func (a *Aggregator) fold(ctx context.Context, rows int64, pred *column.Reader, vals []*column.Reader, want int64) (Aggregate, error) {
	workers := int64(a.cfg.workers)
	if workers > rows {
		workers = rows
	}
	span := (rows + workers - 1) / workers
	parts := make([]partial, workers)

	g, gctx := errgroup.WithContext(ctx)
	for w := int64(0); w < workers; w++ {
		lo := w * span
		hi := min(lo+span, rows)
		g.Go(func() error {
			part, err := foldRange(gctx, lo, hi, pred, vals, want)
			parts[w] = part
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Aggregate{}, err
	}

	var total partial
	for _, p := range parts {
		total.sum.addWide(p.sum)
		total.matched += p.matched
		total.scanned += p.scanned
	}
	sum, ok := total.sum.narrow()
	if !ok {
		return Aggregate{}, overflow(a.table.Name())
	}
	return Aggregate{Sum: sum, Matched: total.matched, Scanned: total.scanned}, nil
}

type partial struct {
	sum     wide
	matched int64
	scanned int64
}

func foldRange(ctx context.Context, lo, hi int64, pred *column.Reader, vals []*column.Reader, want int64) (partial, error) {
	var p partial
	for start := lo; start < hi; start += chunkRows {
		if err := ctx.Err(); err != nil {
			return p, err
		}
		end := min(start+chunkRows, hi)
		for row := start; row < end; row++ {
			if pred != nil && pred.ValueAt(row) != want {
				continue
			}
			for _, v := range vals {
				p.sum.add(v.ValueAt(row))
			}
			p.matched++
		}
		p.scanned += end - start
	}
	return p, nil
}

// wide is a two's complement 128-bit integer. A scan adds at most 2^63
// values of magnitude at most 2^63, so hi never overflows.
type wide struct {
	hi int64
	lo uint64
}

func (w *wide) add(v int64) {
	w.addWide(wide{hi: v >> 63, lo: uint64(v)})
}

func (w *wide) addWide(v wide) {
	var carry uint64
	w.lo, carry = bits.Add64(w.lo, v.lo, 0)
	w.hi += v.hi + int64(carry)
}

// narrow converts w to int64, reporting false if it does not fit.
func (w wide) narrow() (int64, bool) {
	n := int64(w.lo)
	if w.hi != n>>63 {
		return 0, false
	}
	return n, true
}

func overflow(tbl string) error {
	err := strataerrors.New(strataerrors.ErrorTypeOverflow, "aggregate overflows int64")
	if tbl != "" {
		err = err.WithDetail("table", tbl)
	}
	return err
}

// sources opens column readers for one scan and closes them together.
type sources struct {
	a       *Aggregator
	snap    table.Snapshot
	rows    int64
	readers []*column.Reader
	raw     int
	packed  int
}

func newSources(a *Aggregator, snap table.Snapshot, rows int64) *sources {
	return &sources{a: a, snap: snap, rows: rows}
}

// open returns a reader over the first rows of col. The raw file is used
// unless its artifact must or should be read instead.
func (s *sources) open(col table.ColumnDef) (*column.Reader, error) {
	path := s.a.table.ColumnPath(col.Name)
	state, compressed := s.snap.Compressed(col.Name)
	useArtifact := compressed && (state.RawRetired != 0 || s.a.cfg.preferCompressed)

	var (
		r   *column.Reader
		err error
	)
	if useArtifact {
		r, err = s.openArtifact(col, path, state)
	} else {
		r, err = s.openRaw(col, path)
	}
	if err != nil {
		return nil, err
	}
	s.readers = append(s.readers, r)
	return r, nil
}

func (s *sources) openRaw(col table.ColumnDef, path string) (*column.Reader, error) {
	if s.a.cfg.coldRead {
		if err := mmap.EvictPageCache(path); err != nil {
			return nil, err
		}
	}
	r, err := column.OpenReader(path, col.Type, s.rows)
	if err != nil {
		return nil, err
	}
	if s.a.cfg.advice {
		if err := r.Advise(mmap.AdviceSequential); err != nil {
			_ = r.Close()
			return nil, err
		}
	}
	s.raw++
	return r, nil
}

func (s *sources) openArtifact(col table.ColumnDef, path string, state table.CompressionState) (*column.Reader, error) {
	if s.a.codec == nil {
		return nil, strataerrors.Newf(strataerrors.ErrorTypeState,
			"column %q is compressed and the aggregator has no codec", col.Name)
	}
	artifact := state.Artifact(path)
	if s.a.cfg.coldRead {
		if err := mmap.EvictPageCache(artifact.Path); err != nil {
			return nil, err
		}
	}
	data, err := s.a.codec.Decompress(artifact, state.RawLength)
	if err != nil {
		return nil, err
	}
	r, err := column.FromBytes(col.Type, s.rows, data)
	if err != nil {
		return nil, err
	}
	s.packed++
	return r, nil
}

// kind labels the scan by where its data came from.
func (s *sources) kind() string {
	switch {
	case s.packed == 0:
		return "raw"
	case s.raw == 0:
		return "compressed"
	default:
		return "mixed"
	}
}

func (s *sources) close() {
	for _, r := range s.readers {
		_ = r.Close()
	}
}
