package table

import (
	"context"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/column"
	"github.com/ajitpratap0/strata/pkg/metrics"
	"github.com/ajitpratap0/strata/pkg/observability"
	"github.com/ajitpratap0/strata/pkg/pool"
	"github.com/ajitpratap0/strata/pkg/strataerrors"
)

// WriterOption configures a Writer.
type WriterOption func(*writerConfig)

type writerConfig struct {
	sync     bool
	pageSize int64
	logger   *zap.Logger
}

// WithSync overrides the catalog's SyncCommit setting for one writer.
func WithSync(sync bool) WriterOption {
	return func(c *writerConfig) { c.sync = sync }
}

// WithAppendPageSize sets the step by which column files grow.
func WithAppendPageSize(size int64) WriterOption {
	return func(c *writerConfig) { c.pageSize = size }
}

// WithWriterLogger sets the writer's logger.
func WithWriterLogger(l *zap.Logger) WriterOption {
	return func(c *writerConfig) { c.logger = l }
}

// Writer appends rows to every column of a table. Appended rows are
// invisible to readers until Commit.
//
// A Writer is not safe for concurrent use. Once an I/O error occurs the
// writer is broken: every later call fails with a state error and the
// only useful operation left is Close.
type Writer struct {
	table  *Table
	files  []*column.File
	cfg    writerConfig
	logger *zap.Logger
	rows   *pool.Pool[*Row]

	appended prometheus.Counter

	// committed is the row count this writer last published.
	committed int64

	broken error
	closed bool
}

// NewWriter opens the table for append. It fails with a state error if
// another writer or a compression holds the table, or if compression has
// retired the raw column files.
func (t *Table) NewWriter(opts ...WriterOption) (*Writer, error) {
	if err := t.checkLive(); err != nil {
		return nil, err
	}
	if !t.writerOpen.CompareAndSwap(false, true) {
		return nil, strataerrors.Newf(strataerrors.ErrorTypeState, "table %q already has a writer", t.name)
	}

	w, err := t.openWriter(opts)
	if err != nil {
		t.writerOpen.Store(false)
		return nil, err
	}
	metrics.OpenWriters.Inc()
	return w, nil
}

func (t *Table) openWriter(opts []WriterOption) (*Writer, error) {
	cfg := writerConfig{sync: t.opts.SyncCommit, pageSize: t.opts.AppendPageSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	reader := t.meta.NewReader()
	snap := reader.Snapshot()
	reader.Close()

	for name, state := range snap.Compression {
		if state.RawRetired != 0 {
			return nil, strataerrors.Newf(strataerrors.ErrorTypeState,
				"table %q is sealed: raw column %q was retired by compression", t.name, name)
		}
	}

	w := &Writer{
		table:     t,
		files:     make([]*column.File, 0, len(t.columns)),
		cfg:       cfg,
		logger:    t.logger,
		appended:  metrics.RowsAppended.WithLabelValues(t.name),
		committed: snap.RowCount,
	}
	if cfg.logger != nil {
		w.logger = cfg.logger
	}

	for _, col := range t.columns {
		f, err := column.OpenAppend(t.ColumnPath(col.Name), col.Type, snap.RowCount, cfg.pageSize)
		if err != nil {
			for _, opened := range w.files {
				_ = opened.Close(false)
			}
			return nil, err
		}
		w.files = append(w.files, f)
	}

	n := len(t.columns)
	w.rows = pool.New(
		func() *Row {
			return &Row{values: make([]int64, n), set: make([]bool, n)}
		},
		func(r *Row) { r.reset() },
	)

	w.logger.Debug("writer opened",
		zap.Int64("committed_rows", snap.RowCount),
		zap.Int64("txn", snap.Txn))
	return w, nil
}

func (w *Writer) usable() error {
	if w.closed {
		return strataerrors.Newf(strataerrors.ErrorTypeState, "writer for table %q is closed", w.table.name)
	}
	if w.broken != nil {
		return strataerrors.Wrap(w.broken, strataerrors.ErrorTypeState, "writer is broken").
			WithDetail("table", w.table.name)
	}
	return nil
}

func (w *Writer) fail(op string, err error) error {
	w.broken = err
	w.logger.Error("writer broken", zap.String("operation", op), zap.Error(err))
	return err
}

// Table returns the table the writer appends to.
func (w *Writer) Table() *Table { return w.table }

// RowCount returns the number of rows appended, including uncommitted ones.
func (w *Writer) RowCount() int64 {
	return w.files[0].Rows()
}

// CommittedRowCount returns the row count published by the writer's last
// successful commit, or the table's row count when the writer opened.
func (w *Writer) CommittedRowCount() int64 {
	return w.committed
}

// NewRow starts a row. Set every column with the Put methods, then call
// Append or Cancel. The Row must not be used after that.
func (w *Writer) NewRow() *Row {
	r := w.rows.Get()
	r.w = w
	return r
}

// Commit makes every appended row visible. The column files are flushed
// first, then _meta is rewritten, then the new row count and txn are
// published under the metadata write lock. If Commit fails the previously
// published row count stays in effect and the writer is broken.
func (w *Writer) Commit() error {
	return w.CommitContext(context.Background())
}

// CommitContext is Commit with a context for tracing.
func (w *Writer) CommitContext(ctx context.Context) error {
	if err := w.usable(); err != nil {
		return err
	}

	t := w.table
	start := time.Now()
	rows := w.RowCount()

	err := t.tracer.Trace(ctx, "commit", func(ctx context.Context, span *observability.Span) error {
		span.SetAttribute("strata.rows", rows)

		for _, f := range w.files {
			if err := f.Commit(w.cfg.sync); err != nil {
				return w.fail("commit", err)
			}
		}

		var published int64
		err := t.advance(
			func(m *metaRecord) {
				if m.RowCount != rows {
					m.Compression = nil
				}
				m.RowCount = rows
			},
			func(m metaRecord) {
				t.meta.publish(m.RowCount, m.Txn)
				published = m.Txn
			},
		)
		if err != nil {
			return w.fail("commit", err)
		}
		w.committed = rows
		span.SetAttribute("strata.txn", published)
		return nil
	})

	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusFailure
	}
	metrics.Commits.WithLabelValues(t.name, status).Inc()
	metrics.CommitLatency.WithLabelValues(t.name).Observe(time.Since(start).Seconds())

	if err == nil {
		w.logger.Debug("commit", zap.Int64("rows", rows), zap.Duration("elapsed", time.Since(start)))
	}
	return err
}

// Rollback drops rows appended since the last commit.
func (w *Writer) Rollback() error {
	if err := w.usable(); err != nil {
		return err
	}
	for _, f := range w.files {
		f.Rollback()
	}
	return nil
}

// Close discards uncommitted rows, truncates every column file to its
// committed length and releases the table's writer slot. Close is
// idempotent.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var firstErr error
	for _, f := range w.files {
		if err := f.Close(w.cfg.sync); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.table.writerOpen.Store(false)
	metrics.OpenWriters.Dec()

	if firstErr != nil {
		w.logger.Error("writer close failed", zap.Error(firstErr))
		return firstErr
	}
	w.logger.Debug("writer closed")
	return nil
}

// Row stages one value per column before appending them together.
type Row struct {
	w      *Writer
	values []int64
	set    []bool
	err    error
}

func (r *Row) reset() {
	r.w = nil
	r.err = nil
	for i := range r.set {
		r.set[i] = false
	}
}

func (r *Row) put(col int, typ column.Type, v int64) *Row {
	if r.err != nil {
		return r
	}
	cols := r.w.table.columns
	if col < 0 || col >= len(cols) {
		r.err = strataerrors.Newf(strataerrors.ErrorTypeValidation,
			"column index %d out of range [0, %d)", col, len(cols))
		return r
	}
	if cols[col].Type != typ {
		r.err = strataerrors.Newf(strataerrors.ErrorTypeValidation,
			"column %q is %s, not %s", cols[col].Name, cols[col].Type, typ)
		return r
	}
	r.values[col] = v
	r.set[col] = true
	return r
}

// PutByte sets a byte column.
func (r *Row) PutByte(col int, v int8) *Row { return r.put(col, column.TypeByte, int64(v)) }

// PutShort sets a short column.
func (r *Row) PutShort(col int, v int16) *Row { return r.put(col, column.TypeShort, int64(v)) }

// PutInt sets an int column.
func (r *Row) PutInt(col int, v int32) *Row { return r.put(col, column.TypeInt, int64(v)) }

// PutLong sets a long column.
func (r *Row) PutLong(col int, v int64) *Row { return r.put(col, column.TypeLong, v) }

// PutFloat sets a float column.
func (r *Row) PutFloat(col int, v float32) *Row {
	return r.put(col, column.TypeFloat, int64(math.Float32bits(v)))
}

// PutDouble sets a double column.
func (r *Row) PutDouble(col int, v float64) *Row {
	return r.put(col, column.TypeDouble, int64(math.Float64bits(v))) //nolint:gosec // G115: bit reinterpretation
}

// PutTimestamp sets a timestamp column, stored as microseconds since the
// Unix epoch.
func (r *Row) PutTimestamp(col int, ts time.Time) *Row {
	return r.put(col, column.TypeTimestamp, ts.UnixMicro())
}

// Append writes the staged values to every column. If a Put failed or a
// column was left unset the row is discarded and the writer stays usable;
// an unset column yields an incomplete_row error.
func (r *Row) Append() error {
	w := r.w
	defer w.rows.Put(r)

	if err := w.usable(); err != nil {
		return err
	}
	if r.err != nil {
		return r.err
	}
	for i, ok := range r.set {
		if !ok {
			return strataerrors.Newf(strataerrors.ErrorTypeIncompleteRow,
				"column %q was not set", w.table.columns[i].Name).
				WithDetail("table", w.table.name).
				WithDetail("row", w.RowCount())
		}
	}

	for i, f := range w.files {
		if err := f.AppendValue(r.values[i]); err != nil {
			return w.fail("append", err)
		}
	}
	w.appended.Inc()
	return nil
}

// Cancel discards the staged values.
func (r *Row) Cancel() {
	r.w.rows.Put(r)
}
