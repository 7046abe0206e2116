package table

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/column"
	"github.com/ajitpratap0/strata/pkg/compression"
	"github.com/ajitpratap0/strata/pkg/rwlock"
	"github.com/ajitpratap0/strata/pkg/strataerrors"
)

var tradeColumns = []ColumnDef{
	{Name: "id", Type: column.TypeInt},
	{Name: "price", Type: column.TypeLong},
	{Name: "qty", Type: column.TypeLong},
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Logger = zap.NewNop()
	return opts
}

func newCatalog(t *testing.T, opts Options) *Catalog {
	t.Helper()
	c, err := NewCatalog(t.TempDir(), opts)
	require.NoError(t, err)
	return c
}

func appendTrades(t *testing.T, w *Writer, from, n int) {
	t.Helper()
	for i := from; i < from+n; i++ {
		r := w.NewRow()
		r.PutInt(0, int32(i)).PutLong(1, int64(i)*10).PutLong(2, int64(i%7))
		require.NoError(t, r.Append())
	}
}

func readLongs(t *testing.T, tbl *Table, col string, rows int64) []int64 {
	t.Helper()
	def, err := tbl.Column(col)
	require.NoError(t, err)
	r, err := column.OpenReader(tbl.ColumnPath(col), def.Type, rows)
	require.NoError(t, err)
	defer r.Close()
	out := make([]int64, rows)
	for i := range out {
		out[i] = r.ValueAt(int64(i))
	}
	return out
}

func committedRows(tbl *Table) int64 {
	r := tbl.Metadata().NewReader()
	defer r.Close()
	return r.RowCount()
}

func TestCreateWriteReopen(t *testing.T) {
	root := t.TempDir()
	c, err := NewCatalog(root, testOptions())
	require.NoError(t, err)

	tbl, err := c.Create("trades", tradeColumns)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tbl.Token())
	assert.DirExists(t, filepath.Join(root, "trades", "default"))
	assert.FileExists(t, filepath.Join(root, "trades", "default", "price.d"))

	w, err := tbl.NewWriter()
	require.NoError(t, err)
	appendTrades(t, w, 0, 1000)
	assert.Equal(t, int64(1000), w.RowCount())
	assert.Equal(t, int64(0), w.CommittedRowCount())
	require.NoError(t, w.Commit())
	assert.Equal(t, int64(1000), w.CommittedRowCount())
	require.NoError(t, w.Close())

	for _, col := range tradeColumns {
		stat, err := os.Stat(tbl.ColumnPath(col.Name))
		require.NoError(t, err)
		assert.Equal(t, int64(1000*col.Type.Width()), stat.Size(), col.Name)
	}

	// a fresh catalog reads everything back from disk
	c2, err := NewCatalog(root, testOptions())
	require.NoError(t, err)
	reopened, err := c2.Open("trades")
	require.NoError(t, err)
	assert.Equal(t, int64(1), reopened.Token())
	assert.Equal(t, tradeColumns, reopened.Columns())
	assert.Equal(t, int64(1000), committedRows(reopened))

	prices := readLongs(t, reopened, "price", 1000)
	ids := readLongs(t, reopened, "id", 1000)
	for i := range prices {
		require.Equal(t, int64(i)*10, prices[i])
		require.Equal(t, int64(i), ids[i])
	}

	// and appends continue after the committed rows
	w, err = reopened.NewWriter()
	require.NoError(t, err)
	appendTrades(t, w, 1000, 10)
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())
	assert.Equal(t, int64(1010), committedRows(reopened))
	assert.Equal(t, int64(10090), readLongs(t, reopened, "price", 1010)[1009])
}

func TestCatalogValidation(t *testing.T) {
	c := newCatalog(t, testOptions())

	tests := []struct {
		name  string
		table string
		cols  []ColumnDef
	}{
		{"empty name", "", tradeColumns},
		{"reserved prefix", "_tab_index", tradeColumns},
		{"path separator", "a/b", tradeColumns},
		{"no columns", "t", nil},
		{"duplicate column", "t", []ColumnDef{{"a", column.TypeInt}, {"a", column.TypeLong}}},
		{"unknown type", "t", []ColumnDef{{"a", column.Type(99)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Create(tt.table, tt.cols)
			require.Error(t, err)
			assert.True(t, strataerrors.IsType(err, strataerrors.ErrorTypeValidation))
		})
	}

	_, err := c.Create("t", tradeColumns)
	require.NoError(t, err)
	_, err = c.Create("t", tradeColumns)
	assert.True(t, strataerrors.IsState(err))

	_, err = c.Open("missing")
	assert.True(t, strataerrors.IsType(err, strataerrors.ErrorTypeNotFound))
}

func TestDropAndRecreateGetsNewToken(t *testing.T) {
	c := newCatalog(t, testOptions())

	a, err := c.Create("a", tradeColumns)
	require.NoError(t, err)
	b, err := c.Create("b", tradeColumns)
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Token())
	assert.Equal(t, int64(2), b.Token())

	names, err := c.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	w, err := a.NewWriter()
	require.NoError(t, err)
	err = c.Drop("a")
	assert.True(t, strataerrors.IsState(err))
	require.NoError(t, w.Close())

	require.NoError(t, c.Drop("a"))
	assert.NoDirExists(t, filepath.Join(c.Root(), "a"))
	_, err = a.NewWriter()
	assert.True(t, strataerrors.IsState(err))
	assert.True(t, strataerrors.IsType(c.Drop("a"), strataerrors.ErrorTypeNotFound))

	again, err := c.Create("a", tradeColumns)
	require.NoError(t, err)
	assert.Equal(t, int64(3), again.Token())

	// the counter survives a restart
	c2, err := NewCatalog(c.Root(), testOptions())
	require.NoError(t, err)
	d, err := c2.Create("d", tradeColumns)
	require.NoError(t, err)
	assert.Equal(t, int64(4), d.Token())
}

func TestIncompleteRowLeavesWriterUsable(t *testing.T) {
	c := newCatalog(t, testOptions())
	tbl, err := c.Create("trades", tradeColumns)
	require.NoError(t, err)
	w, err := tbl.NewWriter()
	require.NoError(t, err)
	defer w.Close()

	r := w.NewRow()
	r.PutInt(0, 1).PutLong(1, 2)
	err = r.Append()
	require.Error(t, err)
	assert.True(t, strataerrors.IsIncompleteRow(err))
	assert.Equal(t, int64(0), w.RowCount())

	r = w.NewRow()
	r.PutLong(0, 1)
	err = r.Append()
	assert.True(t, strataerrors.IsType(err, strataerrors.ErrorTypeValidation))

	r = w.NewRow()
	r.PutInt(5, 1)
	err = r.Append()
	assert.True(t, strataerrors.IsType(err, strataerrors.ErrorTypeValidation))

	r = w.NewRow()
	r.PutInt(0, 9)
	r.Cancel()

	appendTrades(t, w, 0, 3)
	require.NoError(t, w.Commit())
	assert.Equal(t, int64(3), committedRows(tbl))
}

func TestAllColumnTypes(t *testing.T) {
	c := newCatalog(t, testOptions())
	tbl, err := c.Create("types", []ColumnDef{
		{"b", column.TypeByte},
		{"s", column.TypeShort},
		{"i", column.TypeInt},
		{"l", column.TypeLong},
		{"f", column.TypeFloat},
		{"d", column.TypeDouble},
		{"ts", column.TypeTimestamp},
	})
	require.NoError(t, err)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	w, err := tbl.NewWriter()
	require.NoError(t, err)
	r := w.NewRow()
	r.PutByte(0, -3).PutShort(1, -300).PutInt(2, 70000).PutLong(3, 1<<40).
		PutFloat(4, 1.5).PutDouble(5, -2.25).PutTimestamp(6, ts)
	require.NoError(t, r.Append())
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	assert.Equal(t, []int64{-3}, readLongs(t, tbl, "b", 1))
	assert.Equal(t, []int64{-300}, readLongs(t, tbl, "s", 1))
	assert.Equal(t, []int64{70000}, readLongs(t, tbl, "i", 1))
	assert.Equal(t, []int64{1 << 40}, readLongs(t, tbl, "l", 1))
	assert.Equal(t, []int64{ts.UnixMicro()}, readLongs(t, tbl, "ts", 1))

	raw, err := os.ReadFile(tbl.ColumnPath("d"))
	require.NoError(t, err)
	assert.Equal(t, column.Float64Bytes(-2.25), raw)
	raw, err = os.ReadFile(tbl.ColumnPath("f"))
	require.NoError(t, err)
	assert.Equal(t, column.Float32Bytes(1.5), raw)
}

func TestZeroRowCommit(t *testing.T) {
	c := newCatalog(t, testOptions())
	tbl, err := c.Create("empty", tradeColumns)
	require.NoError(t, err)

	r := tbl.Metadata().NewReader()
	defer r.Close()
	before := r.Txn()

	w, err := tbl.NewWriter()
	require.NoError(t, err)
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	assert.Equal(t, int64(0), r.RowCount())
	assert.Equal(t, before+1, r.Txn())
	for _, col := range tradeColumns {
		stat, err := os.Stat(tbl.ColumnPath(col.Name))
		require.NoError(t, err)
		assert.Zero(t, stat.Size())
	}
}

func TestRollbackAndCloseDiscardUncommitted(t *testing.T) {
	c := newCatalog(t, testOptions())
	tbl, err := c.Create("trades", tradeColumns)
	require.NoError(t, err)

	w, err := tbl.NewWriter()
	require.NoError(t, err)
	appendTrades(t, w, 0, 5)
	require.NoError(t, w.Commit())
	appendTrades(t, w, 5, 5)
	require.NoError(t, w.Rollback())
	assert.Equal(t, int64(5), w.RowCount())
	appendTrades(t, w, 100, 3)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	assert.Equal(t, int64(5), committedRows(tbl))
	stat, err := os.Stat(tbl.ColumnPath("price"))
	require.NoError(t, err)
	assert.Equal(t, int64(5*8), stat.Size())

	err = w.Commit()
	assert.True(t, strataerrors.IsState(err))
}

func TestFailedCommitBreaksWriter(t *testing.T) {
	root := t.TempDir()
	c, err := NewCatalog(root, testOptions())
	require.NoError(t, err)
	tbl, err := c.Create("trades", tradeColumns)
	require.NoError(t, err)

	w, err := tbl.NewWriter()
	require.NoError(t, err)
	appendTrades(t, w, 0, 5)
	require.NoError(t, w.Commit())
	appendTrades(t, w, 5, 5)

	// _meta cannot be rewritten while the table directory is elsewhere
	moved := tbl.Dir() + ".moved"
	require.NoError(t, os.Rename(tbl.Dir(), moved))
	err = w.Commit()
	require.NoError(t, os.Rename(moved, tbl.Dir()))
	require.Error(t, err)
	assert.True(t, strataerrors.IsType(err, strataerrors.ErrorTypeIO), err)

	assert.Equal(t, int64(5), committedRows(tbl))
	assert.Equal(t, int64(5), w.CommittedRowCount())

	r := w.NewRow()
	r.PutInt(0, 10).PutLong(1, 100).PutLong(2, 3)
	assert.True(t, strataerrors.IsState(r.Append()))
	assert.True(t, strataerrors.IsState(w.Commit()))
	assert.True(t, strataerrors.IsState(w.Rollback()))
	_ = w.Close()

	c2, err := NewCatalog(root, testOptions())
	require.NoError(t, err)
	reopened, err := c2.Open("trades")
	require.NoError(t, err)
	assert.Equal(t, int64(5), committedRows(reopened))
	assert.Equal(t, []int64{0, 10, 20, 30, 40}, readLongs(t, reopened, "price", 5))

	w2, err := reopened.NewWriter()
	require.NoError(t, err)
	defer w2.Close()
	assert.Equal(t, int64(5), w2.CommittedRowCount())
	assert.Equal(t, int64(5), w2.RowCount())
}

func TestSingleWriter(t *testing.T) {
	c := newCatalog(t, testOptions())
	tbl, err := c.Create("trades", tradeColumns)
	require.NoError(t, err)

	w, err := tbl.NewWriter()
	require.NoError(t, err)
	_, err = tbl.NewWriter()
	assert.True(t, strataerrors.IsState(err))

	codec, err := compression.NewCodec(compression.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	_, err = tbl.Compress(context.Background(), codec, CompressOptions{})
	assert.True(t, strataerrors.IsState(err))

	require.NoError(t, w.Close())
	w, err = tbl.NewWriter()
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestUncommittedTailIsTruncatedOnOpen(t *testing.T) {
	c := newCatalog(t, testOptions())
	tbl, err := c.Create("trades", tradeColumns)
	require.NoError(t, err)

	w, err := tbl.NewWriter()
	require.NoError(t, err)
	appendTrades(t, w, 0, 4)
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	// simulate a crash after append: bytes past the committed length
	f, err := os.OpenFile(tbl.ColumnPath("qty"), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write(make([]byte, 8*3))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w, err = tbl.NewWriter()
	require.NoError(t, err)
	assert.Equal(t, int64(4), w.RowCount())
	require.NoError(t, w.Close())

	stat, err := os.Stat(tbl.ColumnPath("qty"))
	require.NoError(t, err)
	assert.Equal(t, int64(4*8), stat.Size())
}

func TestOpenErrors(t *testing.T) {
	setup := func(t *testing.T) *Table {
		c := newCatalog(t, testOptions())
		tbl, err := c.Create("trades", tradeColumns)
		require.NoError(t, err)
		w, err := tbl.NewWriter()
		require.NoError(t, err)
		appendTrades(t, w, 0, 4)
		require.NoError(t, w.Commit())
		require.NoError(t, w.Close())
		return tbl
	}

	t.Run("missing column file", func(t *testing.T) {
		tbl := setup(t)
		require.NoError(t, os.Remove(tbl.ColumnPath("price")))
		_, err := tbl.NewWriter()
		require.Error(t, err)
		assert.True(t, strataerrors.IsOpen(err))

		// the failed open released the writer slot
		_, err = tbl.NewWriter()
		assert.True(t, strataerrors.IsOpen(err))
	})

	t.Run("length not a multiple of width", func(t *testing.T) {
		tbl := setup(t)
		require.NoError(t, os.Truncate(tbl.ColumnPath("price"), 4*8+3))
		_, err := tbl.NewWriter()
		assert.True(t, strataerrors.IsOpen(err))
	})

	t.Run("shorter than committed", func(t *testing.T) {
		tbl := setup(t)
		require.NoError(t, os.Truncate(tbl.ColumnPath("id"), 4))
		_, err := tbl.NewWriter()
		assert.True(t, strataerrors.IsOpen(err))
	})

	t.Run("corrupt metadata", func(t *testing.T) {
		root := t.TempDir()
		c, err := NewCatalog(root, testOptions())
		require.NoError(t, err)
		_, err = c.Create("trades", tradeColumns)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(root, "trades", "_meta"), []byte("{"), 0o644))

		c2, err := NewCatalog(root, testOptions())
		require.NoError(t, err)
		_, err = c2.Open("trades")
		assert.True(t, strataerrors.IsOpen(err))
	})
}

// Readers must never see a row count that is not a committed boundary, and
// the rows they see must be fully written.
func TestCommitAtomicityUnderConcurrentReaders(t *testing.T) {
	const (
		batches   = 50
		batchSize = 100
		readers   = 4
	)

	for _, kind := range rwlock.Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			opts := testOptions()
			opts.LockKind = kind
			opts.SyncCommit = false
			c := newCatalog(t, opts)
			tbl, err := c.Create("trades", tradeColumns)
			require.NoError(t, err)
			assert.Equal(t, kind, tbl.Metadata().LockKind())

			var (
				done    atomic.Bool
				torn    atomic.Int64
				partial atomic.Int64
				wg      sync.WaitGroup
			)
			for i := 0; i < readers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					r := tbl.Metadata().NewReader()
					defer r.Close()
					for !done.Load() {
						snap := r.Snapshot()
						if snap.RowCount%batchSize != 0 {
							torn.Add(1)
						}
						if snap.RowCount == 0 {
							continue
						}
						cr, err := column.OpenReader(tbl.ColumnPath("price"), column.TypeLong, snap.RowCount)
						if err != nil {
							partial.Add(1)
							continue
						}
						if cr.ValueAt(snap.RowCount-1) != (snap.RowCount-1)*10 {
							partial.Add(1)
						}
						_ = cr.Close()
					}
				}()
			}

			w, err := tbl.NewWriter()
			require.NoError(t, err)
			for b := 0; b < batches; b++ {
				appendTrades(t, w, b*batchSize, batchSize)
				require.NoError(t, w.Commit())
			}
			require.NoError(t, w.Close())
			done.Store(true)
			wg.Wait()

			assert.Zero(t, torn.Load())
			assert.Zero(t, partial.Load())
			assert.Equal(t, int64(batches*batchSize), committedRows(tbl))
		})
	}
}

func TestCompressAndPurge(t *testing.T) {
	c := newCatalog(t, testOptions())
	tbl, err := c.Create("trades", tradeColumns)
	require.NoError(t, err)

	w, err := tbl.NewWriter()
	require.NoError(t, err)
	appendTrades(t, w, 0, 5000)
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	codec, err := compression.NewCodec(&compression.Config{
		Algorithm: compression.Zstd,
		Level:     compression.Default,
	}, zap.NewNop())
	require.NoError(t, err)

	artifacts, err := tbl.Compress(context.Background(), codec, CompressOptions{})
	require.NoError(t, err)
	require.Len(t, artifacts, len(tradeColumns))
	for _, a := range artifacts {
		assert.FileExists(t, a.Path)
		assert.Greater(t, a.Ratio(), 1.0)
	}

	r := tbl.Metadata().NewReader()
	defer r.Close()

	// a scan pinned before retirement keeps the raw files alive
	pinned, err := r.Pin(tbl.Scoreboard())
	require.NoError(t, err)
	state, ok := pinned.Compressed("price")
	require.True(t, ok)
	assert.Equal(t, compression.Zstd, state.Algorithm)
	assert.Equal(t, int64(5000), state.Rows)
	assert.Zero(t, state.RawRetired)

	res, err := tbl.PurgeRaw()
	require.NoError(t, err)
	assert.Equal(t, PurgeResult{Pending: len(tradeColumns)}, res)
	assert.FileExists(t, tbl.ColumnPath("price"))

	snap := r.Snapshot()
	state, _ = snap.Compressed("price")
	assert.Equal(t, snap.Txn, state.RawRetired)
	assert.Greater(t, snap.Txn, pinned.Txn)

	tbl.Scoreboard().Release(pinned.Txn)
	res, err = tbl.PurgeRaw()
	require.NoError(t, err)
	assert.Equal(t, PurgeResult{Removed: len(tradeColumns)}, res)
	assert.NoFileExists(t, tbl.ColumnPath("price"))

	// the artifact still carries the data
	state, _ = r.Snapshot().Compressed("price")
	data, err := codec.Decompress(state.Artifact(tbl.ColumnPath("price")), 5000*8)
	require.NoError(t, err)
	cr, err := column.FromBytes(column.TypeLong, 5000, data)
	require.NoError(t, err)
	assert.Equal(t, int64(4999*10), cr.ValueAt(4999))

	// raw files are gone, so the table is sealed
	_, err = tbl.NewWriter()
	assert.True(t, strataerrors.IsState(err))

	// and the retirement survived in _meta
	c2, err := NewCatalog(c.Root(), testOptions())
	require.NoError(t, err)
	reopened, err := c2.Open("trades")
	require.NoError(t, err)
	rr := reopened.Metadata().NewReader()
	defer rr.Close()
	state, ok = rr.Snapshot().Compressed("qty")
	require.True(t, ok)
	assert.NotZero(t, state.RawRetired)
}

func TestCommitDropsCompressionState(t *testing.T) {
	c := newCatalog(t, testOptions())
	tbl, err := c.Create("trades", tradeColumns)
	require.NoError(t, err)

	w, err := tbl.NewWriter()
	require.NoError(t, err)
	appendTrades(t, w, 0, 100)
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	codec, err := compression.NewCodec(compression.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	_, err = tbl.Compress(context.Background(), codec, CompressOptions{Columns: []string{"price"}})
	require.NoError(t, err)

	r := tbl.Metadata().NewReader()
	defer r.Close()
	_, ok := r.Snapshot().Compressed("price")
	require.True(t, ok)
	_, ok = r.Snapshot().Compressed("qty")
	assert.False(t, ok)

	w, err = tbl.NewWriter()
	require.NoError(t, err)
	appendTrades(t, w, 100, 1)
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	_, ok = r.Snapshot().Compressed("price")
	assert.False(t, ok)

	_, err = tbl.Compress(context.Background(), codec, CompressOptions{Columns: []string{"nope"}})
	assert.True(t, strataerrors.IsType(err, strataerrors.ErrorTypeNotFound))
}
