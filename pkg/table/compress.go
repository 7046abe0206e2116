package table

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/strata/pkg/column"
	"github.com/ajitpratap0/strata/pkg/compression"
	"github.com/ajitpratap0/strata/pkg/mmap"
	"github.com/ajitpratap0/strata/pkg/observability"
	"github.com/ajitpratap0/strata/pkg/strataerrors"
)

// CompressOptions selects what Table.Compress does.
type CompressOptions struct {
	// Columns to compress. Empty means every column.
	Columns []string
	// RemoveRaw retires the raw files of the compressed columns. Each file
	// is deleted once no scan is pinned at a txn that still reads it.
	RemoveRaw bool
	// Workers bounds how many columns are compressed at once. Zero means
	// GOMAXPROCS.
	Workers int
}

// PurgeResult reports what a purge did.
type PurgeResult struct {
	Removed int
	Pending int
}

// Compress writes a verified artifact for each selected column and records
// it in the table metadata. Columns whose raw file was already retired keep
// their artifact. Compress fails with a state error while a writer is open.
func (t *Table) Compress(ctx context.Context, codec *compression.Codec, opts CompressOptions) ([]compression.Artifact, error) {
	if err := t.checkLive(); err != nil {
		return nil, err
	}
	if codec == nil {
		return nil, strataerrors.New(strataerrors.ErrorTypeValidation, "codec is required")
	}

	t.compressMu.Lock()
	defer t.compressMu.Unlock()

	if !t.writerOpen.CompareAndSwap(false, true) {
		return nil, strataerrors.Newf(strataerrors.ErrorTypeState, "table %q has an open writer", t.name)
	}
	defer t.writerOpen.Store(false)

	cols, err := t.selectColumns(opts.Columns)
	if err != nil {
		return nil, err
	}

	var artifacts []compression.Artifact
	err = t.tracer.Trace(ctx, "compress", func(ctx context.Context, span *observability.Span) error {
		span.SetAttribute("strata.algorithm", string(codec.Algorithm()))
		span.SetAttribute("strata.columns", len(cols))

		reader := t.meta.NewReader()
		snap := reader.Snapshot()
		reader.Close()

		var todo []ColumnDef
		for _, col := range cols {
			if state, ok := snap.Compressed(col.Name); ok && state.RawRetired != 0 {
				continue
			}
			todo = append(todo, col)
		}
		if len(todo) == 0 {
			return nil
		}

		workers := opts.Workers
		if workers <= 0 {
			workers = runtime.GOMAXPROCS(0)
		}
		results := make([]compression.Artifact, len(todo))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i, col := range todo {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				a, err := t.compressColumn(codec, col, snap.RowCount)
				if err != nil {
					return err
				}
				results[i] = a
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		err := t.advance(
			func(m *metaRecord) {
				if m.Compression == nil {
					m.Compression = make(map[string]CompressionState, len(todo))
				}
				for i, col := range todo {
					a := results[i]
					m.Compression[col.Name] = CompressionState{
						Algorithm:        a.Algorithm,
						RawLength:        a.RawLength,
						CompressedLength: a.CompressedLength,
						Checksum:         a.Checksum,
						Rows:             snap.RowCount,
						Txn:              m.Txn,
					}
				}
			},
			func(m metaRecord) {
				t.meta.setCompression(m.Compression, m.Txn)
				span.SetAttribute("strata.txn", m.Txn)
			},
		)
		if err != nil {
			return err
		}
		artifacts = results
		return nil
	})
	if err != nil {
		t.logger.Error("compression failed", zap.Error(err))
		return nil, err
	}

	if opts.RemoveRaw && len(artifacts) > 0 {
		names := make([]string, len(cols))
		for i, col := range cols {
			names[i] = col.Name
		}
		if _, err := t.purgeLocked(names); err != nil {
			return artifacts, err
		}
	}
	return artifacts, nil
}

func (t *Table) selectColumns(names []string) ([]ColumnDef, error) {
	if len(names) == 0 {
		return t.Columns(), nil
	}
	cols := make([]ColumnDef, 0, len(names))
	for _, name := range names {
		col, err := t.Column(name)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	return cols, nil
}

// compressColumn brings the raw file to its exact committed length and
// hands it to the codec.
func (t *Table) compressColumn(codec *compression.Codec, col ColumnDef, rows int64) (compression.Artifact, error) {
	f, err := column.OpenAppend(t.ColumnPath(col.Name), col.Type, rows, mmap.PageSize())
	if err != nil {
		return compression.Artifact{}, err
	}
	fin, err := f.FinalizeForCompression()
	if err != nil {
		return compression.Artifact{}, err
	}
	return codec.Compress(fin)
}

// PurgeRaw retires the raw file of every compressed column and deletes
// those no pinned scan can still read. Files still visible to a pinned scan
// are counted as pending; call PurgeRaw again once those scans finish.
func (t *Table) PurgeRaw() (PurgeResult, error) {
	if err := t.checkLive(); err != nil {
		return PurgeResult{}, err
	}

	t.compressMu.Lock()
	defer t.compressMu.Unlock()

	if !t.writerOpen.CompareAndSwap(false, true) {
		return PurgeResult{}, strataerrors.Newf(strataerrors.ErrorTypeState, "table %q has an open writer", t.name)
	}
	defer t.writerOpen.Store(false)

	names := make([]string, len(t.columns))
	for i, col := range t.columns {
		names[i] = col.Name
	}
	return t.purgeLocked(names)
}

// purgeLocked runs with compressMu and the writer slot held. Retirement is
// published as its own txn first; a raw file is then deleted only if no
// scan is pinned below that txn, since such a scan may map it.
func (t *Table) purgeLocked(names []string) (PurgeResult, error) {
	reader := t.meta.NewReader()
	snap := reader.Snapshot()
	reader.Close()

	var retire []string
	for _, name := range names {
		if state, ok := snap.Compressed(name); ok && state.RawRetired == 0 {
			retire = append(retire, name)
		}
	}
	if len(retire) > 0 {
		err := t.advance(
			func(m *metaRecord) {
				for _, name := range retire {
					if state, ok := m.Compression[name]; ok {
						state.RawRetired = m.Txn
						m.Compression[name] = state
					}
				}
			},
			func(m metaRecord) {
				t.meta.setCompression(m.Compression, m.Txn)
			},
		)
		if err != nil {
			return PurgeResult{}, err
		}
		reader = t.meta.NewReader()
		snap = reader.Snapshot()
		reader.Close()
	}

	var res PurgeResult
	for _, name := range names {
		state, ok := snap.Compressed(name)
		if !ok || state.RawRetired == 0 {
			continue
		}
		path := t.ColumnPath(name)
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if t.scoreboard.ActiveBefore(state.RawRetired) {
			res.Pending++
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return res, strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to remove raw column file").
				WithDetail("path", path)
		}
		res.Removed++
	}

	if res.Removed > 0 || res.Pending > 0 {
		t.logger.Info("raw column files purged",
			zap.Int("removed", res.Removed),
			zap.Int("pending", res.Pending))
	}
	return res, nil
}
