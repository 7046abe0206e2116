package table

import (
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/logger"
	"github.com/ajitpratap0/strata/pkg/observability"
	"github.com/ajitpratap0/strata/pkg/rwlock"
	"github.com/ajitpratap0/strata/pkg/strataerrors"
	"github.com/ajitpratap0/strata/pkg/txn"
)

// metaRecord is the JSON form of <table>/_meta.
type metaRecord struct {
	Name        string                      `json:"name"`
	Token       int64                       `json:"token"`
	Partition   string                      `json:"partition"`
	Columns     []ColumnDef                 `json:"columns"`
	RowCount    int64                       `json:"row_count"`
	Txn         int64                       `json:"txn"`
	Compression map[string]CompressionState `json:"compression,omitempty"`
}

// Table is an open table. It is shared by every writer, compressor and scan
// of the table and is safe for concurrent use.
type Table struct {
	name      string
	token     int64
	dir       string
	partition string
	columns   []ColumnDef
	index     map[string]int

	meta       *Metadata
	scoreboard *txn.Scoreboard

	writerOpen atomic.Bool
	dropped    atomic.Bool
	compressMu sync.Mutex

	// persistMu serializes _meta rewrites and guards persisted.
	persistMu sync.Mutex
	persisted metaRecord

	opts   Options
	logger *zap.Logger
	tracer *observability.StorageTracer
}

func (c *Catalog) newTable(dir string, m metaRecord) (*Table, error) {
	lock, err := rwlock.New(c.opts.LockKind)
	if err != nil {
		return nil, err
	}
	sb, err := txn.New(c.opts.ScoreboardEntries)
	if err != nil {
		return nil, err
	}
	if m.RowCount < 0 || m.Txn < 0 {
		return nil, strataerrors.New(strataerrors.ErrorTypeOpen, "table metadata has a negative row count or txn").
			WithDetail("table", m.Name)
	}

	index := make(map[string]int, len(m.Columns))
	for i, col := range m.Columns {
		index[col.Name] = i
	}
	if m.Partition == "" {
		m.Partition = defaultPartition
	}

	return &Table{
		name:       m.Name,
		token:      m.Token,
		dir:        dir,
		partition:  m.Partition,
		columns:    m.Columns,
		index:      index,
		meta:       newMetadata(lock, m.RowCount, m.Txn, m.Compression),
		scoreboard: sb,
		persisted:  m,
		opts:       c.opts,
		logger:     logger.Named(c.opts.Logger, "table").With(zap.String("table", m.Name)),
		tracer:     observability.NewStorageTracer("table", m.Name),
	}, nil
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Token returns the identity token assigned when the table was created.
func (t *Table) Token() int64 { return t.token }

// Columns returns the column definitions in table order.
func (t *Table) Columns() []ColumnDef {
	return append([]ColumnDef(nil), t.columns...)
}

// Dir returns the table directory.
func (t *Table) Dir() string { return t.dir }

// PartitionDir returns the directory holding the column files.
func (t *Table) PartitionDir() string {
	return filepath.Join(t.dir, t.partition)
}

// ColumnPath returns the raw file path of a column.
func (t *Table) ColumnPath(name string) string {
	return filepath.Join(t.PartitionDir(), name+".d")
}

// ColumnIndex returns the position of a column, or a not_found error.
func (t *Table) ColumnIndex(name string) (int, error) {
	i, ok := t.index[name]
	if !ok {
		return 0, strataerrors.Newf(strataerrors.ErrorTypeNotFound, "table %q has no column %q", t.name, name)
	}
	return i, nil
}

// Column returns the definition of a named column.
func (t *Table) Column(name string) (ColumnDef, error) {
	i, err := t.ColumnIndex(name)
	if err != nil {
		return ColumnDef{}, err
	}
	return t.columns[i], nil
}

// Metadata returns the shared published metadata.
func (t *Table) Metadata() *Metadata { return t.meta }

// Scoreboard returns the table's txn scoreboard.
func (t *Table) Scoreboard() *txn.Scoreboard { return t.scoreboard }

// Logger returns the table's logger.
func (t *Table) Logger() *zap.Logger { return t.logger }

// advance writes a new _meta with the txn incremented and update applied,
// then calls publish with the record. Txns are allocated only here, so
// _meta and the published metadata advance in the same order. The
// in-memory record changes only if the write succeeds.
func (t *Table) advance(update func(m *metaRecord), publish func(m metaRecord)) error {
	t.persistMu.Lock()
	defer t.persistMu.Unlock()

	next := t.persisted
	next.Columns = t.columns
	next.Compression = copyStates(t.persisted.Compression)
	next.Txn++
	update(&next)
	if err := writeJSONAtomic(filepath.Join(t.dir, metaFile), next); err != nil {
		return err
	}
	t.persisted = next
	publish(next)
	return nil
}

func (t *Table) checkLive() error {
	if t.dropped.Load() {
		return strataerrors.Newf(strataerrors.ErrorTypeState, "table %q was dropped", t.name)
	}
	return nil
}
