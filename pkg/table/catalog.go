package table

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/column"
	"github.com/ajitpratap0/strata/pkg/logger"
	"github.com/ajitpratap0/strata/pkg/rwlock"
	"github.com/ajitpratap0/strata/pkg/strataerrors"
	"github.com/ajitpratap0/strata/pkg/txn"
)

const (
	indexFile        = "_tab_index"
	metaFile         = "_meta"
	defaultPartition = "default"
)

// ColumnDef names a column and its element type.
type ColumnDef struct {
	Name string      `json:"name"`
	Type column.Type `json:"type"`
}

// Options configures tables opened through a Catalog.
type Options struct {
	// LockKind selects the lock guarding each table's metadata.
	LockKind rwlock.Kind
	// AppendPageSize is the step by which writers extend column files.
	AppendPageSize int64
	// SyncCommit makes Commit wait for msync. Disabling it trades
	// durability for latency and should only be used in benchmarks.
	SyncCommit bool
	// ScoreboardEntries bounds how many txns scans may pin at once.
	ScoreboardEntries int
	Logger            *zap.Logger
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		LockKind:          rwlock.KindBiased,
		AppendPageSize:    column.DefaultAppendPageSize,
		SyncCommit:        true,
		ScoreboardEntries: txn.DefaultEntries,
	}
}

type tableIndex struct {
	NextToken int64            `json:"next_token"`
	Tables    map[string]int64 `json:"tables"`
}

// Catalog owns a root directory of tables. Table identity tokens come from
// a counter persisted in the root and are never reused, so a table that is
// dropped and created again gets a new token.
//
// Catalog is safe for concurrent use. Open returns the same *Table for a
// name until the table is dropped.
type Catalog struct {
	root   string
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	index  tableIndex
	tables map[string]*Table
}

// NewCatalog opens or initialises the catalog at root.
func NewCatalog(root string, opts Options) (*Catalog, error) {
	defaults := DefaultOptions()
	if opts.LockKind == "" {
		opts.LockKind = defaults.LockKind
	}
	if _, err := rwlock.New(opts.LockKind); err != nil {
		return nil, err
	}
	if opts.AppendPageSize <= 0 {
		opts.AppendPageSize = defaults.AppendPageSize
	}
	if opts.ScoreboardEntries <= 0 {
		opts.ScoreboardEntries = defaults.ScoreboardEntries
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to create catalog root").
			WithDetail("root", root)
	}

	c := &Catalog{
		root:   root,
		opts:   opts,
		logger: logger.Named(opts.Logger, "catalog"),
		index:  tableIndex{NextToken: 1, Tables: map[string]int64{}},
		tables: map[string]*Table{},
	}

	err := readJSON(filepath.Join(root, indexFile), &c.index)
	switch {
	case err == nil:
		if c.index.Tables == nil {
			c.index.Tables = map[string]int64{}
		}
	case strataerrors.IsType(err, strataerrors.ErrorTypeNotFound):
	default:
		return nil, err
	}
	return c, nil
}

// Root returns the catalog directory.
func (c *Catalog) Root() string {
	return c.root
}

func validateName(name string) error {
	if name == "" || name[0] == '_' || name[0] == '.' {
		return strataerrors.Newf(strataerrors.ErrorTypeValidation, "invalid table name %q", name)
	}
	for _, r := range name {
		ok := r == '_' || r == '-' || r == '.' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			return strataerrors.Newf(strataerrors.ErrorTypeValidation, "invalid table name %q", name)
		}
	}
	return nil
}

func validateColumns(cols []ColumnDef) error {
	if len(cols) == 0 {
		return strataerrors.New(strataerrors.ErrorTypeValidation, "a table needs at least one column")
	}
	seen := make(map[string]bool, len(cols))
	for _, col := range cols {
		if err := validateName(col.Name); err != nil {
			return strataerrors.Newf(strataerrors.ErrorTypeValidation, "invalid column name %q", col.Name)
		}
		if seen[col.Name] {
			return strataerrors.Newf(strataerrors.ErrorTypeValidation, "duplicate column %q", col.Name)
		}
		if col.Type.Width() == 0 {
			return strataerrors.Newf(strataerrors.ErrorTypeValidation, "column %q has unknown type", col.Name)
		}
		seen[col.Name] = true
	}
	return nil
}

// Create creates an empty table with the given columns.
func (c *Catalog) Create(name string, cols []ColumnDef) (*Table, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := validateColumns(cols); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	dir := filepath.Join(c.root, name)
	if _, err := os.Stat(dir); err == nil {
		return nil, strataerrors.Newf(strataerrors.ErrorTypeState, "table %q already exists", name)
	}

	token := c.index.NextToken
	next := tableIndex{NextToken: token + 1, Tables: make(map[string]int64, len(c.index.Tables)+1)}
	for k, v := range c.index.Tables {
		next.Tables[k] = v
	}
	next.Tables[name] = token
	if err := writeJSONAtomic(filepath.Join(c.root, indexFile), next); err != nil {
		return nil, err
	}
	c.index = next

	partition := filepath.Join(dir, defaultPartition)
	if err := os.MkdirAll(partition, 0o755); err != nil {
		return nil, strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to create partition directory").
			WithDetail("path", partition)
	}
	for _, col := range cols {
		if err := column.Create(filepath.Join(partition, col.Name+".d")); err != nil {
			_ = os.RemoveAll(dir)
			return nil, err
		}
	}

	m := metaRecord{
		Name:      name,
		Token:     token,
		Partition: defaultPartition,
		Columns:   append([]ColumnDef(nil), cols...),
	}
	if err := writeJSONAtomic(filepath.Join(dir, metaFile), m); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	t, err := c.newTable(dir, m)
	if err != nil {
		return nil, err
	}
	c.tables[name] = t
	c.logger.Info("table created",
		zap.String("table", name),
		zap.Int64("token", token),
		zap.Int("columns", len(cols)))
	return t, nil
}

// Open returns the table with the given name.
func (c *Catalog) Open(name string) (*Table, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.tables[name]; ok {
		return t, nil
	}

	dir := filepath.Join(c.root, name)
	var m metaRecord
	if err := readJSON(filepath.Join(dir, metaFile), &m); err != nil {
		if strataerrors.IsType(err, strataerrors.ErrorTypeNotFound) {
			return nil, strataerrors.Wrap(err, strataerrors.ErrorTypeNotFound, "table does not exist").
				WithDetail("table", name)
		}
		return nil, err
	}
	if m.Name != name {
		return nil, strataerrors.New(strataerrors.ErrorTypeOpen, "table metadata names another table").
			WithDetail("table", name).
			WithDetail("meta_name", m.Name)
	}
	if err := validateColumns(m.Columns); err != nil {
		return nil, strataerrors.Wrap(err, strataerrors.ErrorTypeOpen, "table metadata is corrupt").
			WithDetail("table", name)
	}

	t, err := c.newTable(dir, m)
	if err != nil {
		return nil, err
	}
	c.tables[name] = t
	return t, nil
}

// Drop deletes a table. It fails while the table has an open writer.
func (c *Catalog) Drop(name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	dir := filepath.Join(c.root, name)
	if _, err := os.Stat(filepath.Join(dir, metaFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return strataerrors.Newf(strataerrors.ErrorTypeNotFound, "table %q does not exist", name)
		}
		return strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to stat table").WithDetail("table", name)
	}

	if t, ok := c.tables[name]; ok {
		if !t.writerOpen.CompareAndSwap(false, true) {
			return strataerrors.Newf(strataerrors.ErrorTypeState, "table %q has an open writer", name)
		}
		t.dropped.Store(true)
		delete(c.tables, name)
	}

	if err := os.RemoveAll(dir); err != nil {
		return strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to remove table").WithDetail("table", name)
	}

	next := tableIndex{NextToken: c.index.NextToken, Tables: make(map[string]int64, len(c.index.Tables))}
	for k, v := range c.index.Tables {
		if k != name {
			next.Tables[k] = v
		}
	}
	if err := writeJSONAtomic(filepath.Join(c.root, indexFile), next); err != nil {
		return err
	}
	c.index = next

	c.logger.Info("table dropped", zap.String("table", name))
	return nil
}

// List returns the names of all tables, sorted.
func (c *Catalog) List() ([]string, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to list catalog").
			WithDetail("root", c.root)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() || validateName(e.Name()) != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(c.root, e.Name(), metaFile)); err == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
