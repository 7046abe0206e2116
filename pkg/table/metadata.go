package table

import (
	"github.com/ajitpratap0/strata/pkg/compression"
	"github.com/ajitpratap0/strata/pkg/rwlock"
	"github.com/ajitpratap0/strata/pkg/txn"
)

// CompressionState records a verified artifact for one column.
type CompressionState struct {
	Algorithm        compression.Algorithm `json:"algorithm"`
	RawLength        int64                 `json:"raw_length"`
	CompressedLength int64                 `json:"compressed_length"`
	Checksum         uint64                `json:"checksum"`
	// Rows is the committed row count the artifact covers.
	Rows int64 `json:"rows"`
	// Txn is the txn that published the artifact.
	Txn int64 `json:"txn"`
	// RawRetired is the txn from which readers must use the artifact; the
	// raw file may be deleted once no reader is pinned below it. Zero means
	// the raw file is live.
	RawRetired int64 `json:"raw_retired,omitempty"`
}

// Artifact returns the codec view of the state for the given raw path.
func (s CompressionState) Artifact(rawPath string) compression.Artifact {
	return compression.Artifact{
		Path:             compression.ArtifactPath(rawPath),
		Algorithm:        s.Algorithm,
		RawLength:        s.RawLength,
		CompressedLength: s.CompressedLength,
		Checksum:         s.Checksum,
	}
}

// Snapshot is a consistent copy of a table's published metadata.
type Snapshot struct {
	RowCount    int64
	Txn         int64
	Compression map[string]CompressionState
}

// Compressed returns the compression state of a column.
func (s Snapshot) Compressed(column string) (CompressionState, bool) {
	state, ok := s.Compression[column]
	return state, ok
}

// Metadata holds the published row count, txn and compression state of a
// table. Writes happen under the write half of the lock and reads through
// a MetaReader.
type Metadata struct {
	lock rwlock.RWLock

	// guarded by lock
	rowCount    int64
	txn         int64
	compression map[string]CompressionState
}

func newMetadata(lock rwlock.RWLock, rows, txnID int64, compressed map[string]CompressionState) *Metadata {
	return &Metadata{
		lock:        lock,
		rowCount:    rows,
		txn:         txnID,
		compression: copyStates(compressed),
	}
}

// LockKind reports the lock variant guarding the metadata.
func (m *Metadata) LockKind() rwlock.Kind {
	return m.lock.Kind()
}

// publish makes a commit visible. Compression states cover a fixed row
// count, so they are dropped when the row count changes.
func (m *Metadata) publish(rows, txnID int64) {
	m.lock.Lock()
	if rows != m.rowCount {
		m.compression = nil
	}
	m.rowCount = rows
	m.txn = txnID
	m.lock.Unlock()
}

// setCompression replaces the compression state and advances the txn.
func (m *Metadata) setCompression(states map[string]CompressionState, txnID int64) {
	states = copyStates(states)
	m.lock.Lock()
	m.compression = states
	m.txn = txnID
	m.lock.Unlock()
}

// NewReader registers a reader. A MetaReader belongs to one goroutine.
func (m *Metadata) NewReader() *MetaReader {
	return &MetaReader{m: m, r: m.lock.NewReader()}
}

// MetaReader reads published metadata through a registered lock reader.
type MetaReader struct {
	m *Metadata
	r rwlock.Reader
}

// RowCount returns the committed row count.
func (r *MetaReader) RowCount() int64 {
	r.r.RLock()
	n := r.m.rowCount
	r.r.RUnlock()
	return n
}

// Txn returns the last published txn.
func (r *MetaReader) Txn() int64 {
	r.r.RLock()
	t := r.m.txn
	r.r.RUnlock()
	return t
}

// Snapshot copies row count, txn and compression state in one read section.
func (r *MetaReader) Snapshot() Snapshot {
	r.r.RLock()
	defer r.r.RUnlock()
	return r.snapshotLocked()
}

// Pin takes a snapshot and pins its txn in sb before releasing the read
// lock, so that nothing the snapshot references is deleted until the
// caller releases the txn.
func (r *MetaReader) Pin(sb *txn.Scoreboard) (Snapshot, error) {
	r.r.RLock()
	defer r.r.RUnlock()
	s := r.snapshotLocked()
	if err := sb.Acquire(s.Txn); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

func (r *MetaReader) snapshotLocked() Snapshot {
	return Snapshot{
		RowCount:    r.m.rowCount,
		Txn:         r.m.txn,
		Compression: copyStates(r.m.compression),
	}
}

// Close deregisters the reader.
func (r *MetaReader) Close() {
	r.r.Close()
}

func copyStates(states map[string]CompressionState) map[string]CompressionState {
	if len(states) == 0 {
		return nil
	}
	out := make(map[string]CompressionState, len(states))
	for k, v := range states {
		out[k] = v
	}
	return out
}
