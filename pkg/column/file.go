package column

import (
	"errors"
	"os"

	"github.com/ajitpratap0/strata/pkg/mmap"
	"github.com/ajitpratap0/strata/pkg/strataerrors"
)

// DefaultAppendPageSize is the amount the write mapping grows by when an
// append runs past its end.
const DefaultAppendPageSize = 4 << 20

// File is a column file open for append. Rows become readable through
// ElementAt only after Commit.
//
// A File is owned by a single table writer and is not safe for concurrent
// use.
type File struct {
	path      string
	typ       Type
	width     int64
	pageSize  int64
	region    *mmap.Region
	appended  int64
	committed int64
	closed    bool
}

// Finalized describes a column file whose write mapping has been closed and
// whose length is exactly Rows*width. It can only be produced by
// File.FinalizeForCompression.
type Finalized struct {
	Path   string
	Type   Type
	Rows   int64
	Length int64
}

// Create makes an empty column file. It fails if the file already exists.
func Create(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644) //nolint:gosec // G304: path built by the table layer
	if err != nil {
		return strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to create column file").
			WithDetail("path", path)
	}
	if err := f.Close(); err != nil {
		return strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to close column file").
			WithDetail("path", path)
	}
	return nil
}

// OpenAppend maps an existing column file read-write, positioned after its
// committed rows. The file must exist and hold a whole number of elements
// covering at least committedRows; bytes past the committed length are left
// over from an uncommitted append and are discarded.
func OpenAppend(path string, typ Type, committedRows, pageSize int64) (*File, error) {
	width := int64(typ.Width())
	if width == 0 {
		return nil, strataerrors.Newf(strataerrors.ErrorTypeValidation, "unknown column type %d", int(typ)).
			WithDetail("path", path)
	}
	if pageSize <= 0 {
		pageSize = DefaultAppendPageSize
	}
	pageSize = roundUp(pageSize, mmap.PageSize())

	stat, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, strataerrors.Wrap(err, strataerrors.ErrorTypeOpen, "column file is missing").
				WithDetail("path", path)
		}
		return nil, strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to stat column file").
			WithDetail("path", path)
	}

	size := stat.Size()
	committedBytes := committedRows * width
	if size%width != 0 {
		return nil, strataerrors.New(strataerrors.ErrorTypeOpen, "column file length is not a multiple of its element width").
			WithDetail("path", path).
			WithDetail("length", size).
			WithDetail("width", width)
	}
	if size < committedBytes {
		return nil, strataerrors.New(strataerrors.ErrorTypeOpen, "column file is shorter than its committed row count").
			WithDetail("path", path).
			WithDetail("length", size).
			WithDetail("committed_rows", committedRows)
	}
	if size > committedBytes {
		if err := os.Truncate(path, committedBytes); err != nil {
			return nil, strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to drop uncommitted tail").
				WithDetail("path", path)
		}
	}

	region, err := mmap.Open(path, mmap.ReadWrite, 0, roundUp(committedBytes+1, pageSize))
	if err != nil {
		return nil, err
	}

	return &File{
		path:      path,
		typ:       typ,
		width:     width,
		pageSize:  pageSize,
		region:    region,
		appended:  committedRows,
		committed: committedRows,
	}, nil
}

func roundUp(n, to int64) int64 {
	return (n + to - 1) / to * to
}

// Path returns the column file path.
func (f *File) Path() string {
	return f.path
}

// Type returns the column type.
func (f *File) Type() Type {
	return f.typ
}

// Rows returns the number of appended rows, committed or not.
func (f *File) Rows() int64 {
	return f.appended
}

// CommittedRows returns the number of rows made durable by Commit.
func (f *File) CommittedRows() int64 {
	return f.committed
}

// reserve makes room for one more element, remapping if needed.
func (f *File) reserve() error {
	if f.closed {
		return strataerrors.New(strataerrors.ErrorTypeState, "column file is closed").
			WithDetail("path", f.path)
	}
	end := (f.appended + 1) * f.width
	if end <= f.region.Len() {
		return nil
	}
	return f.region.Grow(roundUp(end, f.pageSize))
}

// AppendElement writes one element at the end of the column. b must be
// exactly one element wide. The row count advances only after all bytes
// are in place.
func (f *File) AppendElement(b []byte) error {
	if int64(len(b)) != f.width {
		strataerrors.Bounds("element of %d bytes appended to %s column %s", len(b), f.typ, f.path)
	}
	if err := f.reserve(); err != nil {
		return err
	}
	f.region.Write(f.appended*f.width, b)
	f.appended++
	return nil
}

// AppendValue encodes v with the column's width and appends it.
func (f *File) AppendValue(v int64) error {
	if err := f.reserve(); err != nil {
		return err
	}
	f.typ.encode(f.region.Read(f.appended*f.width, int(f.width)), v)
	f.appended++
	return nil
}

// AppendInt appends to an int column.
func (f *File) AppendInt(v int32) error {
	if f.typ != TypeInt {
		strataerrors.Bounds("int appended to %s column %s", f.typ, f.path)
	}
	return f.AppendValue(int64(v))
}

// AppendLong appends to a long column.
func (f *File) AppendLong(v int64) error {
	if f.typ != TypeLong && f.typ != TypeTimestamp {
		strataerrors.Bounds("long appended to %s column %s", f.typ, f.path)
	}
	return f.AppendValue(v)
}

// ElementAt returns the bytes of a committed row. The slice aliases the
// mapping and is valid until the next append or Close.
func (f *File) ElementAt(row int64) []byte {
	if row < 0 || row >= f.committed {
		strataerrors.Bounds("row %d out of committed range [0, %d) in %s", row, f.committed, f.path)
	}
	return f.region.Read(row*f.width, int(f.width))
}

// ValueAt decodes a committed row as int64.
func (f *File) ValueAt(row int64) int64 {
	return f.typ.Decode(f.ElementAt(row))
}

// IntAt reads a committed row of an int column.
func (f *File) IntAt(row int64) int32 {
	return int32(f.ValueAt(row)) //nolint:gosec // G115: int column values fit int32
}

// LongAt reads a committed row of a long column.
func (f *File) LongAt(row int64) int64 {
	return f.ValueAt(row)
}

// Commit flushes appended rows and advances the committed row count. With
// sync set the rows are durable when Commit returns.
func (f *File) Commit(sync bool) error {
	if f.closed {
		return strataerrors.New(strataerrors.ErrorTypeState, "column file is closed").
			WithDetail("path", f.path)
	}
	if err := f.region.Flush(sync); err != nil {
		return err
	}
	f.committed = f.appended
	return nil
}

// Rollback drops rows appended since the last commit.
func (f *File) Rollback() {
	f.appended = f.committed
}

// Close discards uncommitted rows, releases the write mapping and truncates
// the file to its committed length. Close is idempotent.
func (f *File) Close(sync bool) error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.appended = f.committed

	err := f.region.Close(sync)
	if truncErr := os.Truncate(f.path, f.committed*f.width); truncErr != nil && err == nil {
		err = strataerrors.Wrap(truncErr, strataerrors.ErrorTypeIO, "failed to truncate column file").
			WithDetail("path", f.path)
	}
	return err
}

// FinalizeForCompression closes the write mapping with a synchronous flush
// and returns the exact committed length, the precondition for compressing
// the file.
func (f *File) FinalizeForCompression() (Finalized, error) {
	if f.closed {
		return Finalized{}, strataerrors.New(strataerrors.ErrorTypeState, "column file is closed").
			WithDetail("path", f.path)
	}
	if err := f.Close(true); err != nil {
		return Finalized{}, err
	}
	return Finalized{
		Path:   f.path,
		Type:   f.typ,
		Rows:   f.committed,
		Length: f.committed * f.width,
	}, nil
}
