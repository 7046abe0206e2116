package column

import (
	"os"

	"github.com/ajitpratap0/strata/pkg/mmap"
	"github.com/ajitpratap0/strata/pkg/strataerrors"
)

// Reader is a read-only view over the first rows of a column, backed either
// by a read-only mapping or by an in-memory buffer holding a decompressed
// artifact.
type Reader struct {
	typ    Type
	width  int64
	rows   int64
	data   []byte
	region *mmap.Region
}

// OpenReader maps the first rows of a column file read-only.
func OpenReader(path string, typ Type, rows int64) (*Reader, error) {
	width := int64(typ.Width())
	if width == 0 {
		return nil, strataerrors.Newf(strataerrors.ErrorTypeValidation, "unknown column type %d", int(typ)).
			WithDetail("path", path)
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, strataerrors.Wrap(err, strataerrors.ErrorTypeOpen, "column file is missing").
			WithDetail("path", path)
	}
	if stat.Size() < rows*width {
		return nil, strataerrors.New(strataerrors.ErrorTypeOpen, "column file is shorter than the requested row count").
			WithDetail("path", path).
			WithDetail("length", stat.Size()).
			WithDetail("rows", rows)
	}

	region, err := mmap.Open(path, mmap.ReadOnly, 0, rows*width)
	if err != nil {
		return nil, err
	}

	return &Reader{
		typ:    typ,
		width:  width,
		rows:   rows,
		data:   region.Bytes(),
		region: region,
	}, nil
}

// FromBytes wraps an in-memory buffer of rows elements.
func FromBytes(typ Type, rows int64, data []byte) (*Reader, error) {
	width := int64(typ.Width())
	if width == 0 {
		return nil, strataerrors.Newf(strataerrors.ErrorTypeValidation, "unknown column type %d", int(typ))
	}
	if int64(len(data)) < rows*width {
		return nil, strataerrors.New(strataerrors.ErrorTypeValidation, "buffer is shorter than the requested row count").
			WithDetail("length", len(data)).
			WithDetail("rows", rows)
	}
	return &Reader{
		typ:   typ,
		width: width,
		rows:  rows,
		data:  data[:rows*width],
	}, nil
}

// Type returns the column type.
func (r *Reader) Type() Type {
	return r.typ
}

// Rows returns the number of readable rows.
func (r *Reader) Rows() int64 {
	return r.rows
}

// Bytes returns the raw column bytes.
func (r *Reader) Bytes() []byte {
	return r.data
}

// ElementAt returns the bytes of one row.
func (r *Reader) ElementAt(row int64) []byte {
	if row < 0 || row >= r.rows {
		strataerrors.Bounds("row %d out of range [0, %d)", row, r.rows)
	}
	off := row * r.width
	return r.data[off : off+r.width : off+r.width]
}

// ValueAt decodes one row as int64.
func (r *Reader) ValueAt(row int64) int64 {
	return r.typ.Decode(r.ElementAt(row))
}

// Advise passes an access-pattern hint to a mapped reader.
func (r *Reader) Advise(advice mmap.Advice) error {
	if r.region == nil {
		return nil
	}
	return r.region.Advise(advice)
}

// Close releases the mapping, if any. Close is idempotent.
func (r *Reader) Close() error {
	r.data = nil
	if r.region == nil {
		return nil
	}
	region := r.region
	r.region = nil
	return region.Close(false)
}
