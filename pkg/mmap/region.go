// Package mmap provides memory-mapped windows over column files. A Region
// owns one mapping and its file descriptor; it is opened read-only for scans
// and for the read side of compression, or read-write for appends and for
// writing compressed artifacts.
//
// A Region is exclusively owned by the goroutine that opened it. Access
// outside the mapped window is a programming error and panics with a
// strataerrors bounds error.
package mmap

import (
	"encoding/binary"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ajitpratap0/strata/pkg/strataerrors"
)

// Mode selects the protection of a mapping.
type Mode int

const (
	// ReadOnly maps with PROT_READ; the file must already cover the range.
	ReadOnly Mode = iota
	// ReadWrite maps with PROT_READ|PROT_WRITE; the file is created and
	// extended as needed.
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "rw"
	}
	return "ro"
}

// Advice is an access-pattern hint passed to madvise.
type Advice int

const (
	// AdviceNormal resets any previous hint.
	AdviceNormal Advice = iota
	// AdviceSequential hints that the window is read front to back.
	AdviceSequential
	// AdviceWillNeed asks the kernel to start reading the window in.
	AdviceWillNeed
)

var pageSize = int64(os.Getpagesize())

// PageSize returns the OS page size used to align mappings.
func PageSize() int64 {
	return pageSize
}

// Region is a window over the byte range [offset, offset+length) of a file.
type Region struct {
	path   string
	mode   Mode
	file   *os.File
	offset int64
	length int64

	// mapped starts at the page boundary at or below offset; delta is the
	// distance from that boundary to offset.
	mapped []byte
	delta  int64
	closed bool
}

// Open maps length bytes of path starting at offset.
//
// In ReadWrite mode the file is created if missing and extended to
// offset+length. In ReadOnly mode the range must lie within the file.
// A zero length yields a valid empty region that holds no OS mapping.
func Open(path string, mode Mode, offset, length int64) (*Region, error) {
	if offset < 0 || length < 0 {
		return nil, strataerrors.Newf(strataerrors.ErrorTypeValidation,
			"invalid mapping range offset=%d length=%d", offset, length).
			WithDetail("path", path)
	}

	flag := os.O_RDONLY
	if mode == ReadWrite {
		flag = os.O_RDWR | os.O_CREATE
	}

	file, err := os.OpenFile(path, flag, 0o644) //nolint:gosec // G304: column paths are built by the table layer
	if err != nil {
		return nil, strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to open file").
			WithDetail("path", path).
			WithDetail("mode", mode.String())
	}

	r := &Region{
		path:   path,
		mode:   mode,
		file:   file,
		offset: offset,
	}

	if mode == ReadOnly {
		stat, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to stat file").
				WithDetail("path", path)
		}
		if offset+length > stat.Size() {
			file.Close()
			return nil, strataerrors.New(strataerrors.ErrorTypeIO, "mapping range beyond end of file").
				WithDetail("path", path).
				WithDetail("end", offset+length).
				WithDetail("size", stat.Size())
		}
	}

	mapped, delta, err := r.mapRange(length)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.mapped = mapped
	r.delta = delta
	r.length = length

	return r, nil
}

// OpenFile maps an entire file read-only.
func OpenFile(path string) (*Region, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to stat file").
			WithDetail("path", path)
	}
	return Open(path, ReadOnly, 0, stat.Size())
}

// WithRegion opens a region, runs fn and releases the region on every exit
// path, including a panic inside fn. A write region is flushed
// synchronously when fn succeeds.
func WithRegion(path string, mode Mode, offset, length int64, fn func(r *Region) error) (err error) {
	r, err := Open(path, mode, offset, length)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := r.Close(err == nil && mode == ReadWrite)
		if err == nil {
			err = closeErr
		}
	}()
	return fn(r)
}

// mapRange extends the file if needed and maps [offset, offset+length).
func (r *Region) mapRange(length int64) ([]byte, int64, error) {
	if r.mode == ReadWrite {
		if err := r.ensureFileSize(r.offset + length); err != nil {
			return nil, 0, err
		}
	}
	if length == 0 {
		return nil, 0, nil
	}

	base := r.offset &^ (pageSize - 1)
	delta := r.offset - base

	prot := unix.PROT_READ
	if r.mode == ReadWrite {
		prot |= unix.PROT_WRITE
	}

	data, err := unix.Mmap(int(r.file.Fd()), base, int(delta+length), prot, unix.MAP_SHARED)
	if err != nil {
		return nil, 0, strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "mmap rejected").
			WithDetail("path", r.path).
			WithDetail("offset", r.offset).
			WithDetail("length", length)
	}
	return data, delta, nil
}

func (r *Region) ensureFileSize(size int64) error {
	stat, err := r.file.Stat()
	if err != nil {
		return strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to stat file").
			WithDetail("path", r.path)
	}
	if stat.Size() >= size {
		return nil
	}
	if err := r.file.Truncate(size); err != nil {
		return strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to extend file").
			WithDetail("path", r.path).
			WithDetail("size", size)
	}
	return nil
}

// Grow extends the window to newLength bytes. Growing a read-write region
// past its current window remaps it: the new mapping is established before
// the old one is released, so on failure the old window stays valid and
// unchanged. Slices obtained from Read or Bytes before a remap must not be
// used afterwards.
func (r *Region) Grow(newLength int64) error {
	if r.closed {
		return strataerrors.New(strataerrors.ErrorTypeState, "region is closed").
			WithDetail("path", r.path)
	}
	if r.mode != ReadWrite {
		return strataerrors.New(strataerrors.ErrorTypeState, "cannot grow a read-only region").
			WithDetail("path", r.path)
	}
	if newLength <= r.length {
		return nil
	}

	mapped, delta, err := r.mapRange(newLength)
	if err != nil {
		return err
	}

	old := r.mapped
	r.mapped = mapped
	r.delta = delta
	r.length = newLength

	if old != nil {
		if err := unix.Munmap(old); err != nil {
			return strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to unmap previous window").
				WithDetail("path", r.path)
		}
	}
	return nil
}

// Read returns width bytes at offset within the window. The slice aliases
// the mapping.
func (r *Region) Read(offset int64, width int) []byte {
	r.check(offset, int64(width))
	start := r.delta + offset
	end := start + int64(width)
	return r.mapped[start:end:end]
}

// Write copies b into the window at offset.
func (r *Region) Write(offset int64, b []byte) {
	if r.mode != ReadWrite {
		strataerrors.Bounds("write to read-only region %s", r.path)
	}
	r.check(offset, int64(len(b)))
	copy(r.mapped[r.delta+offset:], b)
}

// Int32 reads a little-endian int32 at offset.
func (r *Region) Int32(offset int64) int32 {
	return int32(binary.LittleEndian.Uint32(r.Read(offset, 4))) //nolint:gosec // G115: bit reinterpretation
}

// Int64 reads a little-endian int64 at offset.
func (r *Region) Int64(offset int64) int64 {
	return int64(binary.LittleEndian.Uint64(r.Read(offset, 8))) //nolint:gosec // G115: bit reinterpretation
}

// PutInt32 writes a little-endian int32 at offset.
func (r *Region) PutInt32(offset int64, v int32) {
	if r.mode != ReadWrite {
		strataerrors.Bounds("write to read-only region %s", r.path)
	}
	r.check(offset, 4)
	binary.LittleEndian.PutUint32(r.mapped[r.delta+offset:], uint32(v)) //nolint:gosec // G115: bit reinterpretation
}

// PutInt64 writes a little-endian int64 at offset.
func (r *Region) PutInt64(offset int64, v int64) {
	if r.mode != ReadWrite {
		strataerrors.Bounds("write to read-only region %s", r.path)
	}
	r.check(offset, 8)
	binary.LittleEndian.PutUint64(r.mapped[r.delta+offset:], uint64(v)) //nolint:gosec // G115: bit reinterpretation
}

// Bytes returns the whole window. The slice aliases the mapping and is
// invalidated by Grow and Close.
func (r *Region) Bytes() []byte {
	if r.closed {
		strataerrors.Bounds("access to closed region %s", r.path)
	}
	if r.mapped == nil {
		return nil
	}
	end := r.delta + r.length
	return r.mapped[r.delta:end:end]
}

func (r *Region) check(offset, width int64) {
	if r.closed {
		strataerrors.Bounds("access to closed region %s", r.path)
	}
	if offset < 0 || width < 0 || offset+width > r.length {
		strataerrors.Bounds("access [%d, %d) out of range [0, %d) in %s", offset, offset+width, r.length, r.path)
	}
}

// Len returns the window length in bytes.
func (r *Region) Len() int64 {
	return r.length
}

// Path returns the mapped file path.
func (r *Region) Path() string {
	return r.path
}

// Mode returns the mapping mode.
func (r *Region) Mode() Mode {
	return r.mode
}

// Flush writes dirty pages back to the file. With sync set the call returns
// only after the data is durable; otherwise the flush is scheduled.
func (r *Region) Flush(sync bool) error {
	if r.closed || r.mode != ReadWrite || r.mapped == nil {
		return nil
	}
	flags := unix.MS_ASYNC
	if sync {
		flags = unix.MS_SYNC
	}
	if err := unix.Msync(r.mapped, flags); err != nil {
		return strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "msync failed").
			WithDetail("path", r.path).
			WithDetail("sync", sync)
	}
	return nil
}

// Advise passes an access-pattern hint for the window to the kernel.
func (r *Region) Advise(advice Advice) error {
	if r.closed || r.mapped == nil {
		return nil
	}
	var a int
	switch advice {
	case AdviceSequential:
		a = unix.MADV_SEQUENTIAL
	case AdviceWillNeed:
		a = unix.MADV_WILLNEED
	default:
		a = unix.MADV_NORMAL
	}
	if err := unix.Madvise(r.mapped, a); err != nil {
		return strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "madvise failed").
			WithDetail("path", r.path)
	}
	return nil
}

// Close unmaps the window and closes the file. For a read-write region with
// sync set, written bytes are durable when Close returns. Close is
// idempotent.
func (r *Region) Close(sync bool) error {
	if r.closed {
		return nil
	}

	var err error
	if sync {
		err = r.Flush(true)
	}
	r.closed = true

	if r.mapped != nil {
		if unmapErr := unix.Munmap(r.mapped); unmapErr != nil && err == nil {
			err = strataerrors.Wrap(unmapErr, strataerrors.ErrorTypeIO, "munmap failed").
				WithDetail("path", r.path)
		}
		r.mapped = nil
	}

	if r.file != nil {
		if closeErr := r.file.Close(); closeErr != nil && err == nil {
			err = strataerrors.Wrap(closeErr, strataerrors.ErrorTypeIO, "failed to close file").
				WithDetail("path", r.path)
		}
		r.file = nil
	}

	return err
}

// EvictPageCache drops cached pages of path so the next access faults data
// in from storage. Used to measure cold reads; on platforms without
// posix_fadvise it only syncs the file.
func EvictPageCache(path string) error {
	file, err := os.Open(path) //nolint:gosec // G304: column paths are built by the table layer
	if err != nil {
		return strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to open file for eviction").
			WithDetail("path", path)
	}
	defer file.Close()

	if err := file.Sync(); err != nil {
		return strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "fsync failed").
			WithDetail("path", path)
	}
	if err := evictPageCache(file); err != nil {
		return strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "page cache eviction failed").
			WithDetail("path", path)
	}
	return nil
}
