// Package pool provides type-safe object pooling for Strata's hot paths:
// staged row values in table writers and transform buffers in the
// compression codec.
//
// The package provides:
//   - Generic type-safe object pooling with Pool[T]
//   - Buffer pooling with size-based buckets
//   - Statistics for monitoring hit rates
//
// Example usage:
//
//	// Using the shared buffer pool
//	buf := pool.GetBuffer(rawLen)
//	defer pool.PutBuffer(buf)
//
//	// Using custom pools
//	rows := pool.New(
//	    func() *staged { return &staged{} },
//	    func(s *staged) { s.reset() },
//	)
//	s := rows.Get()
//	defer rows.Put(s)
package pool

import (
	"sync"
	"sync/atomic"
)

// Pool represents a generic object pool with type safety.
// It wraps sync.Pool with statistics tracking and automatic reset
// functionality. The pool is safe for concurrent use.
//
// Type parameter T can be any type, but pointer types are recommended
// for efficiency.
type Pool[T any] struct {
	pool  sync.Pool
	new   func() T
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		hits      int64
		misses    int64
	}
}

// New creates a new typed pool with custom allocation and reset functions.
// The new function is called when the pool is empty and a new object is needed.
// The reset function is called before returning an object to the pool.
//
// Parameters:
//   - new: Factory function to create new instances of type T
//   - reset: Optional cleanup function called before returning objects to pool
func New[T any](new func() T, reset func(T)) *Pool[T] {
	return &Pool[T]{
		new:   new,
		reset: reset,
	}
}

// Get retrieves an object from the pool, creating one if the pool is empty.
// The returned object should be returned with Put when no longer needed.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	if obj := p.pool.Get(); obj != nil {
		atomic.AddInt64(&p.stats.hits, 1)
		return obj.(T)
	}
	atomic.AddInt64(&p.stats.misses, 1)
	atomic.AddInt64(&p.stats.allocated, 1)
	return p.new()
}

// Put returns an object to the pool for reuse, calling the reset function
// first if one was provided. The method is safe for concurrent use.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats returns current pool statistics.
//
// Returns:
//   - allocated: Total number of objects created by the pool
//   - inUse: Number of objects currently checked out from the pool
//   - hits: Number of Get calls served from the pool
//   - misses: Number of times a new object had to be created
func (p *Pool[T]) Stats() (allocated, inUse, hits, misses int64) {
	return atomic.LoadInt64(&p.stats.allocated),
		atomic.LoadInt64(&p.stats.inUse),
		atomic.LoadInt64(&p.stats.hits),
		atomic.LoadInt64(&p.stats.misses)
}

// BufferPool manages byte buffer pooling with size-based buckets.
// It maintains one pool per bucket size and selects the smallest bucket that
// fits a request.
type BufferPool struct {
	pools []*Pool[[]byte]
	sizes []int
}

// NewBufferPool creates a new buffer pool with power-of-4 buckets from
// 4KB to 64MB. Larger buffers are allocated directly without pooling.
func NewBufferPool() *BufferPool {
	sizes := []int{
		4 << 10,  // 4KB
		16 << 10, // 16KB
		64 << 10, // 64KB
		256 << 10,
		1 << 20, // 1MB
		4 << 20,
		16 << 20,
		64 << 20, // 64MB
	}

	pools := make([]*Pool[[]byte], len(sizes))
	for i, size := range sizes {
		size := size
		pools[i] = New(
			func() []byte {
				return make([]byte, size)
			},
			nil,
		)
	}

	return &BufferPool{
		pools: pools,
		sizes: sizes,
	}
}

// Get returns a buffer of length size. Its capacity may be larger and its
// contents are not cleared.
//
// Example:
//
//	buf := bufferPool.Get(2048)  // Returns a 4KB buffer with length 2048
//	defer bufferPool.Put(buf)
func (p *BufferPool) Get(size int) []byte {
	for i, s := range p.sizes {
		if s >= size {
			buf := p.pools[i].Get()
			return buf[:size]
		}
	}

	// Fallback to allocation for very large buffers
	return make([]byte, size)
}

// Put returns a buffer to the pool for reuse. Buffers whose capacity does
// not match a bucket are left to the garbage collector.
func (p *BufferPool) Put(buf []byte) {
	size := cap(buf)
	for i, s := range p.sizes {
		if s == size {
			p.pools[i].Put(buf[:size])
			return
		}
	}
}

var buffers = NewBufferPool()

// GetBuffer returns a buffer of length size from the shared buffer pool.
func GetBuffer(size int) []byte {
	return buffers.Get(size)
}

// PutBuffer returns a buffer to the shared buffer pool.
func PutBuffer(buf []byte) {
	buffers.Put(buf)
}
