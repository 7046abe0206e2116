package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolStats(t *testing.T) {
	p := New(func() *[]byte { b := make([]byte, 0, 16); return &b }, func(b *[]byte) { *b = (*b)[:0] })

	a := p.Get()
	*a = append(*a, 1, 2, 3)
	p.Put(a)

	allocated, inUse, hits, misses := p.Stats()
	assert.Equal(t, int64(1), allocated)
	assert.Equal(t, int64(0), inUse)
	assert.Equal(t, int64(1), hits+misses)
}

func TestBufferPoolBuckets(t *testing.T) {
	p := NewBufferPool()

	for _, tc := range []struct {
		size, capacity int
	}{
		{0, 4 << 10},
		{1, 4 << 10},
		{4 << 10, 4 << 10},
		{4<<10 + 1, 16 << 10},
		{8 << 20, 16 << 20},
		{64 << 20, 64 << 20},
	} {
		buf := p.Get(tc.size)
		assert.Len(t, buf, tc.size)
		assert.Equal(t, tc.capacity, cap(buf))
		p.Put(buf)
	}

	// Buffers from elsewhere are ignored.
	p.Put(make([]byte, 100))
}

func TestSharedBufferPoolConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				buf := GetBuffer(1024 * (i + 1))
				buf[0] = byte(i)
				PutBuffer(buf)
			}
		}(i)
	}
	wg.Wait()
}
