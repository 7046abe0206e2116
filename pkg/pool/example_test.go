package pool_test

import (
	"fmt"

	"github.com/ajitpratap0/strata/pkg/pool"
)

// ExampleNew demonstrates creating and using a generic pool.
func ExampleNew() {
	type staged struct {
		values []int64
	}

	rows := pool.New(
		func() *staged {
			return &staged{values: make([]int64, 0, 8)}
		},
		func(s *staged) {
			s.values = s.values[:0]
		},
	)

	s := rows.Get()
	s.values = append(s.values, 7, 3)
	fmt.Println(len(s.values))
	rows.Put(s)

	allocated, inUse, _, _ := rows.Stats()
	fmt.Println(allocated, inUse)

	// Output:
	// 2
	// 1 0
}

// ExampleBufferPool shows bucket selection.
func ExampleBufferPool() {
	p := pool.NewBufferPool()

	buf := p.Get(5000)
	fmt.Println(len(buf), cap(buf))
	p.Put(buf)

	huge := p.Get(100 << 20)
	fmt.Println(len(huge) == cap(huge))

	// Output:
	// 5000 16384
	// true
}
