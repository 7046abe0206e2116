// Package txn tracks which table versions are still being read.
//
// Every commit publishes a new txn number. A scan pins the txn of the
// snapshot it reads for as long as it touches column files, and files that
// a newer txn made obsolete (raw column files superseded by verified
// compressed artifacts) are removed only once no scan is pinned below that
// txn.
package txn

import (
	"errors"
	"math"
	"sync/atomic"

	"github.com/ajitpratap0/strata/pkg/strataerrors"
)

var (
	// ErrTxnTooOld is returned when the txn is below the oldest txn still
	// tracked. The caller should take a fresh snapshot and retry.
	ErrTxnTooOld = errors.New("txn is older than the scoreboard minimum")
	// ErrScoreboardFull is returned when the txn is too far ahead of the
	// oldest pinned txn to fit in the ring.
	ErrScoreboardFull = errors.New("txn scoreboard is full")
)

// DefaultEntries is the ring size used by tables.
const DefaultEntries = 1024

const unset = math.MaxInt64

// Scoreboard is a fixed ring of reader counters indexed by txn. Only txns in
// [Min, Min+entries) can be pinned; Min advances past txns whose count drops
// to zero.
//
// Acquire and Release are lock-free. Advancing Min is guarded by a version
// counter that is odd while an update is in progress, so an Acquire racing
// with an advance either lands above the new minimum or rolls back.
type Scoreboard struct {
	mask       int64
	size       int64
	max        atomic.Int64
	min        atomic.Int64
	minVersion atomic.Uint64
	counts     []atomic.Int32
}

// New creates a scoreboard with the given number of entries, which must be a
// power of two.
func New(entries int) (*Scoreboard, error) {
	if entries <= 0 || entries&(entries-1) != 0 {
		return nil, strataerrors.Newf(strataerrors.ErrorTypeValidation,
			"scoreboard entries must be a positive power of two, got %d", entries)
	}
	s := &Scoreboard{
		mask:   int64(entries - 1),
		size:   int64(entries),
		counts: make([]atomic.Int32, entries),
	}
	s.min.Store(unset)
	return s, nil
}

func (s *Scoreboard) counter(txn int64) *atomic.Int32 {
	return &s.counts[txn&s.mask]
}

// Acquire pins txn.
func (s *Scoreboard) Acquire(txn int64) error {
	if txn < 0 {
		return strataerrors.Newf(strataerrors.ErrorTypeValidation, "negative txn %d", txn)
	}

	min := s.min.Load()
	if min == unset && s.min.CompareAndSwap(unset, txn) {
		min = txn
	} else if min == unset {
		min = s.min.Load()
	}

	if txn < min {
		return ErrTxnTooOld
	}
	if txn-min >= s.size {
		s.advanceMin(txn)
		min = s.min.Load()
	}
	if txn-min >= s.size {
		return ErrScoreboardFull
	}

	if !s.increment(txn) {
		return ErrTxnTooOld
	}
	s.raiseMax(txn)
	return nil
}

func (s *Scoreboard) increment(txn int64) bool {
	for {
		version := s.minVersion.Load()
		for version&1 == 1 {
			version = s.minVersion.Load()
		}

		if s.min.Load() > txn {
			return false
		}

		c := s.counter(txn)
		c.Add(1)
		if s.minVersion.Load() == version {
			return true
		}
		// The minimum moved while we incremented; undo and re-check.
		c.Add(-1)
	}
}

func (s *Scoreboard) raiseMax(txn int64) {
	for {
		current := s.max.Load()
		if txn <= current || s.max.CompareAndSwap(current, txn) {
			return
		}
	}
}

// advanceMin moves the minimum past txns with no readers, stopping at
// limit. If another goroutine is already advancing it, this is a no-op.
func (s *Scoreboard) advanceMin(limit int64) {
	version := s.minVersion.Load()
	if version&1 != 0 || !s.minVersion.CompareAndSwap(version, version+1) {
		return
	}

	min := s.min.Load()
	for min < limit && s.counter(min).Load() == 0 {
		min++
	}
	s.min.Store(min)
	s.minVersion.Store(version + 2)
}

// Release unpins txn. It panics if txn is not pinned.
func (s *Scoreboard) Release(txn int64) {
	n := s.counter(txn).Add(-1)
	if n < 0 {
		s.counter(txn).Add(1)
		panic("txn: release of txn that is not acquired")
	}
	if n > 0 {
		return
	}
	min, max := s.min.Load(), s.max.Load()
	if txn == min || txn == max {
		s.advanceMin(max)
	}
}

// Count returns the number of readers pinning txn.
func (s *Scoreboard) Count(txn int64) int {
	if min := s.min.Load(); min == unset || txn < min {
		return 0
	}
	return int(s.counter(txn).Load())
}

// Min returns the oldest txn that may still be pinned, or -1 if nothing has
// ever been acquired.
func (s *Scoreboard) Min() int64 {
	min := s.min.Load()
	if min == unset {
		return -1
	}
	return min
}

// ActiveBefore reports whether any reader pins a txn older than txn.
func (s *Scoreboard) ActiveBefore(txn int64) bool {
	min := s.min.Load()
	if min == unset {
		return false
	}
	end := txn
	if max := s.max.Load() + 1; max < end {
		end = max
	}
	if end > min+s.size {
		end = min + s.size
	}
	for t := min; t < end; t++ {
		if s.counter(t).Load() > 0 {
			return true
		}
	}
	return false
}
