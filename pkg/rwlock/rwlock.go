// Package rwlock provides reader-writer locks for metadata that is read far
// more often than it is written: a table's committed row count, txn and
// compression state are read by every scan and written once per commit.
//
// All variants implement RWLock and share one contract: any number of
// readers may hold the lock together, at most one writer holds it, and a
// writer never overlaps a reader. None of them is write-preferring; under
// a continuous stream of readers a writer may wait indefinitely. That is
// accepted for read-dominated metadata and is not a bug.
//
// Readers register once through NewReader and reuse the returned Reader
// from a single goroutine. For ThreadLocalBiased the Reader owns a private
// slot, which is what keeps its read path off shared cache lines; for the
// other variants the Reader is a thin view over the shared lock.
//
// # Choosing a variant
//
//	Simple            baseline; every reader mutates shared state under a mutex
//	Biased            lock-free reader fast path while no writer is present
//	ExchangeBiased    Biased with the bias token handed over by atomic swap
//	ThreadLocalBiased per-reader flags; cheapest reads, most expensive writes
//	Std               sync.RWMutex, for comparison
//
// Selection is a tuning decision; all variants pass the same mutual
// exclusion tests.
package rwlock

import (
	"runtime"
	"strings"
	"time"

	"github.com/ajitpratap0/strata/pkg/strataerrors"
)

// RWLock is the capability shared by every lock variant.
type RWLock interface {
	// NewReader registers a reader. The returned Reader must be used by one
	// goroutine at a time and closed when no longer needed.
	NewReader() Reader
	// Lock acquires the lock for writing, waiting for readers to drain.
	Lock()
	// Unlock releases the write lock.
	Unlock()
	// Kind reports the variant.
	Kind() Kind
}

// Reader is a registered read handle.
type Reader interface {
	RLock()
	RUnlock()
	// Close deregisters the reader. It must not hold the read lock.
	Close()
}

// Kind selects a lock variant.
type Kind string

const (
	KindSimple            Kind = "simple"
	KindBiased            Kind = "biased"
	KindExchangeBiased    Kind = "xbiased"
	KindThreadLocalBiased Kind = "tlbiased"
	KindStd               Kind = "std"
)

// Kinds lists every variant, in the order the lock benchmark reports them.
func Kinds() []Kind {
	return []Kind{KindStd, KindSimple, KindBiased, KindExchangeBiased, KindThreadLocalBiased}
}

// ParseKind parses a variant name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", strataerrors.Newf(strataerrors.ErrorTypeConfig, "unknown lock kind %q", s)
}

// New creates a lock of the given kind.
func New(kind Kind) (RWLock, error) {
	switch kind {
	case KindSimple:
		return NewSimple(), nil
	case KindBiased:
		return NewBiased(), nil
	case KindExchangeBiased:
		return NewExchangeBiased(), nil
	case KindThreadLocalBiased:
		return NewThreadLocalBiased(), nil
	case KindStd:
		return NewStd(), nil
	default:
		return nil, strataerrors.Newf(strataerrors.ErrorTypeConfig, "unknown lock kind %q", string(kind))
	}
}

// sharedLock is implemented by variants whose readers need no private state.
type sharedLock interface {
	rlock()
	runlock()
}

type sharedReader struct {
	l sharedLock
}

func (r sharedReader) RLock()   { r.l.rlock() }
func (r sharedReader) RUnlock() { r.l.runlock() }
func (r sharedReader) Close()   {}

// backoff yields the processor, then sleeps with a growing delay.
type backoff struct {
	n int
}

const (
	yieldLimit = 64
	maxSleep   = 100 * time.Microsecond
)

func (b *backoff) wait() {
	b.n++
	if b.n <= yieldLimit {
		runtime.Gosched()
		return
	}
	d := time.Duration(b.n-yieldLimit) * time.Microsecond
	if d > maxSleep {
		d = maxSleep
	}
	time.Sleep(d)
}

// cacheLinePad keeps hot atomics on separate cache lines.
type cacheLinePad struct {
	_ [64]byte
}
