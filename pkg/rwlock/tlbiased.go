package rwlock

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// slot is one reader's private "currently reading" flag, padded so that no
// two readers share a cache line.
type slot struct {
	_       cacheLinePad
	reading atomic.Int32
	_       cacheLinePad
}

// ThreadLocalBiased gives every registered reader its own flag. Read
// acquire and release store only to that flag and load the writer flag,
// which stays in every core's cache while no writer is active. A writer
// raises the writer flag, holds the registry so no reader registers
// mid-scan, and waits until every registered flag is clear.
type ThreadLocalBiased struct {
	writer  atomic.Bool
	_       cacheLinePad
	writeMu sync.Mutex

	regMu sync.Mutex
	slots []*slot
	free  []*slot
}

// NewThreadLocalBiased creates a ThreadLocalBiased lock.
func NewThreadLocalBiased() *ThreadLocalBiased {
	return &ThreadLocalBiased{}
}

// Kind returns KindThreadLocalBiased.
func (l *ThreadLocalBiased) Kind() Kind {
	return KindThreadLocalBiased
}

// NewReader registers a private slot. The slot is released by Close, or when
// an unclosed Reader becomes unreachable.
func (l *ThreadLocalBiased) NewReader() Reader {
	l.regMu.Lock()
	var s *slot
	if n := len(l.free); n > 0 {
		s = l.free[n-1]
		l.free = l.free[:n-1]
	} else {
		s = &slot{}
	}
	l.slots = append(l.slots, s)
	l.regMu.Unlock()

	r := &tlReader{l: l, s: s}
	runtime.SetFinalizer(r, (*tlReader).release)
	return r
}

// Registered returns the number of registered readers.
func (l *ThreadLocalBiased) Registered() int {
	l.regMu.Lock()
	defer l.regMu.Unlock()
	return len(l.slots)
}

func (l *ThreadLocalBiased) deregister(s *slot) {
	l.regMu.Lock()
	defer l.regMu.Unlock()
	for i, registered := range l.slots {
		if registered == s {
			last := len(l.slots) - 1
			l.slots[i] = l.slots[last]
			l.slots[last] = nil
			l.slots = l.slots[:last]
			s.reading.Store(0)
			l.free = append(l.free, s)
			return
		}
	}
}

// Lock raises the writer flag and waits for every registered reader to
// leave.
func (l *ThreadLocalBiased) Lock() {
	l.writeMu.Lock()
	l.writer.Store(true)

	l.regMu.Lock()
	var b backoff
	for _, s := range l.slots {
		for s.reading.Load() != 0 {
			b.wait()
		}
	}
	l.regMu.Unlock()
}

// Unlock lowers the writer flag.
func (l *ThreadLocalBiased) Unlock() {
	if !l.writer.Load() {
		panic("rwlock: Unlock of unlocked ThreadLocalBiased")
	}
	l.writer.Store(false)
	l.writeMu.Unlock()
}

type tlReader struct {
	l      *ThreadLocalBiased
	s      *slot
	closed bool
}

func (r *tlReader) RLock() {
	if r.closed {
		panic("rwlock: RLock on closed reader")
	}
	for {
		r.s.reading.Store(1)
		// The writer raises its flag before scanning slots, so either it
		// sees this flag or this load sees its flag.
		if !r.l.writer.Load() {
			return
		}
		r.s.reading.Store(0)
		var b backoff
		for r.l.writer.Load() {
			b.wait()
		}
	}
}

func (r *tlReader) RUnlock() {
	if r.s.reading.Swap(0) != 1 {
		panic("rwlock: RUnlock of unlocked ThreadLocalBiased reader")
	}
}

func (r *tlReader) Close() {
	if r.closed {
		return
	}
	if r.s.reading.Load() != 0 {
		panic("rwlock: Close of reader holding the read lock")
	}
	runtime.SetFinalizer(r, nil)
	r.release()
}

// release returns the slot to the registry. When called from the finalizer
// the reader is unreachable, so it can no longer be inside a read section.
func (r *tlReader) release() {
	r.closed = true
	r.l.deregister(r.s)
}
