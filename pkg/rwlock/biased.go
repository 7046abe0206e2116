package rwlock

import (
	"sync"
	"sync/atomic"
)

// Biased lets readers in with a single atomic increment while the bias flag
// says no writer is present. A writer clears the flag, so new readers fall
// back to queueing on the writer mutex, then waits for the reader count to
// drain to zero.
type Biased struct {
	bias    atomic.Bool
	_       cacheLinePad
	readers atomic.Int64
	_       cacheLinePad
	writeMu sync.Mutex
}

// NewBiased creates a Biased lock with the bias set.
func NewBiased() *Biased {
	l := &Biased{}
	l.bias.Store(true)
	return l
}

// NewReader returns a view over the lock.
func (l *Biased) NewReader() Reader {
	return sharedReader{l: l}
}

// Kind returns KindBiased.
func (l *Biased) Kind() Kind {
	return KindBiased
}

func (l *Biased) rlock() {
	if l.bias.Load() {
		l.readers.Add(1)
		// The writer clears bias before reading the count, so if bias is
		// still set the writer will see this reader.
		if l.bias.Load() {
			return
		}
		l.readers.Add(-1)
	}

	// Slow path: a writer is present or draining. The writer restores bias
	// before releasing writeMu, so holding writeMu means no writer is active.
	l.writeMu.Lock()
	l.readers.Add(1)
	l.writeMu.Unlock()
}

func (l *Biased) runlock() {
	if l.readers.Add(-1) < 0 {
		l.readers.Add(1)
		panic("rwlock: RUnlock of unlocked Biased")
	}
}

// Lock revokes the bias and waits for active readers to drain.
func (l *Biased) Lock() {
	l.writeMu.Lock()
	l.bias.Store(false)
	var b backoff
	for l.readers.Load() != 0 {
		b.wait()
	}
}

// Unlock restores the bias and lets queued readers and writers in.
func (l *Biased) Unlock() {
	if l.bias.Load() {
		panic("rwlock: Unlock of unlocked Biased")
	}
	l.bias.Store(true)
	l.writeMu.Unlock()
}
