package rwlock

import "sync"

// Std adapts sync.RWMutex. Unlike the other variants it is writer-preferring.
type Std struct {
	mu sync.RWMutex
}

// NewStd creates a Std lock.
func NewStd() *Std {
	return &Std{}
}

// NewReader returns a view over the lock.
func (l *Std) NewReader() Reader {
	return sharedReader{l: l}
}

// Kind returns KindStd.
func (l *Std) Kind() Kind {
	return KindStd
}

func (l *Std) rlock()   { l.mu.RLock() }
func (l *Std) runlock() { l.mu.RUnlock() }

// Lock acquires the write lock.
func (l *Std) Lock() { l.mu.Lock() }

// Unlock releases the write lock.
func (l *Std) Unlock() { l.mu.Unlock() }
