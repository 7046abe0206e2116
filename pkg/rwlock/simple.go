package rwlock

import "sync"

// Simple counts active readers and flags the writer, both under a mutex.
// Readers only wait while a writer holds the lock, so it is reader-preferring.
type Simple struct {
	mu      sync.Mutex
	cond    sync.Cond
	readers int
	writer  bool
}

// NewSimple creates a Simple lock.
func NewSimple() *Simple {
	l := &Simple{}
	l.cond.L = &l.mu
	return l
}

// NewReader returns a view over the lock.
func (l *Simple) NewReader() Reader {
	return sharedReader{l: l}
}

// Kind returns KindSimple.
func (l *Simple) Kind() Kind {
	return KindSimple
}

func (l *Simple) rlock() {
	l.mu.Lock()
	for l.writer {
		l.cond.Wait()
	}
	l.readers++
	l.mu.Unlock()
}

func (l *Simple) runlock() {
	l.mu.Lock()
	if l.readers == 0 {
		l.mu.Unlock()
		panic("rwlock: RUnlock of unlocked Simple")
	}
	l.readers--
	if l.readers == 0 {
		l.cond.Broadcast()
	}
	l.mu.Unlock()
}

// Lock waits until there is neither a writer nor any reader.
func (l *Simple) Lock() {
	l.mu.Lock()
	for l.writer || l.readers > 0 {
		l.cond.Wait()
	}
	l.writer = true
	l.mu.Unlock()
}

// Unlock releases the write lock and wakes all waiters.
func (l *Simple) Unlock() {
	l.mu.Lock()
	if !l.writer {
		l.mu.Unlock()
		panic("rwlock: Unlock of unlocked Simple")
	}
	l.writer = false
	l.cond.Broadcast()
	l.mu.Unlock()
}
