package rwlock

import "sync/atomic"

const (
	tokenHeld int32 = 0
	tokenFree int32 = 1
)

// ExchangeBiased moves the bias token with an atomic exchange. A writer owns
// the lock once it swaps the free token out; it then drains readers. The
// same exchange serializes writers, so back-to-back writers hand over the
// token with one swap each instead of a mutex round trip plus a flag
// clear/set pair.
type ExchangeBiased struct {
	bias    atomic.Int32
	_       cacheLinePad
	readers atomic.Int64
	_       cacheLinePad
}

// NewExchangeBiased creates an ExchangeBiased lock with the token free.
func NewExchangeBiased() *ExchangeBiased {
	l := &ExchangeBiased{}
	l.bias.Store(tokenFree)
	return l
}

// NewReader returns a view over the lock.
func (l *ExchangeBiased) NewReader() Reader {
	return sharedReader{l: l}
}

// Kind returns KindExchangeBiased.
func (l *ExchangeBiased) Kind() Kind {
	return KindExchangeBiased
}

func (l *ExchangeBiased) rlock() {
	var b backoff
	for {
		if l.bias.Load() == tokenFree {
			l.readers.Add(1)
			if l.bias.Load() == tokenFree {
				return
			}
			l.readers.Add(-1)
		}
		b.wait()
	}
}

func (l *ExchangeBiased) runlock() {
	if l.readers.Add(-1) < 0 {
		l.readers.Add(1)
		panic("rwlock: RUnlock of unlocked ExchangeBiased")
	}
}

// Lock takes the bias token by exchange and waits for readers to drain.
func (l *ExchangeBiased) Lock() {
	var b backoff
	for l.bias.Load() != tokenFree || l.bias.Swap(tokenHeld) != tokenFree {
		b.wait()
	}
	b = backoff{}
	for l.readers.Load() != 0 {
		b.wait()
	}
}

// Unlock hands the token back.
func (l *ExchangeBiased) Unlock() {
	if l.bias.Swap(tokenFree) != tokenHeld {
		panic("rwlock: Unlock of unlocked ExchangeBiased")
	}
}
