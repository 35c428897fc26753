// Package shutdown provides a single-producer/many-consumer signal: one
// call to Signal notifies every goroutine waiting on Done, exactly once,
// no matter how many times Signal is called or from where.
package shutdown

import "sync"

// Broadcast is a one-shot shutdown signal. The zero value is not usable;
// construct with New.
type Broadcast struct {
	once sync.Once
	done chan struct{}
}

// New returns a Broadcast ready to receive a Signal.
func New() *Broadcast {
	return &Broadcast{done: make(chan struct{})}
}

// Signal requests shutdown. Safe to call from multiple goroutines or
// multiple times; only the first call has any effect.
func (b *Broadcast) Signal() {
	b.once.Do(func() { close(b.done) })
}

// Done returns a channel that closes the moment Signal is first called.
// Every consumer of the same Broadcast sees the same close.
func (b *Broadcast) Done() <-chan struct{} {
	return b.done
}

// Signaled reports whether Signal has been called, without blocking.
func (b *Broadcast) Signaled() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}
