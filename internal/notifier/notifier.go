// Package notifier implements a single-bit event with optional cancel, used
// to wake a worker thread blocked waiting on a commit request or on a
// transaction's rendezvous point. Notify and Cancel are idempotent and coalesce: any number of
// calls before a Wait collapse into the first one that lands.
package notifier

import "sync"

// Notifier is a single-bit, infallible wait/notify/cancel primitive.
// The zero value is ready to use.
type Notifier struct {
	once sync.Once
	done chan struct{}
	mu   sync.Mutex

	notified  bool
	cancelled bool
}

func (n *Notifier) init() {
	n.once.Do(func() {
		n.done = make(chan struct{})
	})
}

// Notify sets the notified flag and wakes any waiter. Safe to call multiple
// times or concurrently with Cancel; only the first call of either has any
// effect.
func (n *Notifier) Notify() {
	n.init()
	n.mu.Lock()
	first := !n.notified && !n.cancelled
	if first {
		n.notified = true
	}
	n.mu.Unlock()
	if first {
		close(n.done)
	}
}

// Cancel sets the cancelled flag and wakes any waiter. Safe to call
// multiple times or concurrently with Notify; only the first call of
// either has any effect.
func (n *Notifier) Cancel() {
	n.init()
	n.mu.Lock()
	first := !n.notified && !n.cancelled
	if first {
		n.cancelled = true
	}
	n.mu.Unlock()
	if first {
		close(n.done)
	}
}

// Wait blocks until either Notify or Cancel is called, returning true if it
// woke due to Notify, false if it woke due to Cancel. Wait never errors:
// the two flags are the only discriminated outcomes.
func (n *Notifier) Wait() (notified bool) {
	n.init()
	<-n.done
	n.mu.Lock()
	notified = n.notified
	n.mu.Unlock()
	return notified
}
