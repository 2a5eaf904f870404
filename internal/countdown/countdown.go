// Package countdown implements the atomic N-way join/error barrier used by
// multi-action transactions: a countdown latch packs a remaining count with
// a permanent error sentinel into a single atomic word, so racing posts
// never need a mutex or condition variable.
package countdown

import (
	"fmt"
	"sync/atomic"
)

// errored is a sentinel remaining-count value meaning "some caller already
// posted an error; the latch is permanently in its terminal error state."
const errored = -1

// Latch is an atomic countdown barrier. The zero value is not usable; build
// one with New. A Latch must not be copied after first use.
type Latch struct {
	state atomic.Int64
}

// New returns a Latch counting down from count, which must be positive.
func New(count int) *Latch {
	if count <= 0 {
		panic(fmt.Sprintf("countdown: count must be positive, got %d", count))
	}
	l := &Latch{}
	l.state.Store(int64(count))
	return l
}

// Post decrements the latch by one, or transitions it to the permanent
// error state if isError is true. It returns terminal=true for exactly one
// caller: whichever post observes the latch reach zero, or whichever post
// is the first to report an error. Every later post (after a terminal
// post) returns terminal=false.
//
// If any caller has posted with isError=true (including this call),
// errored reports true on every subsequent call, including the terminal
// one.
func (l *Latch) Post(isError bool) (terminal bool) {
	for {
		old := l.state.Load()
		if old == errored || old == 0 {
			// Someone already reached zero or errored and claimed terminal
			// status.
			return false
		}

		var next int64
		if isError {
			next = errored
		} else {
			next = old - 1
		}

		if l.state.CompareAndSwap(old, next) {
			if isError {
				return true
			}
			return next == 0
		}
		// lost the race, retry with the fresh value
	}
}

// Errored reports whether the latch has entered its permanent error state.
// Safe to call at any time, including after the terminal post.
func (l *Latch) Errored() bool {
	return l.state.Load() == errored
}

// Remaining reports the number of posts still outstanding, or -1 if the
// latch has entered the error state.
func (l *Latch) Remaining() int {
	v := l.state.Load()
	if v == errored {
		return -1
	}
	return int(v)
}
