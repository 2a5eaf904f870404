package dora

import (
	"sync"

	"github.com/GunterMueller/shore-kits/internal/countdown"
	"github.com/GunterMueller/shore-kits/internal/notifier"
)

// RVP is a rendezvous point: it joins the N actions of one decomposed
// transaction and reports the first error any of them posted, or nil if
// all N completed cleanly. Grounded on dora_tpcb_xct.cpp's final_au_rvp,
// which is exactly a countdown latch plus a stashed first error.
type RVP struct {
	latch *countdown.Latch

	mu  sync.Mutex
	err error

	done notifier.Notifier
}

// NewRVP returns an RVP awaiting actionCount action completions.
func NewRVP(actionCount int) *RVP {
	return &RVP{latch: countdown.New(actionCount)}
}

// Post records one action's completion (err == nil) or failure (err !=
// nil). Safe to call concurrently from every action's executing
// goroutine; exactly one call observes the RVP become ready and wakes
// Wait.
func (r *RVP) Post(err error) {
	terminal := r.latch.Post(err != nil)
	if err != nil {
		r.mu.Lock()
		if r.err == nil {
			r.err = err
		}
		r.mu.Unlock()
	}
	if terminal {
		r.done.Notify()
	}
}

// Wait blocks until the RVP reaches its terminal state, then returns the
// first error recorded (if any). The terminal state is reached when every
// action has posted success, or as soon as one action posts an error;
// in the error case Wait does not wait for the remaining actions.
func (r *RVP) Wait() error {
	r.done.Wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
