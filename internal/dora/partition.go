// Package dora implements partitioned-data transaction routing: each data
// partition is owned by exactly one long-lived goroutine, so actions
// targeting the same partition execute strictly serially without any
// lock held across execution, only across enqueue.
//
// Grounded on the single-goroutine-per-partition worker loop pattern
// (input queue, serial work loop) adapted from a Kafka consumer-group
// partition worker, and on the original dora_tpcb_xct.cpp's
// enqueue-under-partition-lock sequence.
package dora

import (
	"sync"

	"github.com/GunterMueller/shore-kits/internal/errs"
	"github.com/GunterMueller/shore-kits/internal/telemetry"
)

// Partition owns one serial stream of Actions. Its enqueue lock protects
// only the pending queue, never action execution: Enqueue returns as soon
// as the action is queued, well before (or long after) it actually runs.
type Partition struct {
	id  int
	log telemetry.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*Action
	closed bool

	stoppedCh chan struct{}
}

// NewPartition constructs a Partition identified by id. Call Start before
// enqueuing any actions.
func NewPartition(id int, log telemetry.Logger) *Partition {
	p := &Partition{id: id, log: log, stoppedCh: make(chan struct{})}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// ID returns the partition's identifier.
func (p *Partition) ID() int { return p.id }

// Start launches the partition's worker goroutine.
func (p *Partition) Start() {
	go p.run()
}

// Enqueue appends a to the partition's queue and wakes the worker if it
// was idle. Returns ErrEnqueue once the partition has been closed.
func (p *Partition) Enqueue(a *Action) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errs.ErrEnqueue
	}
	p.queue = append(p.queue, a)
	p.cond.Signal()
	return nil
}

// Close marks the partition closed: already-queued actions still run to
// completion, but any further Enqueue call fails. Close does not block;
// use Stopped to wait for the worker to drain and exit.
func (p *Partition) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Stopped returns a channel closed once the worker goroutine has drained
// the queue after Close and exited.
func (p *Partition) Stopped() <-chan struct{} { return p.stoppedCh }

func (p *Partition) run() {
	defer close(p.stoppedCh)
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		a := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		a.execute()
	}
}
