package dora

import (
	"fmt"

	"github.com/GunterMueller/shore-kits/internal/telemetry"
)

// Router owns a fixed set of Partitions and dispatches Actions to the one
// each targets. A Router is the unit of lifetime management: Close stops
// every partition's worker.
type Router struct {
	partitions []*Partition
}

// NewRouter constructs a Router with n partitions, numbered 0..n-1, and
// starts each partition's worker goroutine.
func NewRouter(n int, log telemetry.Logger) *Router {
	r := &Router{partitions: make([]*Partition, n)}
	for i := 0; i < n; i++ {
		p := NewPartition(i, telemetry.New(fmt.Sprintf("dora-partition-%d", i)))
		p.Start()
		r.partitions[i] = p
	}
	return r
}

// NumPartitions returns the number of partitions the router owns.
func (r *Router) NumPartitions() int { return len(r.partitions) }

// Partition returns the partition with the given id, panicking if id is
// out of range.
func (r *Router) Partition(id int) *Partition {
	return r.partitions[id]
}

// Enqueue routes a to the partition it names.
func (r *Router) Enqueue(a *Action) error {
	return r.partitions[a.Partition].Enqueue(a)
}

// Dispatch enqueues every action in actions, in order. If an enqueue
// fails partway through (the router is shutting down), every action from
// that point on — including the one that failed to enqueue — is posted
// to its RVP with the enqueue error directly, without running, so the
// transaction's RVP still reaches its terminal state.
func (r *Router) Dispatch(actions []*Action) error {
	for i, a := range actions {
		if err := r.Enqueue(a); err != nil {
			for _, remaining := range actions[i:] {
				remaining.rvp.Post(err)
			}
			return err
		}
	}
	return nil
}

// Close stops every partition; already-queued actions still run first.
func (r *Router) Close() {
	for _, p := range r.partitions {
		p.Close()
	}
	for _, p := range r.partitions {
		<-p.Stopped()
	}
}
