package tuplefifo

import "sync"

// Stats are the per-FIFO counters described by the spec: waits on
// insert/remove, reached-disk vs stayed-in-memory, termination location,
// and whether the FIFO was ever marked shared.
type Stats struct {
	WaitsOnInsert      uint64
	WaitsOnRemove      uint64
	ReachedDisk        bool
	StayedInMemory     bool
	TerminatedInMemory bool
	TerminatedOnDisk   bool
	Shared             bool
}

// globalStats folds per-FIFO counters into process-wide totals on
// destruction, guarded by a dedicated lock (touched only at FIFO
// create/destroy, per the spec's shared-resource policy).
type globalStats struct {
	mu                      sync.Mutex
	openCount               int
	created                 int
	destroyed               int
	experiencedReadWait     int
	experiencedWriteWait    int
	experiencedWait         int
	stayedInMemory          int
	terminatedInMemory      int
	terminatedOnDisk        int
	shared                  int
}

var global globalStats

func (g *globalStats) onCreate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.openCount++
	g.created++
}

func (g *globalStats) onDestroy(s Stats) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.openCount--
	g.destroyed++
	if s.WaitsOnRemove > 0 {
		g.experiencedReadWait++
	}
	if s.WaitsOnInsert > 0 {
		g.experiencedWriteWait++
	}
	if s.WaitsOnInsert > 0 || s.WaitsOnRemove > 0 {
		g.experiencedWait++
	}
	if s.StayedInMemory {
		g.stayedInMemory++
	}
	if s.TerminatedInMemory {
		g.terminatedInMemory++
	}
	if s.TerminatedOnDisk {
		g.terminatedOnDisk++
	}
	if s.Shared {
		g.shared++
	}
}

// Snapshot summarizes the process-wide folded statistics as a Stats value:
// StayedInMemory, TerminatedInMemory, TerminatedOnDisk and Shared are each
// true if at least one destroyed FIFO had that flag set. WaitsOnInsert,
// WaitsOnRemove and ReachedDisk are always left zero, and the per-kind
// counts themselves are not returned.
func Snapshot() Stats {
	global.mu.Lock()
	defer global.mu.Unlock()
	return Stats{
		StayedInMemory:     global.stayedInMemory > 0,
		TerminatedInMemory: global.terminatedInMemory > 0,
		TerminatedOnDisk:   global.terminatedOnDisk > 0,
		Shared:             global.shared > 0,
	}
}
