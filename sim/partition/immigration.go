package partition

import (
	"container/heap"
	"sort"

	"github.com/inference-sim/coalescence-sim/sim"
)

// immigrantHeap implements a priority queue with deterministic ordering.
// Ordering: event time → global reference
type immigrantHeap []sim.MigratingLineage

// Len implements heap.Interface
func (h immigrantHeap) Len() int { return len(h) }

// Less implements heap.Interface with deterministic ordering
func (h immigrantHeap) Less(i, j int) bool {
	return lessImmigrant(h[i], h[j])
}

func lessImmigrant(a, b sim.MigratingLineage) bool {
	// Primary: event time (earlier first)
	if a.EventTime != b.EventTime {
		return a.EventTime < b.EventTime
	}
	// Secondary: global reference (lower first, deterministic tie-breaker)
	return a.GlobalReference < b.GlobalReference
}

// Swap implements heap.Interface
func (h immigrantHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push implements heap.Interface
func (h *immigrantHeap) Push(x interface{}) {
	*h = append(*h, x.(sim.MigratingLineage))
}

// Pop implements heap.Interface
func (h *immigrantHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// BufferedImmigrationEntry holds arrived lineages until they are due.
//
// In ordered mode an immigrant is only released once the local clock would
// otherwise pass its event time, which keeps Classical and Gillespie
// partitions time-consistent. In immediate mode immigrants are released as
// soon as they arrive; the independent strategy needs no ordering.
//
// Thread-safety: NOT thread-safe. Owned by one partition.
type BufferedImmigrationEntry struct {
	pending   immigrantHeap
	immediate bool
	total     uint64
}

// NewBufferedImmigrationEntry creates an ordered immigration entry.
func NewBufferedImmigrationEntry() *BufferedImmigrationEntry {
	return &BufferedImmigrationEntry{}
}

// NewImmediateImmigrationEntry creates an entry that releases immigrants in
// arrival order without waiting for the local clock.
func NewImmediateImmigrationEntry() *BufferedImmigrationEntry {
	return &BufferedImmigrationEntry{immediate: true}
}

// Schedule buffers an arrived lineage.
func (e *BufferedImmigrationEntry) Schedule(m sim.MigratingLineage) {
	if e.immediate {
		e.pending = append(e.pending, m)
	} else {
		heap.Push(&e.pending, m)
	}
	e.total++
}

// NextOptionalImmigration implements sim.ImmigrationEntry.
func (e *BufferedImmigrationEntry) NextOptionalImmigration(nextEventTime float64, hasNext bool) (sim.MigratingLineage, bool) {
	if len(e.pending) == 0 {
		return sim.MigratingLineage{}, false
	}
	if e.immediate {
		m := e.pending[0]
		e.pending = e.pending[1:]
		return m, true
	}
	if hasNext && e.pending[0].EventTime > nextEventTime {
		return sim.MigratingLineage{}, false
	}
	return heap.Pop(&e.pending).(sim.MigratingLineage), true
}

// Peek implements sim.ImmigrationEntry.
func (e *BufferedImmigrationEntry) Peek() (sim.MigratingLineage, bool) {
	if len(e.pending) == 0 {
		return sim.MigratingLineage{}, false
	}
	return e.pending[0], true
}

// Pending implements sim.ImmigrationEntry.
func (e *BufferedImmigrationEntry) Pending() int { return len(e.pending) }

// PendingLineages returns the buffered immigrants in release order.
func (e *BufferedImmigrationEntry) PendingLineages() []sim.MigratingLineage {
	lineages := append([]sim.MigratingLineage(nil), e.pending...)
	if !e.immediate {
		sort.Slice(lineages, func(i, j int) bool { return lessImmigrant(lineages[i], lineages[j]) })
	}
	return lineages
}

// Total counts every lineage that has arrived through this entry.
func (e *BufferedImmigrationEntry) Total() uint64 { return e.total }
