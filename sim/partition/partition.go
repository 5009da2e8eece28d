// Package partition runs a simulation split across several partitions of
// the habitat. Lineages that disperse across a subdomain boundary leave
// through a DomainEmigrationExit, travel through a Transport and re-enter
// through the target partition's BufferedImmigrationEntry.
//
// Two runners are provided. Lockstep advances the partition with the
// earliest pending event under a shared clock, which the classical and
// Gillespie strategies need for time-consistent immigration. Parallel runs
// every partition on its own goroutine and is only valid for the
// independent strategy, whose lineage trajectories do not depend on each
// other.
package partition

import (
	"github.com/inference-sim/coalescence-sim/sim"
)

// Partition wraps the Simulation of one subdomain together with its
// migration endpoints and reporter.
//
// Thread-safety: NOT thread-safe. All methods must be called from the same goroutine.
type Partition struct {
	rank     int
	sim      *sim.Simulation
	exit     *DomainEmigrationExit
	entry    *BufferedImmigrationEntry
	reporter sim.Reporter
}

// NewPartition creates a Partition. The simulation must have been built with
// exit as the emigration exit of its event sampler and entry as its
// immigration entry. A nil reporter discards all events.
func NewPartition(rank int, s *sim.Simulation, exit *DomainEmigrationExit,
	entry *BufferedImmigrationEntry, reporter sim.Reporter) *Partition {
	if reporter == nil {
		reporter = sim.NullReporter{}
	}
	return &Partition{rank: rank, sim: s, exit: exit, entry: entry, reporter: reporter}
}

// Rank returns the partition's rank.
func (p *Partition) Rank() int { return p.rank }

// Simulation returns the wrapped Simulation.
func (p *Partition) Simulation() *sim.Simulation { return p.sim }

// Reporter returns the partition's reporter.
func (p *Partition) Reporter() sim.Reporter { return p.reporter }

// Result summarises the partition's run so far.
func (p *Partition) Result() PartitionResult {
	return PartitionResult{
		Rank:             p.rank,
		LastEventTime:    p.sim.Active().LastEventTime(),
		Steps:            p.sim.Steps(),
		Emigrants:        p.exit.Total(),
		Immigrants:       p.entry.Total(),
		MigrationBalance: p.sim.MigrationBalance(),
	}
}

// step processes one event and returns how many lineages ended with it.
func (p *Partition) step() (retired uint64, progressed bool) {
	before := p.sim.Remaining()
	balance := p.sim.MigrationBalance()
	if !p.sim.Step(p.reporter) {
		return 0, false
	}
	// An emigrant leaves the partition without ending.
	emigrated := uint64(0)
	if p.sim.MigrationBalance() > balance {
		emigrated = 1
	}
	return before - p.sim.Remaining() - emigrated, true
}

func (p *Partition) deliver(lineages []sim.MigratingLineage) {
	for _, m := range lineages {
		p.entry.Schedule(m)
	}
}

// flush sends buffered emigrants to their target partitions, one batch per
// target in emission order.
func (p *Partition) flush(t *Transport) {
	emigrants := p.exit.TakeEmigrants()
	if len(emigrants) == 0 {
		return
	}
	batches := make(map[int][]sim.MigratingLineage)
	var order []int
	for _, e := range emigrants {
		if _, ok := batches[e.Rank]; !ok {
			order = append(order, e.Rank)
		}
		batches[e.Rank] = append(batches[e.Rank], e.Lineage)
	}
	for _, rank := range order {
		t.Send(p.rank, rank, batches[rank])
	}
}
