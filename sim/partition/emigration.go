package partition

import "github.com/inference-sim/coalescence-sim/sim"

// Emigrant is a lineage leaving for the partition with the given rank.
type Emigrant struct {
	Rank    int
	Lineage sim.MigratingLineage
}

// DomainEmigrationExit hands lineages that disperse out of the partition's
// subdomain to the rank that owns their target location.
//
// Thread-safety: NOT thread-safe. Owned by one partition.
type DomainEmigrationExit struct {
	habitat       sim.Habitat
	decomposition sim.Decomposition
	emigrants     []Emigrant
	total         uint64
}

// NewDomainEmigrationExit creates the exit of the decomposition's own rank.
func NewDomainEmigrationExit(h sim.Habitat, d sim.Decomposition) *DomainEmigrationExit {
	return &DomainEmigrationExit{habitat: h, decomposition: d}
}

// OptionallyEmigrate implements sim.EmigrationExit.
func (e *DomainEmigrationExit) OptionallyEmigrate(m sim.MigratingLineage) bool {
	rank := e.decomposition.MapLocationToSubdomainRank(m.DispersalTarget, e.habitat)
	if rank == e.decomposition.Rank() {
		return true
	}
	e.emigrants = append(e.emigrants, Emigrant{Rank: rank, Lineage: m})
	e.total++
	return false
}

// TakeEmigrants returns the buffered emigrants in emission order and clears
// the buffer.
func (e *DomainEmigrationExit) TakeEmigrants() []Emigrant {
	emigrants := e.emigrants
	e.emigrants = nil
	return emigrants
}

// Total counts every lineage that has left through this exit.
func (e *DomainEmigrationExit) Total() uint64 { return e.total }
