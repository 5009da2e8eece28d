package store

import (
	"fmt"

	"github.com/inference-sim/coalescence-sim/sim"
)

// GloballyCoherent adds a flat array of all active lineages to the
// per-location lists, for O(1) selection across the whole population.
//
// Thread-safety: NOT thread-safe.
type GloballyCoherent struct {
	*LocallyCoherent
	active    []sim.LineageRef
	positions []int
}

// NewGloballyCoherent creates an empty store over h.
func NewGloballyCoherent(h sim.Habitat) *GloballyCoherent {
	return &GloballyCoherent{LocallyCoherent: NewLocallyCoherent(h)}
}

func (s *GloballyCoherent) Insert(lineage sim.Lineage) sim.LineageRef {
	ref := s.LocallyCoherent.Insert(lineage)
	for int(ref) >= len(s.positions) {
		s.positions = append(s.positions, -1)
	}
	s.positions[ref] = len(s.active)
	s.active = append(s.active, ref)
	return ref
}

func (s *GloballyCoherent) Extract(ref sim.LineageRef) sim.Lineage {
	lineage := s.LocallyCoherent.Extract(ref)
	pos := s.positions[ref]
	last := len(s.active) - 1
	if pos != last {
		moved := s.active[last]
		s.active[pos] = moved
		s.positions[moved] = pos
	}
	s.active = s.active[:last]
	s.positions[ref] = -1
	return lineage
}

// ActiveAt returns the i-th active lineage in the flat array.
func (s *GloballyCoherent) ActiveAt(i int) sim.LineageRef {
	return s.active[i]
}

// SetActiveOrder rearranges the flat array into order, which must be a
// permutation of the stored lineages.
func (s *GloballyCoherent) SetActiveOrder(order []sim.LineageRef) {
	if len(order) != len(s.active) {
		panic(fmt.Sprintf("store: active order has %d lineages, store has %d", len(order), len(s.active)))
	}
	for i, ref := range order {
		if ref < 0 || int(ref) >= len(s.positions) || s.positions[ref] < 0 {
			panic(fmt.Sprintf("store: active order names unknown lineage %d", ref))
		}
		s.active[i] = ref
		s.positions[ref] = i
	}
	for i, ref := range s.active {
		if s.positions[ref] != i {
			panic(fmt.Sprintf("store: active order repeats lineage %d", ref))
		}
	}
}
