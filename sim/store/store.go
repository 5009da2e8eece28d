// Package store provides the LineageStore implementations.
//
// Both stores keep an arena of lineages plus, for every occupied location, the
// list of its residents. The lineage at list position i always has
// IndexedLocation.Index == i.
package store

import (
	"fmt"
	"sort"

	"github.com/inference-sim/coalescence-sim/sim"
)

type slot struct {
	lineage sim.Lineage
	active  bool
}

// LocallyCoherent keeps per-location resident lists for local coalescence.
//
// Thread-safety: NOT thread-safe.
type LocallyCoherent struct {
	habitat   sim.Habitat
	slots     []slot
	free      []sim.LineageRef
	residents map[sim.Location][]sim.LineageRef
	len       int
}

// NewLocallyCoherent creates an empty store over h.
func NewLocallyCoherent(h sim.Habitat) *LocallyCoherent {
	return &LocallyCoherent{
		habitat:   h,
		residents: make(map[sim.Location][]sim.LineageRef),
	}
}

func (s *LocallyCoherent) Len() int { return s.len }

func (s *LocallyCoherent) Get(ref sim.LineageRef) (sim.Lineage, bool) {
	if ref < 0 || int(ref) >= len(s.slots) || !s.slots[ref].active {
		return sim.Lineage{}, false
	}
	return s.slots[ref].lineage, true
}

func (s *LocallyCoherent) ReferencesAt(l sim.Location) []sim.LineageRef {
	return s.residents[l]
}

func (s *LocallyCoherent) Insert(lineage sim.Lineage) sim.LineageRef {
	loc := lineage.IndexedLocation.Location
	list := s.residents[loc]
	if capacity := s.habitat.CapacityAt(loc); uint64(len(list)) >= uint64(capacity) {
		panic(fmt.Sprintf("store: inserting %s into full location %s (capacity %d)", lineage.GlobalReference, loc, capacity))
	}
	lineage.IndexedLocation.Index = uint32(len(list))

	var ref sim.LineageRef
	if n := len(s.free); n > 0 {
		ref = s.free[n-1]
		s.free = s.free[:n-1]
		s.slots[ref] = slot{lineage: lineage, active: true}
	} else {
		ref = sim.LineageRef(len(s.slots))
		s.slots = append(s.slots, slot{lineage: lineage, active: true})
	}
	s.residents[loc] = append(list, ref)
	s.len++
	return ref
}

func (s *LocallyCoherent) Extract(ref sim.LineageRef) sim.Lineage {
	lineage, ok := s.Get(ref)
	if !ok {
		panic(fmt.Sprintf("store: extracting inactive reference %d", ref))
	}
	loc := lineage.IndexedLocation.Location
	list := s.residents[loc]
	i := int(lineage.IndexedLocation.Index)
	if i >= len(list) || list[i] != ref {
		panic(fmt.Sprintf("store: %s is not at index %d of %s", lineage.GlobalReference, i, loc))
	}

	last := len(list) - 1
	if i != last {
		moved := list[last]
		list[i] = moved
		s.slots[moved].lineage.IndexedLocation.Index = uint32(i)
	}
	if last == 0 {
		delete(s.residents, loc)
	} else {
		s.residents[loc] = list[:last]
	}

	s.slots[ref] = slot{}
	s.free = append(s.free, ref)
	s.len--
	return lineage
}

func (s *LocallyCoherent) Lineages() []sim.Lineage {
	lineages := make([]sim.Lineage, 0, s.len)
	for _, sl := range s.slots {
		if sl.active {
			lineages = append(lineages, sl.lineage)
		}
	}
	SortByIndexedLocation(lineages)
	return lineages
}

// CheckInvariants verifies that every resident list agrees with the indexed
// locations stored in the arena.
func (s *LocallyCoherent) CheckInvariants() error {
	count := 0
	for loc, list := range s.residents {
		if uint64(len(list)) > uint64(s.habitat.CapacityAt(loc)) {
			return fmt.Errorf("%s holds %d lineages, capacity %d", loc, len(list), s.habitat.CapacityAt(loc))
		}
		for i, ref := range list {
			l, ok := s.Get(ref)
			if !ok {
				return fmt.Errorf("%s lists inactive reference %d", loc, ref)
			}
			if l.IndexedLocation.Location != loc || int(l.IndexedLocation.Index) != i {
				return fmt.Errorf("%s at position %d of %s has indexed location %s", l.GlobalReference, i, loc, l.IndexedLocation)
			}
			count++
		}
	}
	if count != s.len {
		return fmt.Errorf("resident lists hold %d lineages, store holds %d", count, s.len)
	}
	return nil
}

// SortByIndexedLocation orders lineages by row, column and index.
func SortByIndexedLocation(lineages []sim.Lineage) {
	sort.Slice(lineages, func(i, j int) bool {
		a, b := lineages[i].IndexedLocation, lineages[j].IndexedLocation
		if a.Location.Y != b.Location.Y {
			return a.Location.Y < b.Location.Y
		}
		if a.Location.X != b.Location.X {
			return a.Location.X < b.Location.X
		}
		return a.Index < b.Index
	})
}
