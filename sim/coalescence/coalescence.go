// Package coalescence decides whether a lineage arriving at a location merges
// with one of its residents.
//
// A uniform index is drawn over the location's capacity; if it falls on a
// resident, the arriving lineage coalesces with that resident. The
// coalescence probability is therefore residents / capacity.
package coalescence

import (
	"fmt"

	"github.com/inference-sim/coalescence-sim/sim"
)

func capacityAt(target sim.Location, h sim.Habitat) uint64 {
	capacity := h.CapacityAt(target)
	if capacity == 0 {
		panic(fmt.Sprintf("coalescence: sampling at non-habitat location %s", target))
	}
	return uint64(capacity)
}

// Unconditional resolves coalescence against a locally coherent store.
type Unconditional struct{}

// SampleInteractionAtLocation implements sim.CoalescenceSampler. Without
// coalescence, the lineage takes the next free index at target.
func (Unconditional) SampleInteractionAtLocation(target sim.Location, h sim.Habitat, store sim.LineageStore, sample float64) (sim.IndexedLocation, sim.Interaction) {
	residents := store.ReferencesAt(target)
	index := sim.IndexFromSample(sample, capacityAt(target, h))
	if index < uint64(len(residents)) {
		parent, ok := store.Get(residents[index])
		if !ok {
			panic(fmt.Sprintf("coalescence: stale resident reference at %s", target))
		}
		return sim.IndexedLocation{Location: target, Index: uint32(index)},
			sim.Interaction{Kind: sim.InteractionCoalescence, Parent: parent.GlobalReference}
	}
	return sim.IndexedLocation{Location: target, Index: uint32(len(residents))}, sim.Interaction{Kind: sim.InteractionNone}
}

// SampleOptionalCoalescenceAtLocation draws the coalescence sample from rng
// and returns the parent the lineage coalesces with, if any.
func (u Unconditional) SampleOptionalCoalescenceAtLocation(target sim.Location, h sim.Habitat, store sim.LineageStore, rng sim.RNG) (sim.GlobalReference, bool) {
	_, interaction := u.SampleInteractionAtLocation(target, h, store, sim.UniformClosedOpen(rng))
	return interaction.Parent, interaction.Kind == sim.InteractionCoalescence
}

// Conditional extends Unconditional with the queries used by rate-weighted
// strategies: the coalescence probability and a forced coalescence draw.
type Conditional struct {
	Unconditional
}

// CoalescenceProbabilityAt returns residents / capacity at target, not
// counting exclude when it resides there.
func (Conditional) CoalescenceProbabilityAt(target sim.Location, h sim.Habitat, store sim.LineageStore, exclude sim.GlobalReference) float64 {
	residents := store.ReferencesAt(target)
	count := 0
	for _, ref := range residents {
		if l, ok := store.Get(ref); ok && l.GlobalReference != exclude {
			count++
		}
	}
	return float64(count) / float64(capacityAt(target, h))
}

// SampleCoalescenceAtLocation picks the parent uniformly among the residents of
// target, for use once coalescence is known to happen (e.g. a full deme).
func (Conditional) SampleCoalescenceAtLocation(target sim.Location, store sim.LineageStore, rng sim.RNG) (sim.IndexedLocation, sim.Interaction) {
	residents := store.ReferencesAt(target)
	if len(residents) == 0 {
		panic(fmt.Sprintf("coalescence: forced coalescence at empty location %s", target))
	}
	index := sim.SampleIndex(rng, uint64(len(residents)))
	parent, _ := store.Get(residents[index])
	return sim.IndexedLocation{Location: target, Index: uint32(index)},
		sim.Interaction{Kind: sim.InteractionCoalescence, Parent: parent.GlobalReference}
}

// Independent draws the arriving lineage's index without consulting any
// store. Coalescence cannot be decided locally and is reported as maybe.
type Independent struct{}

// SampleInteractionAtLocation implements sim.CoalescenceSampler.
func (Independent) SampleInteractionAtLocation(target sim.Location, h sim.Habitat, _ sim.LineageStore, sample float64) (sim.IndexedLocation, sim.Interaction) {
	index := sim.IndexFromSample(sample, capacityAt(target, h))
	return sim.IndexedLocation{Location: target, Index: uint32(index)}, sim.Interaction{Kind: sim.InteractionMaybe}
}
