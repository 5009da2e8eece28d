// Package scheduler provides the ActiveLineageSampler strategies: Classical,
// Gillespie and Independent.
package scheduler

import (
	"fmt"

	"github.com/inference-sim/coalescence-sim/sim"
	"github.com/inference-sim/coalescence-sim/sim/habitat"
	"github.com/inference-sim/coalescence-sim/sim/store"
)

// Classical picks a uniformly random active lineage for every event. With a
// uniform turnover rate every lineage acts at the same rate, so the waiting
// time until the next event is exponential with rate turnover * active.
// Selection indexes the store's flat array of active lineages.
//
// Thread-safety: NOT thread-safe.
type Classical struct {
	store *store.GloballyCoherent
	rate  float64

	lastEventTime float64
	nextEventTime *float64
}

// NewClassical requires a uniform turnover rate.
func NewClassical(s *store.GloballyCoherent, turnover sim.TurnoverRate) (*Classical, error) {
	uniform, ok := turnover.(*habitat.UniformTurnoverRate)
	if !ok {
		return nil, fmt.Errorf("classical strategy requires a uniform turnover rate, got %T", turnover)
	}
	return &Classical{store: s, rate: uniform.Rate()}, nil
}

func (c *Classical) NumberActiveLineages() int { return c.store.Len() }

func (c *Classical) LastEventTime() float64 { return c.lastEventTime }

func (c *Classical) PeekTimeOfNextEvent(rng sim.RNG) (float64, bool) {
	if c.store.Len() == 0 {
		return 0, false
	}
	if c.nextEventTime == nil {
		lambda := c.rate * float64(c.store.Len())
		t := sim.NextAfter(c.lastEventTime, c.lastEventTime+sim.SampleExponential(rng, lambda))
		c.nextEventTime = &t
	}
	return *c.nextEventTime, true
}

func (c *Classical) PopNextActiveLineageAndEventTime(rng sim.RNG) (sim.Lineage, float64, bool) {
	t, ok := c.PeekTimeOfNextEvent(rng)
	if !ok {
		return sim.Lineage{}, 0, false
	}
	ref := c.store.ActiveAt(int(sim.SampleIndex(rng, uint64(c.store.Len()))))

	c.lastEventTime = t
	c.nextEventTime = nil
	return c.store.Extract(ref), t, true
}

func (c *Classical) AddLineage(lineage sim.Lineage, _ sim.RNG) {
	c.store.Insert(lineage)
	if lineage.LastEventTime > c.lastEventTime {
		c.lastEventTime = lineage.LastEventTime
	}
	c.nextEventTime = nil
}

// ActiveLineages lists the lineages in selection order.
func (c *Classical) ActiveLineages() []sim.Lineage {
	lineages := make([]sim.Lineage, 0, c.store.Len())
	for i := 0; i < c.store.Len(); i++ {
		l, _ := c.store.Get(c.store.ActiveAt(i))
		lineages = append(lineages, l)
	}
	return lineages
}

func (c *Classical) Snapshot() sim.SamplerState {
	return sim.SamplerState{
		LastEventTime: c.lastEventTime,
		NextEventTime: copyTime(c.nextEventTime),
		Lineages:      c.ActiveLineages(),
	}
}

// Restore rebuilds the store's resident lists in their original order and then
// the selection order recorded in the snapshot.
func (c *Classical) Restore(state sim.SamplerState) {
	if c.store.Len() != 0 {
		panic("scheduler: restoring into a non-empty classical sampler")
	}
	refs := restoreStore(c.store, state.Lineages)
	order := make([]sim.LineageRef, 0, len(state.Lineages))
	for _, l := range state.Lineages {
		order = append(order, refs[l.GlobalReference])
	}
	c.store.SetActiveOrder(order)
	c.lastEventTime = state.LastEventTime
	c.nextEventTime = copyTime(state.NextEventTime)
}

// restoreStore inserts lineages by indexed location so that every resident
// list is rebuilt in its recorded order.
func restoreStore(s sim.LineageStore, lineages []sim.Lineage) map[sim.GlobalReference]sim.LineageRef {
	sorted := append([]sim.Lineage(nil), lineages...)
	store.SortByIndexedLocation(sorted)
	refs := make(map[sim.GlobalReference]sim.LineageRef, len(sorted))
	for _, l := range sorted {
		ref := s.Insert(l)
		if stored, _ := s.Get(ref); stored.IndexedLocation != l.IndexedLocation {
			panic(fmt.Sprintf("scheduler: snapshot of %s has non-contiguous index %s", l.GlobalReference, l.IndexedLocation))
		}
		refs[l.GlobalReference] = ref
	}
	return refs
}

func copyTime(t *float64) *float64 {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
