package scheduler

import (
	"fmt"

	"github.com/inference-sim/coalescence-sim/sim"
	"github.com/inference-sim/coalescence-sim/sim/habitat"
)

// Gillespie samples the continuous-time Markov chain of all active lineages.
// Each location fires at rate turnover * residents; the next event time is
// exponential in the total rate and the firing location is chosen with
// probability proportional to its rate, then a resident uniformly at random.
// Events are popped in strictly increasing time order.
//
// Thread-safety: NOT thread-safe.
type Gillespie struct {
	habitat sim.Habitat
	store   sim.GloballyCoherentLineageStore
	extent  sim.Extent

	// turnover[i] is the turnover rate of the cell with linear index i.
	turnover []float64
	rates    *rateTree
	events   EventProbability

	lastEventTime float64
	nextEventTime *float64
}

// EventProbability is the chance that a lineage at l with others co-residents
// takes an event when its location turns over.
type EventProbability interface {
	EventProbabilityAt(l sim.Location, others int) float64
}

// NewGillespie precomputes the per-location turnover rates.
func NewGillespie(h sim.Habitat, s sim.GloballyCoherentLineageStore, turnover sim.TurnoverRate) *Gillespie {
	e := h.Extent()
	g := &Gillespie{
		habitat:  h,
		store:    s,
		extent:   e,
		turnover: make([]float64, e.Area()),
		rates:    newRateTree(int(e.Area())),
	}
	habitat.ForEachHabitable(h, func(l sim.Location, _ uint32) {
		g.turnover[e.LinearIndex(l)] = turnover.TurnoverRateAt(l, h)
	})
	return g
}

// TotalRate returns the current global event rate.
func (g *Gillespie) TotalRate() float64 {
	return g.rates.total()
}

// RateAt returns the current event rate of one location.
func (g *Gillespie) RateAt(l sim.Location) float64 {
	return g.rates.weight(int(g.extent.LinearIndex(l)))
}

// SetEventProbability thins every location's rate by p, for event samplers
// that skip events which leave the population unchanged. It must be called
// before any lineage is added.
func (g *Gillespie) SetEventProbability(p EventProbability) {
	if g.store.Len() != 0 {
		panic("scheduler: setting the event probability of a populated gillespie sampler")
	}
	g.events = p
}

func (g *Gillespie) updateRate(l sim.Location) {
	i := g.extent.LinearIndex(l)
	n := len(g.store.ReferencesAt(l))
	rate := g.turnover[i] * float64(n)
	if g.events != nil && n > 0 {
		rate *= g.events.EventProbabilityAt(l, n-1)
	}
	g.rates.set(int(i), rate)
}

func (g *Gillespie) NumberActiveLineages() int { return g.store.Len() }

func (g *Gillespie) LastEventTime() float64 { return g.lastEventTime }

func (g *Gillespie) PeekTimeOfNextEvent(rng sim.RNG) (float64, bool) {
	if g.store.Len() == 0 {
		return 0, false
	}
	if g.nextEventTime == nil {
		if !(g.TotalRate() > 0) {
			panic(fmt.Sprintf("scheduler: %d lineages remain but none can take an event", g.store.Len()))
		}
		t := sim.NextAfter(g.lastEventTime, g.lastEventTime+sim.SampleExponential(rng, g.TotalRate()))
		g.nextEventTime = &t
	}
	return *g.nextEventTime, true
}

func (g *Gillespie) PopNextActiveLineageAndEventTime(rng sim.RNG) (sim.Lineage, float64, bool) {
	t, ok := g.PeekTimeOfNextEvent(rng)
	if !ok {
		return sim.Lineage{}, 0, false
	}
	location := g.extent.LocationAt(uint64(g.rates.find(sim.UniformClosedOpen(rng) * g.rates.total())))
	residents := g.store.ReferencesAt(location)
	ref := residents[sim.SampleIndex(rng, uint64(len(residents)))]
	lineage := g.store.Extract(ref)
	g.updateRate(location)

	g.lastEventTime = t
	g.nextEventTime = nil
	return lineage, t, true
}

func (g *Gillespie) AddLineage(lineage sim.Lineage, _ sim.RNG) {
	g.store.Insert(lineage)
	g.updateRate(lineage.IndexedLocation.Location)
	if lineage.LastEventTime > g.lastEventTime {
		g.lastEventTime = lineage.LastEventTime
	}
	g.nextEventTime = nil
}

// ActiveLineages lists the lineages by indexed location.
func (g *Gillespie) ActiveLineages() []sim.Lineage {
	return g.store.Lineages()
}

func (g *Gillespie) Snapshot() sim.SamplerState {
	return sim.SamplerState{
		LastEventTime: g.lastEventTime,
		NextEventTime: copyTime(g.nextEventTime),
		Lineages:      g.ActiveLineages(),
	}
}

func (g *Gillespie) Restore(state sim.SamplerState) {
	if g.store.Len() != 0 {
		panic("scheduler: restoring into a non-empty gillespie sampler")
	}
	restoreStore(g.store, state.Lineages)
	for _, l := range state.Lineages {
		g.updateRate(l.IndexedLocation.Location)
	}
	g.lastEventTime = state.LastEventTime
	g.nextEventTime = copyTime(state.NextEventTime)
}
