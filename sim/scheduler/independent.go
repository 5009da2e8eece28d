package scheduler

import (
	"fmt"
	"math"

	"github.com/inference-sim/coalescence-sim/sim"
	"github.com/inference-sim/coalescence-sim/sim/dedup"
)

// DefaultStepSlice is the number of consecutive events one lineage may take
// before the independent sampler moves on to the next lineage.
const DefaultStepSlice = 10

// Independent schedules every lineage on its own. A lineage's next event time
// is drawn from a generator primed by (indexed location, time step), so its
// whole trajectory depends only on its own state and the base seed, never on
// the order in which lineages are processed.
//
// Lineages are simulated in slices: the current lineage keeps acting for up to
// StepSlice events before it is queued behind the others.
//
// Thread-safety: NOT thread-safe.
type Independent struct {
	habitat  sim.Habitat
	turnover sim.TurnoverRate
	times    EventTimeSampler
	cache    dedup.Cache[dedup.Key, []StepEvent]

	StepSlice int

	current     *sim.Lineage
	currentRuns int
	lastPopped  sim.GlobalReference
	queue       []sim.Lineage
	parked      []sim.Lineage

	pauseBefore   float64
	lastEventTime float64
}

// NewIndependent creates an empty independent sampler. A nil cache disables
// memoisation.
func NewIndependent(h sim.Habitat, turnover sim.TurnoverRate, times EventTimeSampler, cache dedup.Cache[dedup.Key, []StepEvent]) *Independent {
	if cache == nil {
		cache = &dedup.Disabled[dedup.Key, []StepEvent]{}
	}
	return &Independent{
		habitat:     h,
		turnover:    turnover,
		times:       times,
		cache:       cache,
		StepSlice:   DefaultStepSlice,
		pauseBefore: math.Inf(1),
	}
}

// CacheStats exposes the dedup cache counters.
func (s *Independent) CacheStats() dedup.Stats { return s.cache.Stats() }

func (s *Independent) NumberActiveLineages() int {
	n := len(s.queue) + len(s.parked)
	if s.current != nil {
		n++
	}
	return n
}

func (s *Independent) LastEventTime() float64 { return s.lastEventTime }

// NextEventTime returns the first event of the lineage's indexed location
// strictly after its last event, and primes rng for sampling that event.
func (s *Independent) NextEventTime(lineage sim.Lineage, rng sim.PrimeableRNG) float64 {
	il := lineage.IndexedLocation
	rate := s.turnover.TurnoverRateAt(il.Location, s.habitat)
	if !(rate > 0) {
		panic(fmt.Sprintf("scheduler: %s rests at %s with turnover rate %g", lineage.GlobalReference, il, rate))
	}
	encoding := s.habitat.MapIndexedLocationToU64Injective(il)
	dt := s.times.DeltaT()
	after := lineage.LastEventTime
	step := uint64(math.Floor(after / dt))
	for {
		events := s.cache.LookupOrInsert(dedup.Key{IndexedLocation: il, TimeStep: step}, func() []StepEvent {
			rng.Prime(encoding, step)
			return s.times.EventsInStep(step, rate, rng)
		})
		for _, e := range events {
			if e.Time > after {
				rng.Prime(encoding, step+sim.InvPhi*(e.Index+1))
				return e.Time
			}
		}
		step++
	}
}

// head returns the lineage that acts next, parking lineages whose next event
// is at or after the pause time.
func (s *Independent) head(rng sim.PrimeableRNG) (float64, bool) {
	for {
		if s.current == nil {
			if len(s.queue) == 0 {
				return 0, false
			}
			next := s.queue[0]
			s.queue = s.queue[1:]
			s.current = &next
			s.currentRuns = 0
		}
		t := s.NextEventTime(*s.current, rng)
		if t < s.pauseBefore {
			return t, true
		}
		s.parked = append(s.parked, *s.current)
		s.current = nil
	}
}

func primeable(rng sim.RNG) sim.PrimeableRNG {
	p, ok := rng.(sim.PrimeableRNG)
	if !ok {
		panic(fmt.Sprintf("scheduler: independent strategy needs a primeable generator, got %T", rng))
	}
	return p
}

func (s *Independent) PeekTimeOfNextEvent(rng sim.RNG) (float64, bool) {
	return s.head(primeable(rng))
}

func (s *Independent) PopNextActiveLineageAndEventTime(rng sim.RNG) (sim.Lineage, float64, bool) {
	t, ok := s.head(primeable(rng))
	if !ok {
		return sim.Lineage{}, 0, false
	}
	lineage := *s.current
	s.current = nil
	s.currentRuns++
	s.lastEventTime = math.Max(s.lastEventTime, t)
	s.lastPopped = lineage.GlobalReference
	return lineage, t, true
}

// AddLineage continues the lineage that was just popped while its slice
// lasts; any other lineage joins the back of the queue.
func (s *Independent) AddLineage(lineage sim.Lineage, _ sim.RNG) {
	if s.current == nil && lineage.GlobalReference == s.lastPopped && s.currentRuns < s.StepSlice {
		s.current = &lineage
		return
	}
	s.queue = append(s.queue, lineage)
}

// SetPauseBefore parks every lineage whose next event is at or after t
// instead of simulating it. An infinite t disables pausing.
func (s *Independent) SetPauseBefore(t float64) {
	s.pauseBefore = t
	if len(s.parked) > 0 {
		s.queue = append(s.queue, s.parked...)
		s.parked = nil
	}
}

func (s *Independent) ActiveLineages() []sim.Lineage {
	lineages := make([]sim.Lineage, 0, s.NumberActiveLineages())
	if s.current != nil {
		lineages = append(lineages, *s.current)
	}
	lineages = append(lineages, s.queue...)
	return append(lineages, s.parked...)
}

func (s *Independent) Snapshot() sim.SamplerState {
	return sim.SamplerState{LastEventTime: s.lastEventTime, Lineages: s.ActiveLineages()}
}

func (s *Independent) Restore(state sim.SamplerState) {
	if s.NumberActiveLineages() != 0 {
		panic("scheduler: restoring into a non-empty independent sampler")
	}
	s.lastEventTime = state.LastEventTime
	s.queue = append(s.queue, state.Lineages...)
}
