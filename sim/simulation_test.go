package sim

import (
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lineHabitat is a 1-row habitat with the same capacity everywhere.
type lineHabitat struct {
	width, capacity uint32
}

func (h lineHabitat) Extent() Extent { return Extent{Width: h.width, Height: 1} }

func (h lineHabitat) CapacityAt(l Location) uint32 {
	if !h.Extent().Contains(l) {
		return 0
	}
	return h.capacity
}

func (h lineHabitat) TotalHabitat() uint64 { return uint64(h.width) * uint64(h.capacity) }

func (h lineHabitat) MapIndexedLocationToU64Injective(il IndexedLocation) uint64 {
	return uint64(il.Location.X)*uint64(h.capacity) + uint64(il.Index)
}

type constSpeciation float64

func (p constSpeciation) SpeciationProbabilityAt(Location, Habitat) float64 { return float64(p) }

type fixedDispersal Location

func (d fixedDispersal) SampleDispersalFromLocation(Location, Habitat, RNG) Location {
	return Location(d)
}

type stubCoalescence Interaction

func (c stubCoalescence) SampleInteractionAtLocation(target Location, _ Habitat, _ LineageStore, _ float64) (IndexedLocation, Interaction) {
	return IndexedLocation{Location: target}, Interaction(c)
}

// refusingExit emigrates every lineage and remembers it.
type refusingExit struct {
	emigrants []MigratingLineage
}

func (e *refusingExit) OptionallyEmigrate(m MigratingLineage) bool {
	e.emigrants = append(e.emigrants, m)
	return false
}

// scripted acts on its lineages in time order; a re-added lineage acts one
// time unit after its last event.
type scripted struct {
	lineages []Lineage
	times    []float64
	last     float64
}

func (s *scripted) add(l Lineage, t float64) {
	s.lineages = append(s.lineages, l)
	s.times = append(s.times, t)
	sort.Sort(s)
}

func (s *scripted) Len() int           { return len(s.times) }
func (s *scripted) Less(i, j int) bool { return s.times[i] < s.times[j] }
func (s *scripted) Swap(i, j int) {
	s.times[i], s.times[j] = s.times[j], s.times[i]
	s.lineages[i], s.lineages[j] = s.lineages[j], s.lineages[i]
}

func (s *scripted) NumberActiveLineages() int { return len(s.lineages) }
func (s *scripted) LastEventTime() float64    { return s.last }

func (s *scripted) PeekTimeOfNextEvent(RNG) (float64, bool) {
	if len(s.times) == 0 {
		return 0, false
	}
	return s.times[0], true
}

func (s *scripted) PopNextActiveLineageAndEventTime(RNG) (Lineage, float64, bool) {
	if len(s.times) == 0 {
		return Lineage{}, 0, false
	}
	l, t := s.lineages[0], s.times[0]
	s.lineages, s.times = s.lineages[1:], s.times[1:]
	s.last = t
	return l, t, true
}

func (s *scripted) AddLineage(l Lineage, _ RNG) { s.add(l, l.LastEventTime+1) }

func (s *scripted) ActiveLineages() []Lineage { return append([]Lineage(nil), s.lineages...) }

func (s *scripted) Snapshot() SamplerState {
	return SamplerState{LastEventTime: s.last, Lineages: s.ActiveLineages()}
}

func (s *scripted) Restore(SamplerState) {}

// queueEntry releases immigrants in slice order.
type queueEntry struct {
	queue []MigratingLineage
}

func (q *queueEntry) NextOptionalImmigration(next float64, hasNext bool) (MigratingLineage, bool) {
	if len(q.queue) == 0 || (hasNext && q.queue[0].EventTime > next) {
		return MigratingLineage{}, false
	}
	m := q.queue[0]
	q.queue = q.queue[1:]
	return m, true
}

func (q *queueEntry) Peek() (MigratingLineage, bool) {
	if len(q.queue) == 0 {
		return MigratingLineage{}, false
	}
	return q.queue[0], true
}

func (q *queueEntry) Pending() int                        { return len(q.queue) }
func (q *queueEntry) PendingLineages() []MigratingLineage { return q.queue }

// recorder keeps every event and progress report it is sent.
type recorder struct {
	filter   EventFilter
	events   []Event
	progress []uint64
}

func (r *recorder) Filter() EventFilter        { return r.filter }
func (r *recorder) ReportSpeciation(e Event)   { r.events = append(r.events, e) }
func (r *recorder) ReportDispersal(e Event)    { r.events = append(r.events, e) }
func (r *recorder) ReportProgress(left uint64) { r.progress = append(r.progress, left) }

func allChannels() EventFilter {
	return EventFilter{Speciation: true, Dispersal: true, Progress: true}
}

func lineageAt(ref GlobalReference, x uint32) Lineage {
	return Lineage{GlobalReference: ref, IndexedLocation: IndexedLocation{Location: Location{X: x}}}
}

func TestUnconditionalEventSampler_Speciation(t *testing.T) {
	// GIVEN a speciation probability of one
	h := lineHabitat{width: 3, capacity: 2}
	es := NewUnconditionalEventSampler(h, constSpeciation(1), fixedDispersal{X: 2}, stubCoalescence{}, nil, nil)
	l := lineageAt(4, 1)
	l.LastEventTime = 0.5

	// WHEN an event is sampled
	e, ok := es.SampleEvent(l, 2, NewWyRand(1))

	// THEN the lineage speciates where it lives
	require.True(t, ok)
	assert.Equal(t, Event{Time: 2, PriorTime: 0.5, Lineage: 4, Origin: l.IndexedLocation, Kind: EventSpeciation}, e)
}

func TestUnconditionalEventSampler_DispersalResolvesCoalescence(t *testing.T) {
	h := lineHabitat{width: 3, capacity: 2}
	coalesce := stubCoalescence{Kind: InteractionCoalescence, Parent: 9}
	es := NewUnconditionalEventSampler(h, constSpeciation(0), fixedDispersal{X: 2}, coalesce, nil, nil)

	e, ok := es.SampleEvent(lineageAt(4, 0), 1, NewWyRand(1))

	require.True(t, ok)
	assert.Equal(t, EventDispersal, e.Kind)
	assert.Equal(t, IndexedLocation{Location: Location{X: 2}}, e.Target)
	assert.True(t, e.IsCoalescence())
	assert.Equal(t, GlobalReference(9), e.Interaction.Parent)
}

func TestUnconditionalEventSampler_EmigrationCarriesDispersal(t *testing.T) {
	// GIVEN an exit that takes every dispersing lineage
	h := lineHabitat{width: 3, capacity: 2}
	exit := &refusingExit{}
	emigrating := NewUnconditionalEventSampler(h, constSpeciation(0), fixedDispersal{X: 2}, stubCoalescence{}, nil, exit)
	staying := NewUnconditionalEventSampler(h, constSpeciation(0), fixedDispersal{X: 2}, stubCoalescence{}, nil, nil)
	l := lineageAt(4, 0)
	l.LastEventTime = 1

	// WHEN the same event is sampled with and without emigration
	a, b := NewWyRand(3), NewWyRand(3)
	_, ok := emigrating.SampleEvent(l, 1.5, a)
	_, stayed := staying.SampleEvent(l, 1.5, b)

	// THEN the emigrant carries its dispersal and coalescence sample
	assert.False(t, ok)
	assert.True(t, stayed)
	require.Len(t, exit.emigrants, 1)
	m := exit.emigrants[0]
	assert.Equal(t, GlobalReference(4), m.GlobalReference)
	assert.Equal(t, Location{X: 2}, m.DispersalTarget)
	assert.Equal(t, 1.0, m.PriorTime)
	assert.Equal(t, 1.5, m.EventTime)
	assert.GreaterOrEqual(t, m.CoalescenceSample, 0.0)
	assert.Less(t, m.CoalescenceSample, 1.0)

	// THEN both paths consumed the same number of draws
	assert.Equal(t, a.Uint64(), b.Uint64())
}

func TestUnconditionalEventSampler_TimeBeforeLastEventPanics(t *testing.T) {
	h := lineHabitat{width: 1, capacity: 1}
	es := NewUnconditionalEventSampler(h, constSpeciation(1), fixedDispersal{}, stubCoalescence{}, nil, nil)
	l := lineageAt(1, 0)
	l.LastEventTime = 2

	assert.Panics(t, func() { es.SampleEvent(l, 1, NewWyRand(1)) })
}

func newTestSimulation(p float64, c Interaction, active *scripted, entry ImmigrationEntry) *Simulation {
	h := lineHabitat{width: 3, capacity: 2}
	return NewSimulation(Components{
		Habitat:     h,
		RNG:         NewWyRand(1),
		Events:      NewUnconditionalEventSampler(h, constSpeciation(p), fixedDispersal{X: 1}, stubCoalescence(c), nil, nil),
		Coalescence: stubCoalescence(c),
		Active:      active,
		Immigration: entry,
	})
}

func TestSimulation_ImmigrantDueFirstIsProcessedFirst(t *testing.T) {
	// GIVEN a local lineage acting at t=1 and an immigrant arriving at t=0.5
	active := &scripted{}
	active.add(lineageAt(1, 0), 1)
	entry := &queueEntry{queue: []MigratingLineage{{
		GlobalReference: 5,
		DispersalTarget: Location{X: 1},
		PriorTime:       0.2,
		EventTime:       0.5,
	}}}
	s := newTestSimulation(0, Interaction{Kind: InteractionCoalescence, Parent: 7}, active, entry)
	assert.Equal(t, uint64(2), s.Remaining())
	next, ok := s.PeekTimeOfNextEvent()
	require.True(t, ok)
	assert.Equal(t, 0.5, next)

	// WHEN the partition runs to completion
	rep := &recorder{filter: allChannels()}
	_, steps := s.Simulate(rep)

	// THEN the immigrant's dispersal is reported before the local event
	assert.Equal(t, uint64(2), steps)
	require.Len(t, rep.events, 2)
	assert.Equal(t, GlobalReference(5), rep.events[0].Lineage)
	assert.Equal(t, 0.2, rep.events[0].PriorTime)
	assert.Equal(t, GlobalReference(1), rep.events[1].Lineage)
	assert.Equal(t, int64(-1), s.MigrationBalance())
	assert.True(t, s.IsDone())
	assert.Equal(t, []uint64{0}, rep.progress)
}

func TestSimulation_SurvivingDispersalReactivatesLineage(t *testing.T) {
	// GIVEN one lineage that disperses without coalescing
	active := &scripted{}
	active.add(lineageAt(1, 0), 1)
	s := newTestSimulation(0, Interaction{}, active, nil)

	// WHEN one step is taken
	require.True(t, s.Step(&recorder{filter: allChannels()}))

	// THEN the lineage is active again at its new location
	lineages := active.ActiveLineages()
	require.Len(t, lineages, 1)
	assert.Equal(t, Location{X: 1}, lineages[0].IndexedLocation.Location)
	assert.Equal(t, 1.0, lineages[0].LastEventTime)
}

func TestSimulation_ProgressEveryInterval(t *testing.T) {
	// GIVEN three lineages that all speciate
	active := &scripted{}
	for i := 1; i <= 3; i++ {
		active.add(lineageAt(GlobalReference(i), uint32(i-1)), float64(i))
	}
	s := newTestSimulation(1, Interaction{}, active, nil)
	s.ProgressInterval = 2

	// WHEN the partition runs
	rep := &recorder{filter: allChannels()}
	s.Simulate(rep)

	// THEN progress is reported after step 2 and at the end
	assert.Equal(t, []uint64{1, 0}, rep.progress)
	assert.Len(t, rep.events, 3)
}

func TestSimulation_IgnoredChannelsAreNotReported(t *testing.T) {
	active := &scripted{}
	active.add(lineageAt(1, 0), 1)
	s := newTestSimulation(1, Interaction{}, active, nil)

	rep := &recorder{}
	_, steps := s.Simulate(rep)

	assert.Equal(t, uint64(1), steps)
	assert.Empty(t, rep.events)
	assert.Empty(t, rep.progress)
}

func TestSimulation_SimulateUntilBefore(t *testing.T) {
	// GIVEN lineages acting at t=1, 2 and 3
	active := &scripted{}
	for i := 1; i <= 3; i++ {
		active.add(lineageAt(GlobalReference(i), uint32(i-1)), float64(i))
	}
	s := newTestSimulation(1, Interaction{}, active, nil)

	// WHEN paused before t=2.5
	rep := &recorder{filter: allChannels()}
	last, steps := s.SimulateUntilBefore(2.5, rep)

	// THEN only the events strictly before the pause happened
	assert.Equal(t, 2.0, last)
	assert.Equal(t, uint64(2), steps)
	assert.Equal(t, uint64(1), s.Remaining())

	// THEN the snapshot holds the remaining lineage and the counters
	state := s.Snapshot()
	assert.Len(t, state.Sampler.Lineages, 1)
	assert.Equal(t, uint64(2), state.Steps)

	assert.Panics(t, func() { s.SimulateUntilBefore(math.NaN(), rep) })
}
