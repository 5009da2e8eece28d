package sim

import (
	"math"

	"github.com/sirupsen/logrus"
)

// DefaultProgressInterval is the number of steps between progress reports.
const DefaultProgressInterval = 1 << 12

// Components are the parts a Simulation drives. Store may be nil for
// strategies that do not keep a coherent store.
type Components struct {
	Habitat     Habitat
	RNG         *WyRand
	Events      EventSampler
	Coalescence CoalescenceSampler
	Store       LineageStore
	Active      ActiveLineageSampler
	Immigration ImmigrationEntry
}

// SimulationState is the serialisable state of a Simulation. Together with
// the scenario it is sufficient to resume a paused run exactly.
type SimulationState struct {
	RNG              RNGState           `json:"rng"`
	Sampler          SamplerState       `json:"sampler"`
	Immigrants       []MigratingLineage `json:"immigrants,omitempty"`
	Steps            uint64             `json:"steps"`
	MigrationBalance int64              `json:"migration_balance"`
}

// Simulation drives the event loop of one partition: it interleaves local
// events chosen by the active lineage sampler with immigrants, and reports
// every resolved event.
//
// Thread-safety: NOT thread-safe. Each partition owns one Simulation.
type Simulation struct {
	habitat     Habitat
	rng         *WyRand
	events      EventSampler
	coalescence CoalescenceSampler
	store       LineageStore
	active      ActiveLineageSampler
	immigration ImmigrationEntry

	ProgressInterval uint64

	steps            uint64
	migrationBalance int64
}

// NewSimulation wires components into a Simulation. A nil immigration entry
// never yields immigrants.
func NewSimulation(c Components) *Simulation {
	if c.Immigration == nil {
		c.Immigration = NeverImmigrationEntry{}
	}
	return &Simulation{
		habitat:          c.Habitat,
		rng:              c.RNG,
		events:           c.Events,
		coalescence:      c.Coalescence,
		store:            c.Store,
		active:           c.Active,
		immigration:      c.Immigration,
		ProgressInterval: DefaultProgressInterval,
	}
}

// Habitat returns the habitat the simulation runs on.
func (s *Simulation) Habitat() Habitat { return s.habitat }

// Active returns the active lineage sampler.
func (s *Simulation) Active() ActiveLineageSampler { return s.active }

// Steps returns the number of events and immigrations processed so far.
func (s *Simulation) Steps() uint64 { return s.steps }

// MigrationBalance is +1 per emigration and -1 per immigration.
func (s *Simulation) MigrationBalance() int64 { return s.migrationBalance }

// Remaining counts active lineages and immigrants not yet released.
func (s *Simulation) Remaining() uint64 {
	return uint64(s.active.NumberActiveLineages() + s.immigration.Pending())
}

// IsDone reports whether nothing is left to simulate in this partition.
func (s *Simulation) IsDone() bool {
	return s.Remaining() == 0
}

// PeekTimeOfNextEvent returns the time of the next local event or immigration.
func (s *Simulation) PeekTimeOfNextEvent() (float64, bool) {
	next, hasNext := s.active.PeekTimeOfNextEvent(s.rng)
	if m, ok := s.immigration.Peek(); ok && (!hasNext || m.EventTime <= next) {
		return m.EventTime, true
	}
	return next, hasNext
}

// Step processes the next immigrant that is due, or else the next local
// event. It returns false when the partition has nothing left to do.
func (s *Simulation) Step(reporter Reporter) bool {
	filter := reporter.Filter()

	next, hasNext := s.active.PeekTimeOfNextEvent(s.rng)
	if m, ok := s.immigration.NextOptionalImmigration(next, hasNext); ok {
		s.immigrate(m, filter, reporter)
		s.afterStep(filter, reporter)
		return true
	}
	if !hasNext {
		return false
	}

	lineage, eventTime, ok := s.active.PopNextActiveLineageAndEventTime(s.rng)
	if !ok {
		panic("sim: active lineage sampler announced an event but popped none")
	}
	event, local := s.events.SampleEvent(lineage, eventTime, s.rng)
	if !local {
		s.migrationBalance++
		s.afterStep(filter, reporter)
		return true
	}

	switch event.Kind {
	case EventSpeciation:
		if filter.Speciation {
			reporter.ReportSpeciation(event)
		}
	case EventDispersal:
		if filter.Dispersal {
			reporter.ReportDispersal(event)
		}
		if !event.IsCoalescence() {
			lineage.IndexedLocation = event.Target
			lineage.LastEventTime = eventTime
			s.active.AddLineage(lineage, s.rng)
		}
	}
	s.afterStep(filter, reporter)
	return true
}

func (s *Simulation) immigrate(m MigratingLineage, filter EventFilter, reporter Reporter) {
	target, interaction := s.coalescence.SampleInteractionAtLocation(m.DispersalTarget, s.habitat, s.store, m.CoalescenceSample)
	if interaction.Kind != InteractionCoalescence {
		s.active.AddLineage(Lineage{
			GlobalReference: m.GlobalReference,
			IndexedLocation: target,
			LastEventTime:   m.EventTime,
		}, s.rng)
	}
	s.migrationBalance--
	if filter.Dispersal {
		reporter.ReportDispersal(Event{
			Time:        m.EventTime,
			PriorTime:   m.PriorTime,
			Lineage:     m.GlobalReference,
			Origin:      m.DispersalOrigin,
			Kind:        EventDispersal,
			Target:      target,
			Interaction: interaction,
		})
	}
}

func (s *Simulation) afterStep(filter EventFilter, reporter Reporter) {
	s.steps++
	if filter.Progress && s.ProgressInterval > 0 && s.steps%s.ProgressInterval == 0 {
		reporter.ReportProgress(s.Remaining())
	}
}

// SimulateIncrementalEarlyStop steps until stop returns true or the partition
// is done. stop is consulted before every step. It returns the time of the
// last local event and the total number of steps taken so far.
func (s *Simulation) SimulateIncrementalEarlyStop(stop func(*Simulation) bool, reporter Reporter) (float64, uint64) {
	for !stop(s) && s.Step(reporter) {
	}
	if reporter.Filter().Progress {
		reporter.ReportProgress(s.Remaining())
	}
	return s.active.LastEventTime(), s.steps
}

// Simulate runs the partition until it has nothing left to do.
func (s *Simulation) Simulate(reporter Reporter) (float64, uint64) {
	logrus.Infof("[t=%g] Simulating %d active lineages", s.active.LastEventTime(), s.active.NumberActiveLineages())
	t, steps := s.SimulateIncrementalEarlyStop(func(*Simulation) bool { return false }, reporter)
	logrus.Infof("[t=%g] Simulation ended after %d steps", t, steps)
	return t, steps
}

// SimulateUntilBefore runs every event strictly before pauseBefore and leaves
// later events pending, so that the run can be checkpointed and resumed.
func (s *Simulation) SimulateUntilBefore(pauseBefore float64, reporter Reporter) (float64, uint64) {
	if math.IsNaN(pauseBefore) {
		panic("sim: pause time is NaN")
	}
	if p, ok := s.active.(Pausable); ok {
		p.SetPauseBefore(pauseBefore)
		defer p.SetPauseBefore(math.Inf(1))
	}
	t, steps := s.SimulateIncrementalEarlyStop(func(s *Simulation) bool {
		next, ok := s.PeekTimeOfNextEvent()
		return ok && next >= pauseBefore
	}, reporter)
	logrus.Infof("[t=%g] Simulation paused before t=%g after %d steps, %d lineages remaining",
		t, pauseBefore, steps, s.Remaining())
	return t, steps
}

// Snapshot captures the state needed for exact resumption.
func (s *Simulation) Snapshot() SimulationState {
	return SimulationState{
		RNG:              s.rng.State(),
		Sampler:          s.active.Snapshot(),
		Immigrants:       s.immigration.PendingLineages(),
		Steps:            s.steps,
		MigrationBalance: s.migrationBalance,
	}
}

// RestoreCounters reloads the step and migration counters of a snapshot. The
// RNG, sampler and immigrants are restored by the components that own them.
func (s *Simulation) RestoreCounters(state SimulationState) {
	s.steps = state.Steps
	s.migrationBalance = state.MigrationBalance
}
