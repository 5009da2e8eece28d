package scheduler

import (
	"fmt"
	"math"
	"sort"

	"github.com/inference-sim/coalescence-sim/sim"
)

// StepEvent is one event of an indexed location's point process. Index is the
// event's generation order within its step and keys the RNG re-priming that
// follows it.
type StepEvent struct {
	Time  float64
	Index uint64
}

// EventTimeSampler generates the events of an indexed location's point
// process inside one time step [step*dt, (step+1)*dt). The generator passed in
// has been primed for (indexed location, step), so the result is a pure
// function of its arguments and may be memoised.
type EventTimeSampler interface {
	DeltaT() float64
	EventsInStep(step uint64, rate float64, rng sim.RNG) []StepEvent
}

// EventTimeKind selects an event time distribution.
type EventTimeKind string

const (
	EventTimeConstant    EventTimeKind = "constant"
	EventTimeFixedLambda EventTimeKind = "fixed-lambda"
	EventTimeExponential EventTimeKind = "exponential"
	EventTimePoisson     EventTimeKind = "poisson"
	EventTimeGeometric   EventTimeKind = "geometric"
)

// validEventTimeKinds maps accepted event time distribution names.
var validEventTimeKinds = map[EventTimeKind]bool{
	EventTimeConstant:    true,
	EventTimeFixedLambda: true,
	EventTimeExponential: true,
	EventTimePoisson:     true,
	EventTimeGeometric:   true,
}

// IsValidEventTimeKind returns true if kind names a known distribution.
func IsValidEventTimeKind(kind string) bool {
	return validEventTimeKinds[EventTimeKind(kind)]
}

// NewEventTimeSampler builds the sampler for kind. maxRate is the largest
// turnover rate in the habitat; only fixed-lambda uses it.
func NewEventTimeSampler(kind EventTimeKind, deltaT, maxRate float64) (EventTimeSampler, error) {
	if !(deltaT > 0) || math.IsInf(deltaT, 1) {
		return nil, fmt.Errorf("delta_t must be positive and finite, got %g", deltaT)
	}
	switch kind {
	case EventTimeConstant:
		return Constant{Dt: deltaT}, nil
	case EventTimeFixedLambda:
		if !(maxRate > 0) {
			return nil, fmt.Errorf("fixed-lambda event times need a positive maximum rate, got %g", maxRate)
		}
		return FixedLambda{Dt: deltaT, Lambda: maxRate}, nil
	case EventTimeExponential:
		return Exponential{Dt: deltaT}, nil
	case EventTimePoisson:
		return Poisson{Dt: deltaT}, nil
	case EventTimeGeometric:
		return Geometric{Dt: deltaT}, nil
	default:
		return nil, fmt.Errorf("unknown event time distribution %q", kind)
	}
}

// Constant places events exactly 1/rate apart, starting at 1/rate.
type Constant struct {
	Dt float64
}

func (c Constant) DeltaT() float64 { return c.Dt }

func (c Constant) EventsInStep(step uint64, rate float64, _ sim.RNG) []StepEvent {
	start, end := float64(step)*c.Dt, float64(step+1)*c.Dt
	var events []StepEvent
	for j := math.Max(1, math.Ceil(start*rate)); j/rate < end; j++ {
		events = append(events, StepEvent{Time: j / rate, Index: uint64(j)})
	}
	return events
}

// Geometric has at most one event per step, at the start of the step, which
// happens with probability 1 - exp(-rate*dt).
type Geometric struct {
	Dt float64
}

func (g Geometric) DeltaT() float64 { return g.Dt }

func (g Geometric) EventsInStep(step uint64, rate float64, rng sim.RNG) []StepEvent {
	if sim.SampleEvent(rng, -math.Expm1(-rate*g.Dt)) {
		return []StepEvent{{Time: float64(step) * g.Dt}}
	}
	return nil
}

// Exponential draws exponential inter-arrival times from the start of the step.
type Exponential struct {
	Dt float64
}

func (e Exponential) DeltaT() float64 { return e.Dt }

func (e Exponential) EventsInStep(step uint64, rate float64, rng sim.RNG) []StepEvent {
	end := float64(step+1) * e.Dt
	var events []StepEvent
	for t, i := float64(step)*e.Dt+sim.SampleExponential(rng, rate), uint64(0); t < end; i++ {
		events = append(events, StepEvent{Time: t, Index: i})
		t += sim.SampleExponential(rng, rate)
	}
	return events
}

// Poisson draws a Poisson(rate*dt) number of events uniformly in the step.
type Poisson struct {
	Dt float64
}

func (p Poisson) DeltaT() float64 { return p.Dt }

func (p Poisson) EventsInStep(step uint64, rate float64, rng sim.RNG) []StepEvent {
	return poissonEvents(step, p.Dt, rate, 1, rng)
}

// FixedLambda draws Poisson events at the habitat-wide maximum rate and keeps
// each with probability rate / Lambda.
type FixedLambda struct {
	Dt     float64
	Lambda float64
}

func (f FixedLambda) DeltaT() float64 { return f.Dt }

func (f FixedLambda) EventsInStep(step uint64, rate float64, rng sim.RNG) []StepEvent {
	return poissonEvents(step, f.Dt, f.Lambda, rate/f.Lambda, rng)
}

func poissonEvents(step uint64, dt, lambda, keep float64, rng sim.RNG) []StepEvent {
	n := sim.SamplePoisson(rng, lambda*dt)
	events := make([]StepEvent, 0, n)
	for i := uint64(0); i < n; i++ {
		t := (float64(step) + sim.UniformClosedOpen(rng)) * dt
		if keep >= 1 || sim.SampleEvent(rng, keep) {
			events = append(events, StepEvent{Time: t, Index: i})
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].Time != events[j].Time {
			return events[i].Time < events[j].Time
		}
		return events[i].Index < events[j].Index
	})
	return events
}
