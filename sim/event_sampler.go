package sim

import "fmt"

// UnconditionalEventSampler resolves events in a fixed order: speciation
// trial, dispersal draw, coalescence sample, emigration check, coalescence.
// Every strategy draws the same number of values per event so that streams
// stay aligned across strategies and partitions.
type UnconditionalEventSampler struct {
	habitat     Habitat
	speciation  SpeciationProbability
	dispersal   DispersalSampler
	coalescence CoalescenceSampler
	store       LineageStore
	emigration  EmigrationExit
}

// NewUnconditionalEventSampler composes an event sampler. store may be nil
// when the coalescence sampler does not consult it; a nil emigration exit
// never emigrates.
func NewUnconditionalEventSampler(
	h Habitat,
	speciation SpeciationProbability,
	dispersal DispersalSampler,
	coalescence CoalescenceSampler,
	store LineageStore,
	emigration EmigrationExit,
) *UnconditionalEventSampler {
	if emigration == nil {
		emigration = NeverEmigrationExit{}
	}
	return &UnconditionalEventSampler{
		habitat:     h,
		speciation:  speciation,
		dispersal:   dispersal,
		coalescence: coalescence,
		store:       store,
		emigration:  emigration,
	}
}

// SampleEvent implements EventSampler.
func (s *UnconditionalEventSampler) SampleEvent(lineage Lineage, eventTime float64, rng RNG) (Event, bool) {
	if !(eventTime >= 0) || eventTime < lineage.LastEventTime {
		panic(fmt.Sprintf("sim: event time %g of %s precedes its last event at %g",
			eventTime, lineage.GlobalReference, lineage.LastEventTime))
	}
	origin := lineage.IndexedLocation
	event := Event{
		Time:      eventTime,
		PriorTime: lineage.LastEventTime,
		Lineage:   lineage.GlobalReference,
		Origin:    origin,
	}

	if SampleEvent(rng, s.speciation.SpeciationProbabilityAt(origin.Location, s.habitat)) {
		event.Kind = EventSpeciation
		return event, true
	}

	target := s.dispersal.SampleDispersalFromLocation(origin.Location, s.habitat, rng)
	sample := UniformClosedOpen(rng)
	stays := s.emigration.OptionallyEmigrate(MigratingLineage{
		GlobalReference:   lineage.GlobalReference,
		DispersalOrigin:   origin,
		DispersalTarget:   target,
		PriorTime:         lineage.LastEventTime,
		EventTime:         eventTime,
		CoalescenceSample: sample,
	})
	if !stays {
		return Event{}, false
	}

	event.Kind = EventDispersal
	event.Target, event.Interaction = s.coalescence.SampleInteractionAtLocation(target, s.habitat, s.store, sample)
	return event, true
}

// ConditionalEventSampler only samples the events that change the state of
// the population: speciation, dispersal out of the origin location, and
// dispersal within it that coalesces. A lineage at l with k other residents
// meets them with probabilities
//
//	speciation       nu
//	out-dispersal    (1 - nu) * (1 - self)
//	self-coalescence (1 - nu) * self * k / capacity
//
// and the scheduler scales the turnover rate of l by EventProbabilityAt, so
// self-dispersals onto a free index are skipped rather than simulated.
type ConditionalEventSampler struct {
	habitat     Habitat
	speciation  SpeciationProbability
	dispersal   SeparableDispersalSampler
	coalescence ConditionalCoalescenceSampler
	store       LineageStore
	emigration  EmigrationExit
}

// NewConditionalEventSampler composes a conditional event sampler. A nil
// emigration exit never emigrates.
func NewConditionalEventSampler(
	h Habitat,
	speciation SpeciationProbability,
	dispersal SeparableDispersalSampler,
	coalescence ConditionalCoalescenceSampler,
	store LineageStore,
	emigration EmigrationExit,
) *ConditionalEventSampler {
	if emigration == nil {
		emigration = NeverEmigrationExit{}
	}
	return &ConditionalEventSampler{
		habitat:     h,
		speciation:  speciation,
		dispersal:   dispersal,
		coalescence: coalescence,
		store:       store,
		emigration:  emigration,
	}
}

// eventProbabilities returns the probabilities of speciation, out-dispersal
// and self-coalescence for a lineage at l that shares it with others lineages.
func (s *ConditionalEventSampler) eventProbabilities(l Location, others int) (speciation, out, coalesce float64) {
	nu := s.speciation.SpeciationProbabilityAt(l, s.habitat)
	self := s.dispersal.SelfDispersalProbabilityAt(l, s.habitat)
	coal := float64(others) / float64(s.habitat.CapacityAt(l))
	return nu, (1 - nu) * (1 - self), (1 - nu) * self * coal
}

// EventProbabilityAt returns the probability that a lineage at l with others
// co-residents takes a state-changing event when its location turns over.
func (s *ConditionalEventSampler) EventProbabilityAt(l Location, others int) float64 {
	speciation, out, coalesce := s.eventProbabilities(l, others)
	return speciation + out + coalesce
}

// SampleEvent implements EventSampler. The lineage must already be removed
// from the store, so every resident of its location is another lineage.
func (s *ConditionalEventSampler) SampleEvent(lineage Lineage, eventTime float64, rng RNG) (Event, bool) {
	if !(eventTime >= 0) || eventTime < lineage.LastEventTime {
		panic(fmt.Sprintf("sim: event time %g of %s precedes its last event at %g",
			eventTime, lineage.GlobalReference, lineage.LastEventTime))
	}
	origin := lineage.IndexedLocation
	event := Event{
		Time:      eventTime,
		PriorTime: lineage.LastEventTime,
		Lineage:   lineage.GlobalReference,
		Origin:    origin,
	}

	others := len(s.store.ReferencesAt(origin.Location))
	speciation, out, coalesce := s.eventProbabilities(origin.Location, others)
	total := speciation + out + coalesce
	if !(total > 0) {
		panic(fmt.Sprintf("sim: %s was scheduled at %s where no event can happen", lineage.GlobalReference, origin))
	}
	u := UniformClosedOpen(rng) * total

	switch {
	case u < speciation:
		event.Kind = EventSpeciation
		return event, true
	case u < speciation+out:
		target := s.dispersal.SampleNonSelfDispersalFromLocation(origin.Location, s.habitat, rng)
		sample := UniformClosedOpen(rng)
		stays := s.emigration.OptionallyEmigrate(MigratingLineage{
			GlobalReference:   lineage.GlobalReference,
			DispersalOrigin:   origin,
			DispersalTarget:   target,
			PriorTime:         lineage.LastEventTime,
			EventTime:         eventTime,
			CoalescenceSample: sample,
		})
		if !stays {
			return Event{}, false
		}
		event.Kind = EventDispersal
		event.Target, event.Interaction = s.coalescence.SampleInteractionAtLocation(target, s.habitat, s.store, sample)
		return event, true
	default:
		event.Kind = EventDispersal
		event.Target, event.Interaction = s.coalescence.SampleCoalescenceAtLocation(origin.Location, s.store, rng)
		return event, true
	}
}
