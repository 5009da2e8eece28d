package dedup

import (
	"github.com/inference-sim/coalescence-sim/sim"
)

// Resident is the first lineage seen acting at an EventKey.
type Resident struct {
	Lineage   sim.GlobalReference
	PriorTime float64
}

// Retiring wraps the event sampler of the independent strategy. Two lineages
// that act at the same indexed location and time have met there and would
// draw identical futures, so every lineage after the first is retired with a
// duplicate coalescence instead of being sampled.
//
// Retirement is best-effort: an evicted fingerprint lets the duplicate run on.
// Consumers that need every duplicate resolved should pass the event stream
// through trace.ResolveDuplicates.
//
// Thread-safety: NOT thread-safe.
type Retiring struct {
	inner   sim.EventSampler
	seen    Cache[EventKey, Resident]
	retired uint64
}

// NewRetiring wraps inner. A nil cache never retires anything.
func NewRetiring(inner sim.EventSampler, seen Cache[EventKey, Resident]) *Retiring {
	if seen == nil {
		seen = &Disabled[EventKey, Resident]{}
	}
	return &Retiring{inner: inner, seen: seen}
}

// SampleEvent implements sim.EventSampler.
func (r *Retiring) SampleEvent(lineage sim.Lineage, eventTime float64, rng sim.RNG) (sim.Event, bool) {
	il := lineage.IndexedLocation
	resident := r.seen.LookupOrInsert(EventKey{IndexedLocation: il, Time: eventTime}, func() Resident {
		return Resident{Lineage: lineage.GlobalReference, PriorTime: lineage.LastEventTime}
	})
	if resident.Lineage == lineage.GlobalReference {
		return r.inner.SampleEvent(lineage, eventTime, rng)
	}
	r.retired++
	return sim.Event{
		Time:        eventTime,
		PriorTime:   lineage.LastEventTime,
		Lineage:     lineage.GlobalReference,
		Origin:      il,
		Kind:        sim.EventDispersal,
		Target:      il,
		Interaction: sim.Interaction{Kind: sim.InteractionDuplicate, Parent: resident.Lineage},
	}, true
}

// Retired returns the number of lineages retired so far.
func (r *Retiring) Retired() uint64 { return r.retired }

// Stats exposes the fingerprint cache counters.
func (r *Retiring) Stats() Stats { return r.seen.Stats() }
