package dispersal

import (
	"fmt"

	"github.com/inference-sim/coalescence-sim/sim"
	"github.com/inference-sim/coalescence-sim/sim/habitat"
)

// leaver is implemented by samplers that know how likely a draw is to leave
// its origin.
type leaver interface {
	leaveProbabilityAt(l sim.Location, h sim.Habitat) float64
}

func leaveProbability(d sim.DispersalSampler, l sim.Location, h sim.Habitat) (float64, bool) {
	switch d := d.(type) {
	case sim.SeparableDispersalSampler:
		return 1 - d.SelfDispersalProbabilityAt(l, h), true
	case leaver:
		return d.leaveProbabilityAt(l, h), true
	}
	return 0, false
}

// NoSelfDispersal conditions another sampler on leaving the origin location.
// It is used when a scenario forbids self-dispersal.
type NoSelfDispersal struct {
	inner sim.DispersalSampler
}

// NewNoSelfDispersal fails with sim.ErrSelfDispersal if some habitable
// location can only disperse to itself, and with a *sim.LowAcceptanceError if
// leaving some location is too unlikely to sample by rejection.
func NewNoSelfDispersal(inner sim.DispersalSampler, h sim.Habitat) (*NoSelfDispersal, error) {
	locations := habitat.HabitableLocations(h)
	if len(locations) < 2 {
		return nil, fmt.Errorf("habitat has a single habitable location: %w", sim.ErrSelfDispersal)
	}
	for _, l := range locations {
		leave, known := leaveProbability(inner, l, h)
		switch {
		case !known:
		case leave <= 0:
			return nil, fmt.Errorf("location %s only disperses to itself: %w", l, sim.ErrSelfDispersal)
		case leave < MinAcceptanceProbability:
			return nil, &sim.LowAcceptanceError{Component: "no self-dispersal", From: l, Probability: leave}
		}
	}
	return &NoSelfDispersal{inner: inner}, nil
}

func (d *NoSelfDispersal) SampleDispersalFromLocation(l sim.Location, h sim.Habitat, rng sim.RNG) sim.Location {
	if s, ok := d.inner.(sim.SeparableDispersalSampler); ok {
		return s.SampleNonSelfDispersalFromLocation(l, h, rng)
	}
	for attempt := 0; attempt < maxRejections; attempt++ {
		if target := d.inner.SampleDispersalFromLocation(l, h, rng); target != l {
			return target
		}
	}
	panic(fmt.Sprintf("dispersal: no non-self target from %s after %d draws", l, maxRejections))
}

func (d *NoSelfDispersal) SampleNonSelfDispersalFromLocation(l sim.Location, h sim.Habitat, rng sim.RNG) sim.Location {
	return d.SampleDispersalFromLocation(l, h, rng)
}

// SelfDispersalProbabilityAt is always zero.
func (d *NoSelfDispersal) SelfDispersalProbabilityAt(sim.Location, sim.Habitat) float64 { return 0 }
