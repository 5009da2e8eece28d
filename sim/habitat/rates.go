package habitat

import (
	"fmt"
	"math"

	"github.com/inference-sim/coalescence-sim/sim"
)

// UniformTurnoverRate applies the same rate at every habitable location.
type UniformTurnoverRate struct {
	rate float64
}

// NewUniformTurnoverRate rejects non-positive or non-finite rates.
func NewUniformTurnoverRate(rate float64) (*UniformTurnoverRate, error) {
	if !(rate > 0) || math.IsInf(rate, 1) {
		return nil, fmt.Errorf("turnover rate must be positive and finite, got %g", rate)
	}
	return &UniformTurnoverRate{rate: rate}, nil
}

// Rate returns the uniform rate.
func (u *UniformTurnoverRate) Rate() float64 { return u.rate }

func (u *UniformTurnoverRate) TurnoverRateAt(l sim.Location, h sim.Habitat) float64 {
	if h.CapacityAt(l) == 0 {
		return 0
	}
	return u.rate
}

// InMemoryTurnoverRate is backed by a per-cell rate grid.
type InMemoryTurnoverRate struct {
	extent sim.Extent
	rates  []float64
}

// NewInMemoryTurnoverRate validates that rates are positive exactly where the
// habitat has capacity.
func NewInMemoryTurnoverRate(grid [][]float64, h sim.Habitat) (*InMemoryTurnoverRate, error) {
	e := h.Extent()
	rates, err := flatten("turnover rate", grid, e)
	if err != nil {
		return nil, err
	}
	for i, r := range rates {
		l := e.LocationAt(uint64(i))
		habitable := h.CapacityAt(l) > 0
		if math.IsNaN(r) || math.IsInf(r, 0) || r < 0 || (r > 0) != habitable {
			return nil, fmt.Errorf("turnover rate %g at %s is inconsistent with capacity %d", r, l, h.CapacityAt(l))
		}
	}
	return &InMemoryTurnoverRate{extent: e, rates: rates}, nil
}

func (t *InMemoryTurnoverRate) TurnoverRateAt(l sim.Location, _ sim.Habitat) float64 {
	if !t.extent.Contains(l) {
		return 0
	}
	return t.rates[t.extent.LinearIndex(l)]
}

// MaxTurnoverRate returns the largest rate at any habitable location.
func MaxTurnoverRate(t sim.TurnoverRate, h sim.Habitat) float64 {
	maxRate := 0.0
	ForEachHabitable(h, func(l sim.Location, _ uint32) {
		maxRate = math.Max(maxRate, t.TurnoverRateAt(l, h))
	})
	return maxRate
}

// UniformSpeciationProbability applies the same probability everywhere.
type UniformSpeciationProbability struct {
	p float64
}

func NewUniformSpeciationProbability(p float64) (*UniformSpeciationProbability, error) {
	if err := sim.ValidateProbability("speciation probability", p); err != nil {
		return nil, err
	}
	return &UniformSpeciationProbability{p: p}, nil
}

func (u *UniformSpeciationProbability) SpeciationProbabilityAt(sim.Location, sim.Habitat) float64 {
	return u.p
}

// InMemorySpeciationProbability is backed by a per-cell probability grid.
type InMemorySpeciationProbability struct {
	extent sim.Extent
	probs  []float64
}

func NewInMemorySpeciationProbability(grid [][]float64, h sim.Habitat) (*InMemorySpeciationProbability, error) {
	e := h.Extent()
	probs, err := flatten("speciation probability", grid, e)
	if err != nil {
		return nil, err
	}
	for _, p := range probs {
		if err := sim.ValidateProbability("speciation probability", p); err != nil {
			return nil, err
		}
	}
	return &InMemorySpeciationProbability{extent: e, probs: probs}, nil
}

func (s *InMemorySpeciationProbability) SpeciationProbabilityAt(l sim.Location, _ sim.Habitat) float64 {
	if !s.extent.Contains(l) {
		return 0
	}
	return s.probs[s.extent.LinearIndex(l)]
}

func flatten(name string, grid [][]float64, e sim.Extent) ([]float64, error) {
	if uint64(len(grid)) != uint64(e.Height) {
		return nil, &sim.DimensionMismatchError{
			Component: name,
			Expected:  [2]uint64{uint64(e.Height), uint64(e.Width)},
			Actual:    [2]uint64{uint64(len(grid)), rowWidth(grid)},
		}
	}
	values := make([]float64, 0, e.Area())
	for _, row := range grid {
		if uint64(len(row)) != uint64(e.Width) {
			return nil, &sim.DimensionMismatchError{
				Component: name,
				Expected:  [2]uint64{uint64(e.Height), uint64(e.Width)},
				Actual:    [2]uint64{uint64(len(grid)), uint64(len(row))},
			}
		}
		values = append(values, row...)
	}
	return values, nil
}

func rowWidth(grid [][]float64) uint64 {
	if len(grid) == 0 {
		return 0
	}
	return uint64(len(grid[0]))
}
