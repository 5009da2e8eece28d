package habitat

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/coalescence-sim/sim"
)

func TestUniform_InjectiveEncoding(t *testing.T) {
	// GIVEN a 3x2 habitat with capacity 2
	h, err := NewUniform(3, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), h.TotalHabitat())

	// THEN every indexed location maps to a distinct value below the total
	seen := make(map[uint64]bool)
	ForEachHabitable(h, func(l sim.Location, capacity uint32) {
		for i := uint32(0); i < capacity; i++ {
			v := h.MapIndexedLocationToU64Injective(sim.IndexedLocation{Location: l, Index: i})
			assert.Less(t, v, h.TotalHabitat())
			assert.False(t, seen[v], "duplicate encoding %d", v)
			seen[v] = true
		}
	})
	assert.Len(t, seen, 12)
	assert.Zero(t, h.CapacityAt(sim.Location{X: 3, Y: 0}))
}

func TestNewUniform_RejectsEmpty(t *testing.T) {
	var he *sim.HabitatError
	_, err := NewUniform(0, 2, 1)
	assert.True(t, errors.As(err, &he))
	_, err = NewUniform(2, 2, 0)
	assert.True(t, errors.As(err, &he))
}

func TestInMemory_CapacitiesAndOffsets(t *testing.T) {
	// GIVEN a grid with an uninhabitable cell
	h, err := NewInMemory([][]uint32{{2, 0}, {1, 3}})
	require.NoError(t, err)

	// THEN capacities follow grid[y][x]
	assert.Equal(t, uint32(2), h.CapacityAt(sim.Location{X: 0, Y: 0}))
	assert.Equal(t, uint32(0), h.CapacityAt(sim.Location{X: 1, Y: 0}))
	assert.Equal(t, uint32(3), h.CapacityAt(sim.Location{X: 1, Y: 1}))
	assert.Equal(t, uint64(6), h.TotalHabitat())

	// THEN the encoding is dense over the habitable individuals
	assert.Equal(t, uint64(2), h.MapIndexedLocationToU64Injective(sim.IndexedLocation{Location: sim.Location{X: 0, Y: 1}}))
	assert.Equal(t, uint64(5), h.MapIndexedLocationToU64Injective(sim.IndexedLocation{Location: sim.Location{X: 1, Y: 1}, Index: 2}))
	assert.Equal(t, []sim.Location{{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}}, HabitableLocations(h))
}

func TestNewInMemory_RejectsMalformedGrids(t *testing.T) {
	for name, grid := range map[string][][]uint32{
		"empty":  {},
		"ragged": {{1, 1}, {1}},
		"zero":   {{0, 0}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewInMemory(grid)
			var he *sim.HabitatError
			assert.True(t, errors.As(err, &he), "got %v", err)
		})
	}
}

func TestTurnoverRates(t *testing.T) {
	h, err := NewInMemory([][]uint32{{1, 0, 2}})
	require.NoError(t, err)

	uniform, err := NewUniformTurnoverRate(0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.5, uniform.TurnoverRateAt(sim.Location{X: 0}, h))
	assert.Zero(t, uniform.TurnoverRateAt(sim.Location{X: 1}, h))
	_, err = NewUniformTurnoverRate(0)
	assert.Error(t, err)

	grid, err := NewInMemoryTurnoverRate([][]float64{{1, 0, 3}}, h)
	require.NoError(t, err)
	assert.Equal(t, 3.0, MaxTurnoverRate(grid, h))
	assert.Equal(t, 0.5, MaxTurnoverRate(uniform, h))

	// A positive rate on non-habitat or a zero rate on habitat is rejected.
	_, err = NewInMemoryTurnoverRate([][]float64{{1, 1, 3}}, h)
	assert.Error(t, err)
	_, err = NewInMemoryTurnoverRate([][]float64{{0, 0, 3}}, h)
	assert.Error(t, err)

	_, err = NewInMemoryTurnoverRate([][]float64{{1, 0}}, h)
	var dim *sim.DimensionMismatchError
	assert.True(t, errors.As(err, &dim))
}

func TestSpeciationProbabilities(t *testing.T) {
	h, err := NewUniform(2, 1, 1)
	require.NoError(t, err)

	p, err := NewInMemorySpeciationProbability([][]float64{{0.1, 0.9}}, h)
	require.NoError(t, err)
	assert.Equal(t, 0.9, p.SpeciationProbabilityAt(sim.Location{X: 1}, h))

	_, err = NewInMemorySpeciationProbability([][]float64{{0.1, 1.9}}, h)
	var rangeErr *sim.ProbabilityRangeError
	assert.True(t, errors.As(err, &rangeErr))

	_, err = NewUniformSpeciationProbability(-0.1)
	assert.Error(t, err)
}
