package dispersal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/inference-sim/coalescence-sim/sim"
	"github.com/inference-sim/coalescence-sim/sim/habitat"
)

const draws = 40000

// histogram counts dispersal targets from origin by linear index.
func histogram(d sim.DispersalSampler, origin sim.Location, h sim.Habitat, seed uint64) []float64 {
	e := h.Extent()
	counts := make([]float64, e.Area())
	rng := sim.NewWyRand(seed)
	for i := 0; i < draws; i++ {
		counts[e.LinearIndex(d.SampleDispersalFromLocation(origin, h, rng))]++
	}
	return counts
}

// assertFollows checks observed counts against weights with a chi-square test
// at the 0.1% level. Zero-weight cells must never be hit.
func assertFollows(t *testing.T, observed, weights []float64) {
	t.Helper()
	total := 0.0
	for _, w := range weights {
		total += w
	}
	var obs, exp []float64
	for i, w := range weights {
		if w == 0 {
			assert.Zero(t, observed[i], "cell %d has zero weight", i)
			continue
		}
		obs = append(obs, observed[i])
		exp = append(exp, w/total*draws)
	}
	if len(obs) < 2 {
		return
	}
	critical := distuv.ChiSquared{K: float64(len(obs) - 1)}.Quantile(0.999)
	assert.Less(t, stat.ChiSquare(obs, exp), critical, "observed %v", observed)
}

func squareHabitat(t *testing.T) sim.Habitat {
	t.Helper()
	h, err := habitat.NewUniform(2, 2, 1)
	require.NoError(t, err)
	return h
}

var weightedMatrix = [][]float64{
	{0.1, 0.2, 0.3, 0.4},
	{1, 1, 0, 0},
	{0, 0, 1, 0},
	{0.25, 0.25, 0.25, 0.25},
}

func TestMatrixSamplers_FollowTheMatrix(t *testing.T) {
	h := squareHabitat(t)
	alias, err := NewInMemoryAlias(weightedMatrix, h)
	require.NoError(t, err)
	cumulative, err := NewInMemoryCumulative(weightedMatrix, h)
	require.NoError(t, err)
	separable, err := NewInMemorySeparableAlias(weightedMatrix, h)
	require.NoError(t, err)

	samplers := map[string]sim.DispersalSampler{"alias": alias, "cumulative": cumulative, "separable": separable}
	for name, d := range samplers {
		t.Run(name, func(t *testing.T) {
			for i, row := range weightedMatrix {
				origin := h.Extent().LocationAt(uint64(i))
				assertFollows(t, histogram(d, origin, h, uint64(i+1)), row)
			}
		})
	}
}

func TestSeparableAlias_SelfDispersalProbability(t *testing.T) {
	h := squareHabitat(t)
	d, err := NewInMemorySeparableAlias(weightedMatrix, h)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, d.SelfDispersalProbabilityAt(sim.Location{X: 0, Y: 0}, h), 1e-12)
	assert.InDelta(t, 0.5, d.SelfDispersalProbabilityAt(sim.Location{X: 1, Y: 0}, h), 1e-12)
	assert.Equal(t, 1.0, d.SelfDispersalProbabilityAt(sim.Location{X: 0, Y: 1}, h))
	assert.Panics(t, func() {
		d.SampleNonSelfDispersalFromLocation(sim.Location{X: 0, Y: 1}, h, sim.NewWyRand(1))
	})
}

func TestMatrixValidation(t *testing.T) {
	h, err := habitat.NewInMemory([][]uint32{{1, 1, 0}})
	require.NoError(t, err)

	tests := []struct {
		name   string
		matrix [][]float64
		check  func(error) bool
	}{
		{"wrong rows", [][]float64{{1, 0, 0}}, isA[*sim.DimensionMismatchError]},
		{"wrong columns", [][]float64{{1, 0}, {1, 0}, {0, 0}}, isA[*sim.DimensionMismatchError]},
		{"into non-habitat", [][]float64{{1, 0, 1}, {1, 0, 0}, {0, 0, 0}}, isA[*sim.NonHabitatDispersalError]},
		{"negative weight", [][]float64{{1, -1, 0}, {1, 0, 0}, {0, 0, 0}}, isA[*sim.ProbabilityRangeError]},
		{"no dispersal", [][]float64{{0, 0, 0}, {1, 0, 0}, {0, 0, 0}}, isA[*sim.NoDispersalError]},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewInMemoryAlias(tc.matrix, h)
			assert.True(t, tc.check(err), "got %v", err)
			_, err = NewInMemoryCumulative(tc.matrix, h)
			assert.True(t, tc.check(err), "got %v", err)
			_, err = NewInMemorySeparableAlias(tc.matrix, h)
			assert.True(t, tc.check(err), "got %v", err)
		})
	}

	// Rows of non-habitat origins are ignored.
	_, err = NewInMemoryAlias([][]float64{{1, 1, 0}, {1, 0, 0}, {7, 7, 7}}, h)
	assert.NoError(t, err)
}

func isA[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

func TestNonSpatial_ProportionalToCapacity(t *testing.T) {
	h, err := habitat.NewInMemory([][]uint32{{1, 0}, {3, 4}})
	require.NoError(t, err)
	d := NewNonSpatial(h)
	assertFollows(t, histogram(d, sim.Location{X: 0, Y: 0}, h, 3), []float64{1, 0, 3, 4})
}

func TestNormal_StaysOnHabitat(t *testing.T) {
	h, err := habitat.NewInMemory([][]uint32{{1, 0, 1}, {0, 1, 0}})
	require.NoError(t, err)
	d, err := NewNormal(4, h)
	require.NoError(t, err)

	rng := sim.NewWyRand(9)
	for i := 0; i < 1000; i++ {
		target := d.SampleDispersalFromLocation(sim.Location{X: 1, Y: 1}, h, rng)
		assert.Positive(t, h.CapacityAt(target), "target %s", target)
	}

	still, err := NewNormal(0, h)
	require.NoError(t, err)
	assert.Equal(t, sim.Location{X: 2, Y: 0}, still.SampleDispersalFromLocation(sim.Location{X: 2, Y: 0}, h, rng))
	_, err = NewNormal(-1, h)
	assert.Error(t, err)
}

func TestWrap(t *testing.T) {
	assert.Equal(t, uint32(4), wrap(-1, 5))
	assert.Equal(t, uint32(0), wrap(5, 5))
	assert.Equal(t, uint32(2), wrap(-13, 5))
}

func TestNoSelfDispersal_ConditionsOnLeaving(t *testing.T) {
	h := squareHabitat(t)
	matrix := [][]float64{
		{0.5, 0.25, 0.25, 0},
		{0.5, 0.5, 0, 0},
		{0, 0.5, 0.5, 0},
		{0, 0, 0.5, 0.5},
	}
	for name, build := range map[string]func() (sim.DispersalSampler, error){
		"alias":     func() (sim.DispersalSampler, error) { return NewInMemoryAlias(matrix, h) },
		"separable": func() (sim.DispersalSampler, error) { return NewInMemorySeparableAlias(matrix, h) },
	} {
		t.Run(name, func(t *testing.T) {
			inner, err := build()
			require.NoError(t, err)
			d, err := NewNoSelfDispersal(inner, h)
			require.NoError(t, err)

			// THEN the origin is never drawn and the rest keep their ratios
			assertFollows(t, histogram(d, sim.Location{X: 0, Y: 0}, h, 4), []float64{0, 1, 1, 0})
		})
	}
}

func TestNoSelfDispersal_RejectsSelfOnlyLocations(t *testing.T) {
	h := squareHabitat(t)
	identity := [][]float64{{1, 0, 0, 0}, {1, 0, 0, 0}, {0, 0, 1, 0}, {1, 0, 0, 0}}

	for name, build := range map[string]func() (sim.DispersalSampler, error){
		"alias":      func() (sim.DispersalSampler, error) { return NewInMemoryAlias(identity, h) },
		"cumulative": func() (sim.DispersalSampler, error) { return NewInMemoryCumulative(identity, h) },
		"separable":  func() (sim.DispersalSampler, error) { return NewInMemorySeparableAlias(identity, h) },
		"normal":     func() (sim.DispersalSampler, error) { return NewNormal(0, h) },
	} {
		t.Run(name, func(t *testing.T) {
			inner, err := build()
			require.NoError(t, err)
			_, err = NewNoSelfDispersal(inner, h)
			assert.ErrorIs(t, err, sim.ErrSelfDispersal)
		})
	}

	single, err := habitat.NewUniform(1, 1, 4)
	require.NoError(t, err)
	_, err = NewNoSelfDispersal(NewNonSpatial(single), single)
	assert.ErrorIs(t, err, sim.ErrSelfDispersal)
}

// sparse spans a large torus with two habitable cells on opposite sides.
type sparse struct{ size uint32 }

func (s sparse) Extent() sim.Extent { return sim.Extent{Width: s.size, Height: s.size} }

func (s sparse) CapacityAt(l sim.Location) uint32 {
	if l == (sim.Location{}) || l == (sim.Location{X: s.size / 2, Y: s.size / 2}) {
		return 1
	}
	return 0
}

func (s sparse) TotalHabitat() uint64 { return 2 }

func (s sparse) MapIndexedLocationToU64Injective(il sim.IndexedLocation) uint64 {
	return s.Extent().LinearIndex(il.Location)
}

func TestNormal_RejectsHabitatItRarelyLandsOn(t *testing.T) {
	// GIVEN a wide kernel over a habitat with almost no habitable cells
	h := sparse{size: 4096}

	// WHEN the kernel is built
	_, err := NewNormal(1000, h)

	// THEN construction fails instead of leaving an endless rejection loop
	var low *sim.LowAcceptanceError
	require.ErrorAs(t, err, &low)
	assert.Less(t, low.Probability, MinAcceptanceProbability)
	assert.Equal(t, "normal dispersal", low.Component)

	dense, err := habitat.NewUniform(64, 64, 1)
	require.NoError(t, err)
	_, err = NewNormal(1000, dense)
	assert.NoError(t, err)
}

func TestWrappedPMF_SumsToOne(t *testing.T) {
	for _, tc := range []struct {
		sigma float64
		n     uint32
	}{{0, 5}, {0.5, 1}, {3, 7}, {1e9, 4}} {
		pmf := wrappedPMF(tc.sigma, tc.n)
		require.Len(t, pmf, int(tc.n))
		total := 0.0
		for _, p := range pmf {
			assert.GreaterOrEqual(t, p, 0.0)
			total += p
		}
		assert.InDelta(t, 1, total, 1e-12, "sigma %g n %d", tc.sigma, tc.n)
	}
	assert.Equal(t, []float64{1, 0, 0}, wrappedPMF(0, 3))
}

// nonSelf draws through the separable non-self path.
type nonSelf struct{ sim.SeparableDispersalSampler }

func (d nonSelf) SampleDispersalFromLocation(l sim.Location, h sim.Habitat, rng sim.RNG) sim.Location {
	return d.SampleNonSelfDispersalFromLocation(l, h, rng)
}

func TestNonSpatial_IsSeparable(t *testing.T) {
	// GIVEN a non-spatial kernel over uneven capacities
	h, err := habitat.NewInMemory([][]uint32{{1, 0}, {3, 4}})
	require.NoError(t, err)
	d := NewNonSpatial(h)
	origin := sim.Location{X: 0, Y: 1}

	// THEN staying is proportional to the origin's capacity
	assert.InDelta(t, 3.0/8, d.SelfDispersalProbabilityAt(origin, h), 1e-12)

	// AND leaving draws the other individuals in proportion
	assertFollows(t, histogram(nonSelf{d}, origin, h, 5), []float64{1, 0, 0, 4})
	assertFollows(t, histogram(nonSelf{d}, sim.Location{X: 1, Y: 1}, h, 6), []float64{1, 0, 3, 0})
}

func TestNoSelfDispersal_OverKernels(t *testing.T) {
	h := squareHabitat(t)
	normal, err := NewNormal(1, h)
	require.NoError(t, err)

	for name, tc := range map[string]struct {
		inner   sim.DispersalSampler
		weights []float64
	}{
		"non-spatial": {NewNonSpatial(h), []float64{0, 1, 1, 1}},
		"normal":      {normal, nil},
	} {
		t.Run(name, func(t *testing.T) {
			d, err := NewNoSelfDispersal(tc.inner, h)
			require.NoError(t, err)
			assert.Zero(t, d.SelfDispersalProbabilityAt(sim.Location{}, h))

			observed := histogram(d, sim.Location{}, h, 7)
			assert.Zero(t, observed[0])
			if tc.weights != nil {
				assertFollows(t, observed, tc.weights)
			}
		})
	}
}

func TestNoSelfDispersal_RejectsLocationsThatRarelyLeave(t *testing.T) {
	// GIVEN a matrix whose first origin leaves with probability 1e-9
	h := squareHabitat(t)
	matrix := [][]float64{
		{1, 1e-9, 0, 0},
		{0.5, 0.5, 0, 0},
		{0, 0.5, 0.5, 0},
		{0, 0, 0.5, 0.5},
	}
	for name, build := range map[string]func() (sim.DispersalSampler, error){
		"alias":      func() (sim.DispersalSampler, error) { return NewInMemoryAlias(matrix, h) },
		"cumulative": func() (sim.DispersalSampler, error) { return NewInMemoryCumulative(matrix, h) },
		"separable":  func() (sim.DispersalSampler, error) { return NewInMemorySeparableAlias(matrix, h) },
	} {
		t.Run(name, func(t *testing.T) {
			inner, err := build()
			require.NoError(t, err)

			// WHEN self-dispersal is forbidden
			_, err = NewNoSelfDispersal(inner, h)

			// THEN the location is reported instead of sampled by rejection
			var low *sim.LowAcceptanceError
			require.ErrorAs(t, err, &low)
			assert.Equal(t, sim.Location{}, low.From)
			assert.InDelta(t, 1e-9, low.Probability, 1e-12)
		})
	}
}
