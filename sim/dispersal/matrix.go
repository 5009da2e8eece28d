package dispersal

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/inference-sim/coalescence-sim/sim"
)

// validateMatrix checks a dense dispersal matrix against the habitat. Rows and
// columns are indexed by the row-major linear index of the habitat extent.
func validateMatrix(component string, matrix [][]float64, h sim.Habitat) error {
	e := h.Extent()
	n := e.Area()
	cols := uint64(0)
	if len(matrix) > 0 {
		cols = uint64(len(matrix[0]))
	}
	if uint64(len(matrix)) != n {
		return &sim.DimensionMismatchError{Component: component, Expected: [2]uint64{n, n}, Actual: [2]uint64{uint64(len(matrix)), cols}}
	}
	for _, row := range matrix {
		if uint64(len(row)) != n {
			return &sim.DimensionMismatchError{Component: component, Expected: [2]uint64{n, n}, Actual: [2]uint64{uint64(len(matrix)), uint64(len(row))}}
		}
	}

	for i, row := range matrix {
		from := e.LocationAt(uint64(i))
		if h.CapacityAt(from) == 0 {
			continue
		}
		for j, p := range row {
			if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
				return &sim.ProbabilityRangeError{Component: component, Value: p}
			}
			if p > 0 && h.CapacityAt(e.LocationAt(uint64(j))) == 0 {
				return &sim.NonHabitatDispersalError{From: from, To: e.LocationAt(uint64(j)), Probability: p}
			}
		}
		if floats.Sum(row) <= 0 {
			return &sim.NoDispersalError{From: from}
		}
	}
	return nil
}

// InMemoryCumulative samples dispersal from a dense matrix by binary search
// over per-origin cumulative probabilities.
type InMemoryCumulative struct {
	extent     sim.Extent
	cumulative [][]float64
	self       []float64
}

// NewInMemoryCumulative validates the matrix and precomputes cumulative rows.
func NewInMemoryCumulative(matrix [][]float64, h sim.Habitat) (*InMemoryCumulative, error) {
	if err := validateMatrix("cumulative dispersal", matrix, h); err != nil {
		return nil, err
	}
	e := h.Extent()
	d := &InMemoryCumulative{extent: e, cumulative: make([][]float64, len(matrix)), self: make([]float64, len(matrix))}
	for i, row := range matrix {
		if h.CapacityAt(e.LocationAt(uint64(i))) == 0 {
			continue
		}
		d.self[i] = row[i] / floats.Sum(row)
		cum := floats.CumSum(make([]float64, len(row)), row)
		floats.Scale(1/cum[len(cum)-1], cum)
		d.cumulative[i] = cum
	}
	return d, nil
}

func (d *InMemoryCumulative) SampleDispersalFromLocation(l sim.Location, _ sim.Habitat, rng sim.RNG) sim.Location {
	cum := d.cumulative[d.extent.LinearIndex(l)]
	u := sim.UniformClosedOpen(rng)
	j := sort.Search(len(cum), func(i int) bool { return cum[i] > u })
	if j == len(cum) {
		// Rounding left u above the last entry; fall back to the last column
		// with positive probability.
		j = len(cum) - 1
		for j > 0 && cum[j] == cum[j-1] {
			j--
		}
	}
	return d.extent.LocationAt(uint64(j))
}

func (d *InMemoryCumulative) leaveProbabilityAt(l sim.Location, _ sim.Habitat) float64 {
	return 1 - d.self[d.extent.LinearIndex(l)]
}

// InMemoryAlias samples dispersal from a dense matrix with per-origin alias tables.
type InMemoryAlias struct {
	extent sim.Extent
	tables []*aliasTable
	self   []float64
}

// NewInMemoryAlias validates the matrix and builds one alias table per habitable origin.
func NewInMemoryAlias(matrix [][]float64, h sim.Habitat) (*InMemoryAlias, error) {
	if err := validateMatrix("alias dispersal", matrix, h); err != nil {
		return nil, err
	}
	e := h.Extent()
	d := &InMemoryAlias{extent: e, tables: make([]*aliasTable, len(matrix)), self: make([]float64, len(matrix))}
	for i, row := range matrix {
		if h.CapacityAt(e.LocationAt(uint64(i))) == 0 {
			continue
		}
		d.tables[i] = newAliasTable(row, -1)
		d.self[i] = row[i] / floats.Sum(row)
	}
	return d, nil
}

func (d *InMemoryAlias) SampleDispersalFromLocation(l sim.Location, _ sim.Habitat, rng sim.RNG) sim.Location {
	return d.extent.LocationAt(uint64(d.tables[d.extent.LinearIndex(l)].sample(rng)))
}

func (d *InMemoryAlias) leaveProbabilityAt(l sim.Location, _ sim.Habitat) float64 {
	return 1 - d.self[d.extent.LinearIndex(l)]
}

// InMemorySeparableAlias reports an explicit self-dispersal probability per
// origin and samples the remaining dispersal from an alias table that excludes
// the origin.
type InMemorySeparableAlias struct {
	extent  sim.Extent
	self    []float64
	nonSelf []*aliasTable
}

// NewInMemorySeparableAlias validates the matrix and splits each row into its
// self-dispersal probability and the non-self remainder.
func NewInMemorySeparableAlias(matrix [][]float64, h sim.Habitat) (*InMemorySeparableAlias, error) {
	if err := validateMatrix("separable alias dispersal", matrix, h); err != nil {
		return nil, err
	}
	e := h.Extent()
	d := &InMemorySeparableAlias{
		extent:  e,
		self:    make([]float64, len(matrix)),
		nonSelf: make([]*aliasTable, len(matrix)),
	}
	for i, row := range matrix {
		if h.CapacityAt(e.LocationAt(uint64(i))) == 0 {
			continue
		}
		d.self[i] = row[i] / floats.Sum(row)
		d.nonSelf[i] = newAliasTable(row, i)
		if d.nonSelf[i] == nil {
			d.self[i] = 1
		}
	}
	return d, nil
}

func (d *InMemorySeparableAlias) SampleDispersalFromLocation(l sim.Location, h sim.Habitat, rng sim.RNG) sim.Location {
	if sim.SampleEvent(rng, d.SelfDispersalProbabilityAt(l, h)) {
		return l
	}
	return d.SampleNonSelfDispersalFromLocation(l, h, rng)
}

func (d *InMemorySeparableAlias) SampleNonSelfDispersalFromLocation(l sim.Location, _ sim.Habitat, rng sim.RNG) sim.Location {
	table := d.nonSelf[d.extent.LinearIndex(l)]
	if table == nil {
		panic("dispersal: no non-self dispersal from " + l.String())
	}
	return d.extent.LocationAt(uint64(table.sample(rng)))
}

func (d *InMemorySeparableAlias) SelfDispersalProbabilityAt(l sim.Location, _ sim.Habitat) float64 {
	return d.self[d.extent.LinearIndex(l)]
}
