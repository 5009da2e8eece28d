// Package dispersal provides DispersalSampler implementations: analytic
// kernels and samplers backed by an explicit dispersal probability matrix.
package dispersal

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/inference-sim/coalescence-sim/sim"
	"github.com/inference-sim/coalescence-sim/sim/habitat"
)

// MinAcceptanceProbability is the smallest probability with which a
// rejection sampler may accept a draw. Samplers below it fail at construction.
const MinAcceptanceProbability = 1e-6

// maxRejections bounds every rejection loop. At MinAcceptanceProbability the
// chance of reaching it is below e^-67.
const maxRejections = 1 << 26

// NonSpatial disperses to any individual in the habitat with equal
// probability, i.e. to a location with probability proportional to capacity.
type NonSpatial struct {
	extent sim.Extent
	// cumulative[i] is the total capacity of habitable cells 0..i.
	cumulative []uint64
	cells      []uint64
}

// NewNonSpatial precomputes the capacity distribution of the habitat.
func NewNonSpatial(h sim.Habitat) *NonSpatial {
	e := h.Extent()
	d := &NonSpatial{extent: e}
	total := uint64(0)
	for i := uint64(0); i < e.Area(); i++ {
		if c := h.CapacityAt(e.LocationAt(i)); c > 0 {
			total += uint64(c)
			d.cumulative = append(d.cumulative, total)
			d.cells = append(d.cells, i)
		}
	}
	return d
}

func (d *NonSpatial) locationOf(individual uint64) sim.Location {
	i := sort.Search(len(d.cumulative), func(i int) bool { return d.cumulative[i] > individual })
	return d.extent.LocationAt(d.cells[i])
}

func (d *NonSpatial) SampleDispersalFromLocation(_ sim.Location, h sim.Habitat, rng sim.RNG) sim.Location {
	return d.locationOf(sim.SampleIndex(rng, h.TotalHabitat()))
}

// SampleNonSelfDispersalFromLocation draws among the individuals of every
// other location.
func (d *NonSpatial) SampleNonSelfDispersalFromLocation(l sim.Location, h sim.Habitat, rng sim.RNG) sim.Location {
	capacity := uint64(h.CapacityAt(l))
	others := h.TotalHabitat() - capacity
	if others == 0 {
		panic("dispersal: no non-self dispersal from " + l.String())
	}
	cell := d.extent.LinearIndex(l)
	i := sort.Search(len(d.cells), func(i int) bool { return d.cells[i] >= cell })
	start := d.cumulative[i] - capacity
	individual := sim.SampleIndex(rng, others)
	if individual >= start {
		individual += capacity
	}
	return d.locationOf(individual)
}

func (d *NonSpatial) SelfDispersalProbabilityAt(l sim.Location, h sim.Habitat) float64 {
	return float64(h.CapacityAt(l)) / float64(h.TotalHabitat())
}

// Normal disperses by a rounded 2D normal displacement on the torus spanned by
// the habitat extent. Displacements into non-habitat are redrawn.
type Normal struct {
	sigma float64
	// px[k] and py[k] are the probabilities of a wrapped displacement of k
	// cells along each axis.
	px, py    []float64
	habitable int
}

// NewNormal rejects negative or non-finite sigmas, and kernels that would
// land on habitat with less than MinAcceptanceProbability.
func NewNormal(sigma float64, h sim.Habitat) (*Normal, error) {
	if !(sigma >= 0) || math.IsInf(sigma, 1) {
		return nil, fmt.Errorf("normal dispersal sigma must be non-negative and finite, got %g", sigma)
	}
	e := h.Extent()
	locations := habitat.HabitableLocations(h)
	d := &Normal{
		sigma:     sigma,
		px:        wrappedPMF(sigma, e.Width),
		py:        wrappedPMF(sigma, e.Height),
		habitable: len(locations),
	}
	if len(locations) == 0 {
		return d, nil
	}
	if p := d.acceptanceBound(); p < MinAcceptanceProbability {
		return nil, &sim.LowAcceptanceError{Component: "normal dispersal", From: locations[0], Probability: p}
	}
	return d, nil
}

// wrappedPMF returns the distribution of a rounded normal displacement taken
// modulo n.
func wrappedPMF(sigma float64, n uint32) []float64 {
	pmf := make([]float64, n)
	reach := math.Ceil(8*sigma) + 1
	if sigma == 0 {
		pmf[0] = 1
		return pmf
	}
	if reach > float64(uint64(n)<<10) {
		for i := range pmf {
			pmf[i] = 1 / float64(n)
		}
		return pmf
	}
	dist := distuv.Normal{Mu: 0, Sigma: sigma}
	for k := -int64(reach); k <= int64(reach); k++ {
		pmf[wrap(k, int64(n))] += dist.CDF(float64(k)+0.5) - dist.CDF(float64(k)-0.5)
	}
	floats.Scale(1/floats.Sum(pmf), pmf)
	return pmf
}

// acceptanceBound is a lower bound on the probability that one draw lands on
// habitat, from any habitable origin: the origin itself, or every habitable
// cell at the least likely displacement.
func (d *Normal) acceptanceBound() float64 {
	self := d.px[0] * d.py[0]
	spread := floats.Min(d.px) * floats.Min(d.py) * float64(d.habitable)
	return math.Max(self, spread)
}

// leaveProbabilityAt bounds the probability that a draw from l lands on
// habitat other than l, from the habitable cells near l and from the least
// likely displacement to every other habitable cell.
func (d *Normal) leaveProbabilityAt(l sim.Location, h sim.Habitat) float64 {
	e := h.Extent()
	near := 0.0
	for _, ox := range nearOffsets(e.Width) {
		for _, oy := range nearOffsets(e.Height) {
			if ox == 0 && oy == 0 {
				continue
			}
			target := sim.Location{
				X: e.X + wrap(int64(l.X-e.X)+ox, int64(e.Width)),
				Y: e.Y + wrap(int64(l.Y-e.Y)+oy, int64(e.Height)),
			}
			if h.CapacityAt(target) > 0 {
				near += d.px[ox] * d.py[oy]
			}
		}
	}
	spread := floats.Min(d.px) * floats.Min(d.py) * float64(d.habitable-1)
	return math.Max(near, spread)
}

// nearOffsets lists the distinct wrapped displacements within two cells.
func nearOffsets(n uint32) []int64 {
	var offsets []int64
	seen := make(map[uint32]bool)
	for k := int64(-2); k <= 2; k++ {
		w := wrap(k, int64(n))
		if !seen[w] {
			seen[w] = true
			offsets = append(offsets, int64(w))
		}
	}
	return offsets
}

// Sigma returns the kernel's standard deviation in cells.
func (d *Normal) Sigma() float64 { return d.sigma }

func (d *Normal) SampleDispersalFromLocation(l sim.Location, h sim.Habitat, rng sim.RNG) sim.Location {
	e := h.Extent()
	for attempt := 0; attempt < maxRejections; attempt++ {
		dx, dy := sim.SampleNormal2D(rng, 0, d.sigma)
		target := sim.Location{
			X: e.X + wrap(int64(l.X-e.X)+int64(math.Round(dx)), int64(e.Width)),
			Y: e.Y + wrap(int64(l.Y-e.Y)+int64(math.Round(dy)), int64(e.Height)),
		}
		if h.CapacityAt(target) > 0 {
			return target
		}
	}
	panic(fmt.Sprintf("dispersal: no habitable target from %s after %d normal draws", l, maxRejections))
}

func wrap(v, n int64) uint32 {
	r := v % n
	if r < 0 {
		r += n
	}
	return uint32(r)
}
