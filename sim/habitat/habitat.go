// Package habitat provides the landscape components: habitats mapping
// locations to capacities, and the per-location turnover rates and
// speciation probabilities defined over them.
package habitat

import (
	"fmt"

	"github.com/inference-sim/coalescence-sim/sim"
)

// Uniform is a rectangular habitat with the same capacity in every cell.
type Uniform struct {
	extent   sim.Extent
	capacity uint32
}

// NewUniform creates a width x height habitat anchored at (0, 0).
func NewUniform(width, height, capacity uint32) (*Uniform, error) {
	if width == 0 || height == 0 {
		return nil, &sim.HabitatError{Reason: fmt.Sprintf("extent %dx%d is empty", width, height)}
	}
	if capacity == 0 {
		return nil, &sim.HabitatError{Reason: "uniform capacity must be positive"}
	}
	return &Uniform{
		extent:   sim.Extent{Width: width, Height: height},
		capacity: capacity,
	}, nil
}

func (u *Uniform) Extent() sim.Extent { return u.extent }

func (u *Uniform) CapacityAt(l sim.Location) uint32 {
	if !u.extent.Contains(l) {
		return 0
	}
	return u.capacity
}

func (u *Uniform) TotalHabitat() uint64 {
	return u.extent.Area() * uint64(u.capacity)
}

func (u *Uniform) MapIndexedLocationToU64Injective(il sim.IndexedLocation) uint64 {
	return u.extent.LinearIndex(il.Location)*uint64(u.capacity) + uint64(il.Index)
}

// InMemory is a habitat backed by an explicit capacity grid.
type InMemory struct {
	extent     sim.Extent
	capacities []uint32
	// offsets[i] is the total capacity of all cells before linear index i.
	offsets []uint64
	total   uint64
}

// NewInMemory builds a habitat from rows of capacities; grid[y][x] is the
// capacity at (x, y).
func NewInMemory(grid [][]uint32) (*InMemory, error) {
	if len(grid) == 0 || len(grid[0]) == 0 {
		return nil, &sim.HabitatError{Reason: "capacity grid is empty"}
	}
	width := len(grid[0])
	h := &InMemory{
		extent:     sim.Extent{Width: uint32(width), Height: uint32(len(grid))},
		capacities: make([]uint32, 0, width*len(grid)),
		offsets:    make([]uint64, 0, width*len(grid)),
	}
	for y, row := range grid {
		if len(row) != width {
			return nil, &sim.HabitatError{Reason: fmt.Sprintf("row %d has %d cells, expected %d", y, len(row), width)}
		}
		for _, c := range row {
			h.offsets = append(h.offsets, h.total)
			h.capacities = append(h.capacities, c)
			h.total += uint64(c)
		}
	}
	if h.total == 0 {
		return nil, &sim.HabitatError{Reason: "habitat has no capacity"}
	}
	return h, nil
}

func (h *InMemory) Extent() sim.Extent { return h.extent }

func (h *InMemory) CapacityAt(l sim.Location) uint32 {
	if !h.extent.Contains(l) {
		return 0
	}
	return h.capacities[h.extent.LinearIndex(l)]
}

func (h *InMemory) TotalHabitat() uint64 { return h.total }

func (h *InMemory) MapIndexedLocationToU64Injective(il sim.IndexedLocation) uint64 {
	return h.offsets[h.extent.LinearIndex(il.Location)] + uint64(il.Index)
}

// ForEachHabitable calls fn for every location with positive capacity in
// row-major order.
func ForEachHabitable(h sim.Habitat, fn func(l sim.Location, capacity uint32)) {
	e := h.Extent()
	for i := uint64(0); i < e.Area(); i++ {
		l := e.LocationAt(i)
		if c := h.CapacityAt(l); c > 0 {
			fn(l, c)
		}
	}
}

// HabitableLocations lists the habitable locations in row-major order.
func HabitableLocations(h sim.Habitat) []sim.Location {
	var locations []sim.Location
	ForEachHabitable(h, func(l sim.Location, _ uint32) {
		locations = append(locations, l)
	})
	return locations
}
