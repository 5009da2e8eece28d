// Package decomposition assigns habitat locations to partition ranks. Every
// decomposition is a deterministic pure function of the location, so all
// partitions agree on where a lineage belongs without communicating.
package decomposition

import (
	"fmt"
	"math"
	"sort"

	"github.com/inference-sim/coalescence-sim/sim"
	"github.com/inference-sim/coalescence-sim/sim/habitat"
)

// Kind names a decomposition.
type Kind string

const (
	KindMonolithic Kind = "monolithic"
	KindModulo     Kind = "modulo"
	KindRadial     Kind = "radial"
	KindEqualArea  Kind = "equal-area"
)

// validKinds maps accepted decomposition names.
var validKinds = map[Kind]bool{
	KindMonolithic: true,
	KindModulo:     true,
	KindRadial:     true,
	KindEqualArea:  true,
	"":             true, // empty defaults to modulo
}

// IsValidKind returns true if kind names a known decomposition.
func IsValidKind(kind string) bool {
	return validKinds[Kind(kind)]
}

// New builds the decomposition of kind for one rank out of partitions.
func New(kind Kind, h sim.Habitat, rank, partitions int) (sim.Decomposition, error) {
	if partitions < 1 || rank < 0 || rank >= partitions {
		return nil, fmt.Errorf("invalid partition rank %d of %d", rank, partitions)
	}
	switch kind {
	case KindMonolithic:
		if partitions != 1 {
			return nil, fmt.Errorf("monolithic decomposition cannot span %d partitions", partitions)
		}
		return Monolithic{}, nil
	case KindModulo, "":
		return Modulo{rank: rank, partitions: partitions}, nil
	case KindRadial:
		return NewRadial(h, rank, partitions), nil
	case KindEqualArea:
		return NewEqualArea(h, rank, partitions), nil
	default:
		return nil, fmt.Errorf("unknown decomposition %q", kind)
	}
}

// Monolithic places every location in rank 0.
type Monolithic struct{}

func (Monolithic) Rank() int { return 0 }

func (Monolithic) Partitions() int { return 1 }

func (Monolithic) MapLocationToSubdomainRank(sim.Location, sim.Habitat) int { return 0 }

// Modulo deals locations out round-robin by linear index.
type Modulo struct {
	rank       int
	partitions int
}

// NewModulo creates the modulo decomposition for rank.
func NewModulo(rank, partitions int) Modulo {
	return Modulo{rank: rank, partitions: partitions}
}

func (m Modulo) Rank() int { return m.rank }

func (m Modulo) Partitions() int { return m.partitions }

func (m Modulo) MapLocationToSubdomainRank(l sim.Location, h sim.Habitat) int {
	return int(h.Extent().LinearIndex(l) % uint64(m.partitions))
}

// Radial splits the extent into equal angular sectors around its centre.
type Radial struct {
	rank       int
	partitions int
	cx, cy     float64
}

// NewRadial creates the radial decomposition for rank.
func NewRadial(h sim.Habitat, rank, partitions int) Radial {
	e := h.Extent()
	return Radial{
		rank:       rank,
		partitions: partitions,
		cx:         float64(e.X) + float64(e.Width)/2,
		cy:         float64(e.Y) + float64(e.Height)/2,
	}
}

func (r Radial) Rank() int { return r.rank }

func (r Radial) Partitions() int { return r.partitions }

func (r Radial) MapLocationToSubdomainRank(l sim.Location, _ sim.Habitat) int {
	angle := math.Atan2(float64(l.Y)+0.5-r.cy, float64(l.X)+0.5-r.cx)
	sector := int(math.Floor((angle + math.Pi) / (2 * math.Pi) * float64(r.partitions)))
	return min(max(sector, 0), r.partitions-1)
}

// EqualArea orders habitable cells along a Morton (Z-order) curve and cuts the
// curve into ranks holding equal shares of the total capacity, which keeps
// subdomains compact.
type EqualArea struct {
	rank       int
	partitions int
	extent     sim.Extent
	ranks      []int
}

// NewEqualArea precomputes the rank of every cell.
func NewEqualArea(h sim.Habitat, rank, partitions int) *EqualArea {
	e := h.Extent()
	type cell struct {
		morton   uint64
		index    uint64
		capacity uint64
	}
	var cells []cell
	habitat.ForEachHabitable(h, func(l sim.Location, capacity uint32) {
		cells = append(cells, cell{
			morton:   morton(l.X-e.X, l.Y-e.Y),
			index:    e.LinearIndex(l),
			capacity: uint64(capacity),
		})
	})
	sort.Slice(cells, func(i, j int) bool { return cells[i].morton < cells[j].morton })

	d := &EqualArea{rank: rank, partitions: partitions, extent: e, ranks: make([]int, e.Area())}
	total := h.TotalHabitat()
	before := uint64(0)
	for _, c := range cells {
		r := int(float64(before) / float64(total) * float64(partitions))
		d.ranks[c.index] = min(r, partitions-1)
		before += c.capacity
	}
	return d
}

func (d *EqualArea) Rank() int { return d.rank }

func (d *EqualArea) Partitions() int { return d.partitions }

func (d *EqualArea) MapLocationToSubdomainRank(l sim.Location, _ sim.Habitat) int {
	return d.ranks[d.extent.LinearIndex(l)]
}

// morton interleaves the bits of x and y.
func morton(x, y uint32) uint64 {
	return spread(x) | spread(y)<<1
}

func spread(v uint32) uint64 {
	x := uint64(v)
	x = (x | x<<16) & 0x0000ffff0000ffff
	x = (x | x<<8) & 0x00ff00ff00ff00ff
	x = (x | x<<4) & 0x0f0f0f0f0f0f0f0f
	x = (x | x<<2) & 0x3333333333333333
	x = (x | x<<1) & 0x5555555555555555
	return x
}
