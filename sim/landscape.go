package sim

import "fmt"

// Location is a single habitat cell.
type Location struct {
	X uint32 `json:"x" yaml:"x"`
	Y uint32 `json:"y" yaml:"y"`
}

func (l Location) String() string {
	return fmt.Sprintf("(%d, %d)", l.X, l.Y)
}

// IndexedLocation disambiguates lineages that are co-resident at one Location.
// Index is the lineage's rank among the co-located active lineages when it was
// recorded and is always < the habitat capacity at Location.
type IndexedLocation struct {
	Location Location `json:"location"`
	Index    uint32   `json:"index"`
}

func (il IndexedLocation) String() string {
	return fmt.Sprintf("%s#%d", il.Location, il.Index)
}

// Extent is the rectangular bounding box of a habitat.
type Extent struct {
	X      uint32 `json:"x"`
	Y      uint32 `json:"y"`
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

// Contains reports whether l lies inside the extent.
func (e Extent) Contains(l Location) bool {
	return l.X >= e.X && l.Y >= e.Y &&
		uint64(l.X-e.X) < uint64(e.Width) && uint64(l.Y-e.Y) < uint64(e.Height)
}

// Area returns the number of cells covered by the extent.
func (e Extent) Area() uint64 {
	return uint64(e.Width) * uint64(e.Height)
}

// LinearIndex maps a contained location to its row-major offset inside the extent.
func (e Extent) LinearIndex(l Location) uint64 {
	return uint64(l.Y-e.Y)*uint64(e.Width) + uint64(l.X-e.X)
}

// LocationAt is the inverse of LinearIndex.
func (e Extent) LocationAt(index uint64) Location {
	return Location{
		X: e.X + uint32(index%uint64(e.Width)),
		Y: e.Y + uint32(index/uint64(e.Width)),
	}
}
