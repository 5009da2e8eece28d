package sim

import "fmt"

// GlobalReference identifies a lineage across every partition of a run.
// Zero is never assigned to a lineage.
type GlobalReference uint64

func (r GlobalReference) String() string {
	return fmt.Sprintf("L%d", uint64(r))
}

// LineageRef is a partition-local handle into a LineageStore arena.
type LineageRef int

// Lineage is the ancestral line of one sampled individual.
type Lineage struct {
	GlobalReference GlobalReference `json:"global_reference"`
	IndexedLocation IndexedLocation `json:"indexed_location"`
	LastEventTime   float64         `json:"last_event_time"`
}

// NewLineage creates the lineage of the individual sampled at il, deriving its
// global reference from the habitat's injective encoding.
func NewLineage(il IndexedLocation, h Habitat) Lineage {
	return Lineage{
		GlobalReference: GlobalReference(h.MapIndexedLocationToU64Injective(il) + 1),
		IndexedLocation: il,
	}
}

// MigratingLineage is a lineage in transit between two partitions. It carries
// the dispersal it is performing so the receiving partition can resolve the
// coalescence with the sample drawn at the origin.
type MigratingLineage struct {
	GlobalReference   GlobalReference `json:"global_reference"`
	DispersalOrigin   IndexedLocation `json:"dispersal_origin"`
	DispersalTarget   Location        `json:"dispersal_target"`
	PriorTime         float64         `json:"prior_time"`
	EventTime         float64         `json:"event_time"`
	CoalescenceSample float64         `json:"coalescence_sample"`
}
