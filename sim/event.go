package sim

import (
	"fmt"
	"sort"
)

// EventKind distinguishes the two lineage events.
type EventKind uint8

const (
	// EventSpeciation terminates a lineage with a new species.
	EventSpeciation EventKind = iota + 1
	// EventDispersal moves a lineage to its parent's location.
	EventDispersal
)

func (k EventKind) String() string {
	switch k {
	case EventSpeciation:
		return "speciation"
	case EventDispersal:
		return "dispersal"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// InteractionKind describes what happened at the target of a dispersal.
type InteractionKind uint8

const (
	// InteractionNone means the lineage did not coalesce.
	InteractionNone InteractionKind = iota
	// InteractionMaybe means coalescence could not be resolved locally; the
	// independent strategy leaves it to the event consumer.
	InteractionMaybe
	// InteractionCoalescence means the lineage merged into Parent.
	InteractionCoalescence
	// InteractionDuplicate means the lineage was found acting at the same
	// indexed location and time as Parent. Both would follow the same path
	// from here on, so the lineage was retired as coalesced into Parent.
	InteractionDuplicate
)

// Interaction is the coalescence outcome of a dispersal event.
type Interaction struct {
	Kind   InteractionKind `json:"kind"`
	Parent GlobalReference `json:"parent,omitempty"`
}

// Event is an immutable record of one resolved lineage event. Target and
// Interaction are only meaningful for dispersal events.
type Event struct {
	Time        float64         `json:"time"`
	PriorTime   float64         `json:"prior_time"`
	Lineage     GlobalReference `json:"lineage"`
	Origin      IndexedLocation `json:"origin"`
	Kind        EventKind       `json:"kind"`
	Target      IndexedLocation `json:"target"`
	Interaction Interaction     `json:"interaction"`
}

// IsCoalescence reports whether the event merged its lineage into another.
func (e Event) IsCoalescence() bool {
	return e.Kind == EventDispersal &&
		(e.Interaction.Kind == InteractionCoalescence || e.Interaction.Kind == InteractionDuplicate)
}

// IsDuplicate reports whether the event retired a lineage that had become
// indistinguishable from its parent.
func (e Event) IsDuplicate() bool {
	return e.Kind == EventDispersal && e.Interaction.Kind == InteractionDuplicate
}

// Less orders events by time, then lineage reference, then kind, which is the
// order in which merged event streams are compared.
func (e Event) Less(o Event) bool {
	if e.Time != o.Time {
		return e.Time < o.Time
	}
	if e.Lineage != o.Lineage {
		return e.Lineage < o.Lineage
	}
	return e.Kind < o.Kind
}

// SortEvents sorts events in place by Event.Less.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool { return events[i].Less(events[j]) })
}

func (e Event) String() string {
	switch e.Kind {
	case EventSpeciation:
		return fmt.Sprintf("%s speciation at %s t=%g", e.Lineage, e.Origin, e.Time)
	case EventDispersal:
		s := fmt.Sprintf("%s dispersal %s -> %s t=%g", e.Lineage, e.Origin, e.Target, e.Time)
		if e.IsDuplicate() {
			s += fmt.Sprintf(" duplicate of %s", e.Interaction.Parent)
		} else if e.IsCoalescence() {
			s += fmt.Sprintf(" coalesced into %s", e.Interaction.Parent)
		}
		return s
	default:
		return fmt.Sprintf("%s %s t=%g", e.Lineage, e.Kind, e.Time)
	}
}
