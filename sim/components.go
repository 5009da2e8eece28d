package sim

// Habitat is a read-only map from a location to a non-negative capacity.
// It is immutable for the duration of a simulation.
type Habitat interface {
	Extent() Extent
	// CapacityAt returns 0 for uninhabitable locations and for locations
	// outside the extent.
	CapacityAt(l Location) uint32
	// TotalHabitat is the sum of CapacityAt over the extent.
	TotalHabitat() uint64
	// MapIndexedLocationToU64Injective encodes a valid indexed location as a
	// unique integer. It keys RNG priming and global lineage references.
	MapIndexedLocationToU64Injective(il IndexedLocation) uint64
}

// TurnoverRate is zero exactly at uninhabitable locations.
type TurnoverRate interface {
	TurnoverRateAt(l Location, h Habitat) float64
}

// SpeciationProbability returns a probability in [0, 1].
type SpeciationProbability interface {
	SpeciationProbabilityAt(l Location, h Habitat) float64
}

// DispersalSampler draws the parent location of an individual living at a
// habitable location.
type DispersalSampler interface {
	SampleDispersalFromLocation(l Location, h Habitat, rng RNG) Location
}

// SeparableDispersalSampler additionally splits dispersal into staying at the
// origin and leaving it.
type SeparableDispersalSampler interface {
	DispersalSampler
	SampleNonSelfDispersalFromLocation(l Location, h Habitat, rng RNG) Location
	SelfDispersalProbabilityAt(l Location, h Habitat) float64
}

// CoalescenceSampler resolves whether a lineage arriving at target merges with
// a resident. sample must be uniform in [0, 1); it is drawn by the caller so
// that it can travel with an emigrating lineage. The returned indexed location
// is where the arriving lineage ends up (the parent's slot on coalescence).
type CoalescenceSampler interface {
	SampleInteractionAtLocation(target Location, h Habitat, store LineageStore, sample float64) (IndexedLocation, Interaction)
}

// ConditionalCoalescenceSampler also answers how likely a lineage arriving at
// target is to coalesce, and can draw a coalescence known to happen.
type ConditionalCoalescenceSampler interface {
	CoalescenceSampler
	CoalescenceProbabilityAt(target Location, h Habitat, store LineageStore, exclude GlobalReference) float64
	SampleCoalescenceAtLocation(target Location, store LineageStore, rng RNG) (IndexedLocation, Interaction)
}

// LineageStore owns the lineages of one partition. Implementations keep, per
// location, an ordered list of residents such that the lineage stored at list
// position i has IndexedLocation.Index == i.
type LineageStore interface {
	Len() int
	Get(ref LineageRef) (Lineage, bool)
	// ReferencesAt returns the residents of l in index order. The slice must
	// not be modified or retained across mutations.
	ReferencesAt(l Location) []LineageRef
	// Insert appends the lineage to its location's list, rewriting its index.
	Insert(lineage Lineage) LineageRef
	// Extract removes the lineage and repairs the indices of the remaining
	// residents at its location.
	Extract(ref LineageRef) Lineage
	// Lineages returns every stored lineage ordered by location, then index.
	Lineages() []Lineage
}

// GloballyCoherentLineageStore also offers O(1) access to the whole population.
type GloballyCoherentLineageStore interface {
	LineageStore
	ActiveAt(i int) LineageRef
}

// EventSampler resolves the next event of a lineage at a given time.
type EventSampler interface {
	// SampleEvent returns ok == false if the lineage emigrated instead of
	// producing a local event. The event always carries the lineage's global
	// reference and eventTime unchanged.
	SampleEvent(lineage Lineage, eventTime float64, rng RNG) (event Event, ok bool)
}

// SamplerState is the serialisable state of an ActiveLineageSampler.
type SamplerState struct {
	LastEventTime float64   `json:"last_event_time"`
	NextEventTime *float64  `json:"next_event_time,omitempty"`
	Lineages      []Lineage `json:"lineages"`
}

// ActiveLineageSampler schedules the active population of one partition.
type ActiveLineageSampler interface {
	NumberActiveLineages() int
	LastEventTime() float64
	// PeekTimeOfNextEvent may draw from rng; the drawn time is then
	// reused by the following pop.
	PeekTimeOfNextEvent(rng RNG) (float64, bool)
	// PopNextActiveLineageAndEventTime removes the next lineage to act and
	// returns it with the time of its event.
	PopNextActiveLineageAndEventTime(rng RNG) (Lineage, float64, bool)
	// AddLineage (re-)activates a lineage whose IndexedLocation and
	// LastEventTime describe where and when it arrived.
	AddLineage(lineage Lineage, rng RNG)
	ActiveLineages() []Lineage
	Snapshot() SamplerState
	// Restore loads a snapshot into an empty sampler.
	Restore(state SamplerState)
}

// Pausable samplers do not order their events globally in time. Instead of
// stopping at the first event past a pause time, they hold back every lineage
// whose next event is at or after it.
type Pausable interface {
	SetPauseBefore(t float64)
}

// EmigrationExit decides whether a dispersing lineage leaves the partition.
type EmigrationExit interface {
	// OptionallyEmigrate returns false when the lineage has been handed to
	// another partition and must not be continued locally.
	OptionallyEmigrate(m MigratingLineage) bool
}

// ImmigrationEntry releases lineages that arrived from other partitions.
type ImmigrationEntry interface {
	// NextOptionalImmigration returns the earliest pending immigrant if it is
	// due at or before nextEventTime, or unconditionally when hasNext is false.
	NextOptionalImmigration(nextEventTime float64, hasNext bool) (MigratingLineage, bool)
	// Peek returns the earliest pending immigrant without releasing it.
	Peek() (MigratingLineage, bool)
	Pending() int
	// PendingLineages lists the immigrants that have not been released yet.
	PendingLineages() []MigratingLineage
}

// Decomposition assigns every habitat location to a partition rank.
type Decomposition interface {
	Rank() int
	Partitions() int
	MapLocationToSubdomainRank(l Location, h Habitat) int
}
