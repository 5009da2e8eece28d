// Package dedup memoises referentially transparent sub-computations of the
// independent strategy, keyed by a reproducibility fingerprint.
//
// A missing entry always means "not computed yet". Caching only decides
// whether a value is recomputed and never changes a simulation's outcome.
package dedup

import (
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/inference-sim/coalescence-sim/sim"
)

// Fingerprint is a cache key that can also pick its own direct-mapped slot.
type Fingerprint interface {
	comparable
	Hash() uint64
}

// Key fingerprints a computation at one indexed location and time step.
type Key struct {
	IndexedLocation sim.IndexedLocation
	TimeStep        uint64
}

// Hash mixes the key into 64 bits for direct-mapped slot selection.
func (k Key) Hash() uint64 {
	l := k.IndexedLocation
	return sim.SeedSubstream(uint64(l.Location.X)<<32|uint64(l.Location.Y), uint64(l.Index), k.TimeStep)
}

// EventKey fingerprints a lineage event by where and when it happens.
type EventKey struct {
	IndexedLocation sim.IndexedLocation
	Time            float64
}

// Hash mixes the key into 64 bits for direct-mapped slot selection.
func (k EventKey) Hash() uint64 {
	l := k.IndexedLocation
	return sim.SeedSubstream(uint64(l.Location.X)<<32|uint64(l.Location.Y), uint64(l.Index), math.Float64bits(k.Time))
}

// Cache is a memoisation table.
type Cache[K Fingerprint, V any] interface {
	// LookupOrInsert returns the cached value for key, computing and storing
	// it on a miss.
	LookupOrInsert(key K, compute func() V) V
	Capacity() int
	Stats() Stats
}

// Stats counts cache hits and misses.
type Stats struct {
	Hits   uint64
	Misses uint64
}

// Add sums two sets of counters.
func (s Stats) Add(o Stats) Stats {
	return Stats{Hits: s.Hits + o.Hits, Misses: s.Misses + o.Misses}
}

// New builds the cache selected by the policy for a workload of the given
// number of lineages.
func New[K Fingerprint, V any](p Policy, workload int) (Cache[K, V], error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	capacity := p.CapacityFor(workload)
	if capacity == 0 {
		return &Disabled[K, V]{}, nil
	}
	if p.Eviction == EvictionDirectMapped {
		return NewDirectMapped[K, V](capacity), nil
	}
	return NewLRU[K, V](capacity)
}

// Disabled never stores anything.
type Disabled[K Fingerprint, V any] struct {
	stats Stats
}

func (d *Disabled[K, V]) LookupOrInsert(_ K, compute func() V) V {
	d.stats.Misses++
	return compute()
}

func (d *Disabled[K, V]) Capacity() int { return 0 }

func (d *Disabled[K, V]) Stats() Stats { return d.stats }

// LRU evicts the least recently used entry when full.
//
// Thread-safety: NOT thread-safe. Each partition owns its own cache.
type LRU[K Fingerprint, V any] struct {
	cache    *lru.Cache[K, V]
	capacity int
	stats    Stats
}

// NewLRU creates an LRU cache holding at most capacity entries.
func NewLRU[K Fingerprint, V any](capacity int) (*LRU[K, V], error) {
	c, err := lru.New[K, V](capacity)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &LRU[K, V]{cache: c, capacity: capacity}, nil
}

func (c *LRU[K, V]) LookupOrInsert(key K, compute func() V) V {
	if v, ok := c.cache.Get(key); ok {
		c.stats.Hits++
		return v
	}
	c.stats.Misses++
	v := compute()
	c.cache.Add(key, v)
	return v
}

func (c *LRU[K, V]) Capacity() int { return c.capacity }

func (c *LRU[K, V]) Stats() Stats { return c.stats }

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int { return c.cache.Len() }

// DirectMapped stores each key in the single slot selected by its hash,
// replacing whatever lived there.
//
// Thread-safety: NOT thread-safe.
type DirectMapped[K Fingerprint, V any] struct {
	slots []directSlot[K, V]
	stats Stats
}

type directSlot[K Fingerprint, V any] struct {
	key   K
	value V
	used  bool
}

// NewDirectMapped creates a direct-mapped cache with capacity slots.
func NewDirectMapped[K Fingerprint, V any](capacity int) *DirectMapped[K, V] {
	return &DirectMapped[K, V]{slots: make([]directSlot[K, V], capacity)}
}

func (c *DirectMapped[K, V]) LookupOrInsert(key K, compute func() V) V {
	s := &c.slots[key.Hash()%uint64(len(c.slots))]
	if s.used && s.key == key {
		c.stats.Hits++
		return s.value
	}
	c.stats.Misses++
	*s = directSlot[K, V]{key: key, value: compute(), used: true}
	return s.value
}

func (c *DirectMapped[K, V]) Capacity() int { return len(c.slots) }

func (c *DirectMapped[K, V]) Stats() Stats { return c.stats }

// === Capacity policy ===

// Mode selects how the cache capacity is derived.
type Mode string

const (
	// ModeNone disables caching.
	ModeNone Mode = "none"
	// ModeAbsolute uses a fixed number of entries.
	ModeAbsolute Mode = "absolute"
	// ModeRelative scales the capacity with the number of lineages.
	ModeRelative Mode = "relative"
)

// Eviction selects the replacement strategy.
type Eviction string

const (
	EvictionLRU          Eviction = "lru"
	EvictionDirectMapped Eviction = "direct-mapped"
)

// validModes maps accepted mode strings.
var validModes = map[Mode]bool{
	ModeNone:     true,
	ModeAbsolute: true,
	ModeRelative: true,
}

// Policy configures the dedup cache.
type Policy struct {
	Mode     Mode     `yaml:"policy" json:"policy"`
	Capacity int      `yaml:"capacity,omitempty" json:"capacity,omitempty"`
	Factor   float64  `yaml:"factor,omitempty" json:"factor,omitempty"`
	Eviction Eviction `yaml:"eviction,omitempty" json:"eviction,omitempty"`
}

// DefaultPolicy caches twice as many entries as there are lineages.
func DefaultPolicy() Policy {
	return Policy{Mode: ModeRelative, Factor: 2.0, Eviction: EvictionLRU}
}

// Validate checks the policy fields for the selected mode.
func (p Policy) Validate() error {
	if !validModes[p.Mode] {
		return fmt.Errorf("unknown dedup cache policy %q", p.Mode)
	}
	if p.Eviction != "" && p.Eviction != EvictionLRU && p.Eviction != EvictionDirectMapped {
		return fmt.Errorf("unknown dedup cache eviction %q", p.Eviction)
	}
	switch p.Mode {
	case ModeAbsolute:
		if p.Capacity < 0 {
			return fmt.Errorf("dedup cache capacity must be non-negative, got %d", p.Capacity)
		}
	case ModeRelative:
		if !(p.Factor >= 0) || math.IsInf(p.Factor, 1) {
			return fmt.Errorf("dedup cache factor must be non-negative and finite, got %g", p.Factor)
		}
	}
	return nil
}

// CapacityFor returns the number of entries for a workload of n lineages.
func (p Policy) CapacityFor(n int) int {
	switch p.Mode {
	case ModeAbsolute:
		return p.Capacity
	case ModeRelative:
		return int(math.Ceil(p.Factor * float64(n)))
	default:
		return 0
	}
}
