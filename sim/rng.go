package sim

import (
	"fmt"
	"hash/fnv"
	"math/bits"
)

// RNG is the raw 64-bit generator interface. It matches math/rand/v2's Source
// so generators can feed library distributions directly.
type RNG interface {
	Uint64() uint64
}

// PrimeableRNG can be deterministically re-seeded from a (location, time step)
// pair. After Prime the stream depends only on the base seed and the pair,
// never on what was drawn before.
type PrimeableRNG interface {
	RNG
	Prime(locationIndex, timeIndex uint64)
}

// InvPhi is 2^64 divided by the golden ratio. Re-priming offsets the time
// index by multiples of it to open a fresh sub-stream per event.
const InvPhi uint64 = 0x9e3779b97f4a7c15

const (
	wyP0 uint64 = 0xa0761d6478bd642f
	wyP1 uint64 = 0xe7037ed1a0b428db
)

func wymum(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	return hi ^ lo
}

// mix64 is the splitmix64 finaliser, a bijection on uint64.
func mix64(z uint64) uint64 {
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// SeedSubstream derives the generator state for the sub-stream keyed by
// (locationEncoding, timeStep). It is a pure function of its arguments.
func SeedSubstream(baseSeed, locationEncoding, timeStep uint64) uint64 {
	h := mix64(baseSeed ^ wyP0)
	h = mix64(h ^ mix64(locationEncoding+InvPhi))
	return mix64(h ^ mix64(timeStep+wyP1))
}

// RNGState is the serialisable state of a WyRand.
type RNGState struct {
	Seed  uint64 `json:"seed"`
	State uint64 `json:"state"`
}

// WyRand is a small, fast, primeable generator (the wyrand step function).
//
// Thread-safety: NOT thread-safe. Each partition owns its own generator.
type WyRand struct {
	seed  uint64
	state uint64
}

// NewWyRand seeds a generator. The seed is also the base for priming.
func NewWyRand(seed uint64) *WyRand {
	return &WyRand{seed: seed, state: mix64(seed)}
}

// RestoreWyRand rebuilds a generator from a snapshot.
func RestoreWyRand(s RNGState) *WyRand {
	return &WyRand{seed: s.Seed, state: s.State}
}

// Uint64 implements RNG.
func (r *WyRand) Uint64() uint64 {
	r.state += wyP0
	return wymum(r.state, r.state^wyP1)
}

// Prime implements PrimeableRNG.
func (r *WyRand) Prime(locationIndex, timeIndex uint64) {
	r.state = SeedSubstream(r.seed, locationIndex, timeIndex)
}

// Split derives an independent generator for the given stream number.
func (r *WyRand) Split(stream uint64) *WyRand {
	return NewWyRand(mix64(r.seed^mix64(stream^wyP1)) ^ wyP0)
}

// Clone returns a generator with identical seed and state.
func (r *WyRand) Clone() *WyRand {
	c := *r
	return &c
}

// State exports the generator state.
func (r *WyRand) State() RNGState {
	return RNGState{Seed: r.seed, State: r.state}
}

// Seed returns the base seed used for priming.
func (r *WyRand) Seed() uint64 {
	return r.seed
}

// === SimulationKey ===

// SimulationKey uniquely identifies a reproducible simulation run.
// Two simulations with the same SimulationKey and identical configuration
// MUST produce bit-for-bit identical results.
type SimulationKey uint64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed uint64) SimulationKey {
	return SimulationKey(seed)
}

// === Subsystem Constants ===

const (
	// SubsystemSimulation is the stream the simulation loop draws from. It uses
	// the master seed directly so that every partition of an independent run
	// primes from the same base.
	SubsystemSimulation = "simulation"

	// SubsystemOrigin samples the initial lineage population.
	SubsystemOrigin = "origin"
)

// SubsystemPartition returns the subsystem name for partition N. Classical and
// Gillespie partitions draw from isolated streams.
func SubsystemPartition(rank int) string {
	return fmt.Sprintf("partition_%d", rank)
}

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated generators per subsystem.
//
// Derivation formula:
//   - For SubsystemSimulation: uses masterSeed directly
//   - For all other subsystems: masterSeed XOR fnv1a64(subsystemName)
//
// The derivation does not depend on the order in which subsystems are requested.
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type PartitionedRNG struct {
	key        SimulationKey
	subsystems map[string]*WyRand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*WyRand),
	}
}

// ForSubsystem returns a deterministically-seeded generator for the named
// subsystem. The same name always returns the same instance (cached).
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *WyRand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := NewWyRand(p.SeedFor(name))
	p.subsystems[name] = rng
	return rng
}

// SeedFor returns the derived seed of a subsystem without caching a generator.
func (p *PartitionedRNG) SeedFor(name string) uint64 {
	if name == SubsystemSimulation {
		return uint64(p.key)
	}
	return uint64(p.key) ^ fnv1a64(name)
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
