// Package sim provides the core of the spatially explicit coalescence
// simulator: lineages of sampled individuals are traced backwards in time
// until they speciate or coalesce into a common ancestor.
//
// # Reading Guide
//
// Start with these files to understand the simulation kernel:
//   - lineage.go, landscape.go: Lineage, Location and IndexedLocation
//   - event_sampler.go: how one event is resolved (speciation, dispersal, coalescence)
//   - simulation.go: the per-partition loop interleaving local events and immigrants
//   - rng.go: the primeable generator that makes runs independent of execution order
//
// # Architecture
//
// The sim package defines interfaces and bridge types; implementations live in
// sub-packages:
//   - sim/habitat/: habitats, turnover rates and speciation probabilities
//   - sim/dispersal/: dispersal kernels and matrix-backed samplers
//   - sim/coalescence/: coalescence samplers
//   - sim/store/: locally and globally coherent lineage stores
//   - sim/scheduler/: Classical, Gillespie and Independent active lineage samplers
//   - sim/dedup/: memoisation caches for the independent strategy
//   - sim/decomposition/: assignment of habitat locations to partitions
//   - sim/partition/: emigration, immigration, transport and multi-partition runners
//   - sim/trace/, sim/reporter/: event sinks
//   - sim/checkpoint/: pause/resume persistence
//   - sim/scenario/: YAML scenarios and component construction
//
// # Key Interfaces
//
// The extension points are small interfaces:
//   - Habitat, TurnoverRate, SpeciationProbability: the landscape
//   - DispersalSampler, CoalescenceSampler: per-event sampling
//   - LineageStore: ownership of the local population
//   - ActiveLineageSampler: which lineage acts next, and when
//   - EmigrationExit, ImmigrationEntry, Decomposition: partition boundaries
//   - Reporter: the event sink
package sim
