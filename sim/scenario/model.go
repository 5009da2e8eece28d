package scenario

import (
	"fmt"

	"github.com/inference-sim/coalescence-sim/sim"
	"github.com/inference-sim/coalescence-sim/sim/coalescence"
	"github.com/inference-sim/coalescence-sim/sim/dedup"
	"github.com/inference-sim/coalescence-sim/sim/dispersal"
	"github.com/inference-sim/coalescence-sim/sim/habitat"
	"github.com/inference-sim/coalescence-sim/sim/scheduler"
	"github.com/inference-sim/coalescence-sim/sim/store"
)

// Model holds the immutable components of a scenario. They are read-only
// after construction and may be shared by concurrently running partitions.
type Model struct {
	Config      *Config
	Habitat     sim.Habitat
	Turnover    sim.TurnoverRate
	Speciation  sim.SpeciationProbability
	Dispersal   sim.DispersalSampler
	MaxTurnover float64
}

// NewModel validates cfg and builds its landscape components. All
// configuration errors surface here, before any simulation starts.
func NewModel(cfg *Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h, err := newHabitat(cfg.Habitat)
	if err != nil {
		return nil, fmt.Errorf("habitat: %w", err)
	}
	turnover, err := newTurnoverRate(cfg.TurnoverRate, h)
	if err != nil {
		return nil, fmt.Errorf("turnover_rate: %w", err)
	}
	speciation, err := newSpeciationProbability(cfg.SpeciationProbability, h)
	if err != nil {
		return nil, fmt.Errorf("speciation_probability: %w", err)
	}
	d, err := newDispersal(cfg.Dispersal, h)
	if err != nil {
		return nil, fmt.Errorf("dispersal: %w", err)
	}
	if !*cfg.AllowSelfDispersal {
		if d, err = dispersal.NewNoSelfDispersal(d, h); err != nil {
			return nil, fmt.Errorf("dispersal: %w", err)
		}
	}
	if cfg.Strategy == StrategyGillespie && cfg.Gillespie.EventSampler == EventSamplerConditional {
		if _, ok := d.(sim.SeparableDispersalSampler); !ok {
			return nil, fmt.Errorf("dispersal kind %q cannot be used with the conditional event sampler", cfg.Dispersal.Kind)
		}
	}
	if cfg.Strategy == StrategyClassical {
		if _, ok := turnover.(*habitat.UniformTurnoverRate); !ok {
			return nil, fmt.Errorf("strategy %q needs a uniform turnover rate", cfg.Strategy)
		}
	}
	return &Model{
		Config:      cfg,
		Habitat:     h,
		Turnover:    turnover,
		Speciation:  speciation,
		Dispersal:   d,
		MaxTurnover: habitat.MaxTurnoverRate(turnover, h),
	}, nil
}

func newHabitat(c HabitatConfig) (sim.Habitat, error) {
	if c.Grid != nil {
		return habitat.NewInMemory(c.Grid)
	}
	capacity := c.Capacity
	if capacity == 0 {
		capacity = 1
	}
	return habitat.NewUniform(c.Width, c.Height, capacity)
}

func newTurnoverRate(c RateConfig, h sim.Habitat) (sim.TurnoverRate, error) {
	if c.Grid != nil {
		return habitat.NewInMemoryTurnoverRate(c.Grid, h)
	}
	return habitat.NewUniformTurnoverRate(*c.Value)
}

func newSpeciationProbability(c RateConfig, h sim.Habitat) (sim.SpeciationProbability, error) {
	if c.Grid != nil {
		return habitat.NewInMemorySpeciationProbability(c.Grid, h)
	}
	return habitat.NewUniformSpeciationProbability(*c.Value)
}

func newDispersal(c DispersalConfig, h sim.Habitat) (sim.DispersalSampler, error) {
	switch c.Kind {
	case DispersalNonSpatial:
		return dispersal.NewNonSpatial(h), nil
	case DispersalNormal:
		return dispersal.NewNormal(c.Sigma, h)
	case DispersalMatrix:
		return dispersal.NewInMemoryAlias(c.Matrix, h)
	case DispersalMatrixCumulative:
		return dispersal.NewInMemoryCumulative(c.Matrix, h)
	case DispersalSeparable:
		return dispersal.NewInMemorySeparableAlias(c.Matrix, h)
	default:
		return nil, fmt.Errorf("unknown dispersal kind %q", c.Kind)
	}
}

// SampleOrigins draws the initial lineage population. Locations are visited
// in row-major order and each individual is sampled with probability p.
// References are the habitat's injective encoding plus one, so they are
// unique and never zero.
func SampleOrigins(h sim.Habitat, p float64, rng sim.RNG) []sim.Lineage {
	var lineages []sim.Lineage
	habitat.ForEachHabitable(h, func(l sim.Location, capacity uint32) {
		for i := uint32(0); i < capacity; i++ {
			if p < 1 && !sim.SampleEvent(rng, p) {
				continue
			}
			lineages = append(lineages, sim.NewLineage(sim.IndexedLocation{Location: l, Index: i}, h))
		}
	})
	return lineages
}

// Endpoints are the migration adapters of one partition. Zero values mean a
// single partition that never migrates.
type Endpoints struct {
	Emigration  sim.EmigrationExit
	Immigration sim.ImmigrationEntry
}

// Build wires the strategy-specific components of one partition around rng.
// workload is the total number of lineages of the run and sizes the dedup
// cache.
func (m *Model) Build(rng *sim.WyRand, ep Endpoints, workload int) (*sim.Simulation, error) {
	cfg := m.Config
	var (
		st     sim.LineageStore
		coal   sim.CoalescenceSampler
		active sim.ActiveLineageSampler
	)
	switch cfg.Strategy {
	case StrategyClassical:
		global := store.NewGloballyCoherent(m.Habitat)
		classical, err := scheduler.NewClassical(global, m.Turnover)
		if err != nil {
			return nil, err
		}
		st, coal, active = global, coalescence.Unconditional{}, classical
	case StrategyGillespie:
		global := store.NewGloballyCoherent(m.Habitat)
		gillespie := scheduler.NewGillespie(m.Habitat, global, m.Turnover)
		conditional := coalescence.Conditional{}
		if cfg.Gillespie.EventSampler == EventSamplerConditional {
			separable, ok := m.Dispersal.(sim.SeparableDispersalSampler)
			if !ok {
				return nil, fmt.Errorf("the conditional event sampler needs a separable dispersal, got %T", m.Dispersal)
			}
			events := sim.NewConditionalEventSampler(m.Habitat, m.Speciation, separable, conditional, global, ep.Emigration)
			gillespie.SetEventProbability(events)
			return m.simulation(rng, ep, events, conditional, global, gillespie), nil
		}
		st, coal, active = global, conditional, gillespie
	case StrategyIndependent:
		times, err := scheduler.NewEventTimeSampler(scheduler.EventTimeKind(cfg.Independent.EventTime),
			*cfg.Independent.DeltaT, m.MaxTurnover)
		if err != nil {
			return nil, err
		}
		cache, err := dedup.New[dedup.Key, []scheduler.StepEvent](*cfg.Independent.DedupCache, workload)
		if err != nil {
			return nil, err
		}
		seen, err := dedup.New[dedup.EventKey, dedup.Resident](*cfg.Independent.DedupCache, workload)
		if err != nil {
			return nil, err
		}
		independent := scheduler.NewIndependent(m.Habitat, m.Turnover, times, cache)
		independent.StepSlice = *cfg.Independent.StepSlice
		coal, active = coalescence.Independent{}, independent
		events := sim.NewUnconditionalEventSampler(m.Habitat, m.Speciation, m.Dispersal, coal, st, ep.Emigration)
		return m.simulation(rng, ep, dedup.NewRetiring(events, seen), coal, st, active), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.Strategy)
	}
	events := sim.NewUnconditionalEventSampler(m.Habitat, m.Speciation, m.Dispersal, coal, st, ep.Emigration)
	return m.simulation(rng, ep, events, coal, st, active), nil
}

func (m *Model) simulation(rng *sim.WyRand, ep Endpoints, events sim.EventSampler, coal sim.CoalescenceSampler,
	st sim.LineageStore, active sim.ActiveLineageSampler) *sim.Simulation {
	return sim.NewSimulation(sim.Components{
		Habitat:     m.Habitat,
		RNG:         rng,
		Events:      events,
		Coalescence: coal,
		Store:       st,
		Active:      active,
		Immigration: ep.Immigration,
	})
}
