package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/coalescence-sim/sim"
	"github.com/inference-sim/coalescence-sim/sim/checkpoint"
	"github.com/inference-sim/coalescence-sim/sim/decomposition"
	"github.com/inference-sim/coalescence-sim/sim/partition"
	"github.com/inference-sim/coalescence-sim/sim/reporter"
	"github.com/inference-sim/coalescence-sim/sim/trace"
)

// Options control what a run records. The zero value records metrics only.
type Options struct {
	// RunID identifies the run in checkpoints. A new one is generated when empty.
	RunID string
	// TraceLevel selects which events are kept in Outcome.Trace.
	TraceLevel trace.TraceLevel
	// Collector receives Prometheus metrics when non-nil.
	Collector *reporter.Collector
	// Progress logs the number of remaining lineages periodically.
	Progress bool
	// ProgressInterval overrides sim.DefaultProgressInterval when positive.
	ProgressInterval uint64
	// PauseBefore overrides the scenario's pause time when non-nil.
	PauseBefore *float64
}

// Outcome is the result of a run or of a resumed run.
type Outcome struct {
	RunID         string
	Metrics       *sim.Metrics
	Trace         *trace.EventTrace
	Partitions    []partition.PartitionResult
	LastEventTime float64
	Steps         uint64
	// Checkpoint is set when the run paused with lineages left.
	Checkpoint *checkpoint.Checkpoint
}

// Events returns the recorded events with the duplicates of the independent
// strategy resolved into coalescences.
func (o *Outcome) Events() []sim.Event { return o.Trace.Resolved() }

// Paused reports whether the run stopped before simulating every lineage.
func (o *Outcome) Paused() bool { return o.Checkpoint != nil }

// Run simulates a scenario from its origin population.
func Run(ctx context.Context, cfg *Config, opts Options) (*Outcome, error) {
	model, err := NewModel(cfg)
	if err != nil {
		return nil, err
	}
	if opts.RunID == "" {
		opts.RunID = checkpoint.NewRunID()
	}
	pause := cfg.PauseBefore
	if opts.PauseBefore != nil {
		pause = opts.PauseBefore
	}
	if pause != nil && cfg.Partitioning.Partitions > 1 {
		return nil, errors.New("pausing is only supported for single-partition runs")
	}

	rngs := sim.NewPartitionedRNG(sim.NewSimulationKey(cfg.Seed))
	origins := SampleOrigins(model.Habitat, *cfg.SamplePercentage, rngs.ForSubsystem(sim.SubsystemOrigin))
	logrus.Infof("Sampled %d lineages on a %dx%d habitat with %d individuals",
		len(origins), model.Habitat.Extent().Width, model.Habitat.Extent().Height, model.Habitat.TotalHabitat())

	if cfg.Partitioning.Partitions == 1 {
		s, err := model.Build(sim.NewWyRand(rngs.SeedFor(sim.SubsystemSimulation)), Endpoints{}, len(origins))
		if err != nil {
			return nil, err
		}
		for _, l := range origins {
			s.Active().AddLineage(l, nil)
		}
		return runMonolithic(ctx, model, s, pause, opts)
	}
	return runPartitioned(ctx, model, rngs, origins, opts)
}

// Resume continues a paused run from its checkpoint. The run goes on until
// it completes or reaches opts.PauseBefore.
func Resume(ctx context.Context, cp *checkpoint.Checkpoint, opts Options) (*Outcome, error) {
	var cfg Config
	if err := json.Unmarshal(cp.Scenario, &cfg); err != nil {
		return nil, fmt.Errorf("decoding checkpoint scenario: %w", err)
	}
	cfg.ApplyDefaults()
	cfg.PauseBefore = nil
	model, err := NewModel(&cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Partitioning.Partitions > 1 {
		return nil, errors.New("checkpoints of partitioned runs cannot be resumed")
	}
	if opts.PauseBefore != nil && *opts.PauseBefore <= cp.PauseBefore {
		return nil, fmt.Errorf("resume pause time %g must be after the checkpoint's %g", *opts.PauseBefore, cp.PauseBefore)
	}
	if opts.RunID == "" {
		opts.RunID = cp.RunID
	}

	s, err := model.Build(sim.RestoreWyRand(cp.State.RNG), Endpoints{}, cp.Remaining())
	if err != nil {
		return nil, err
	}
	s.Active().Restore(cp.State.Sampler)
	s.RestoreCounters(cp.State)
	logrus.Infof("[t=%g] Resuming run %s with %d lineages", cp.State.Sampler.LastEventTime, cp.RunID, cp.Remaining())
	return runMonolithic(ctx, model, s, opts.PauseBefore, opts)
}

func (o Options) reporters(rank int, total uint64) (*sim.Metrics, *trace.EventTrace, sim.Reporter) {
	metrics := sim.NewMetrics()
	events := trace.NewEventTrace(trace.TraceConfig{Level: o.TraceLevel})
	members := []sim.Reporter{metrics, events}
	if o.Progress {
		members = append(members, reporter.NewProgress(strconv.Itoa(rank), total))
	}
	if o.Collector != nil {
		members = append(members, o.Collector.ForPartition(rank))
	}
	return metrics, events, reporter.NewGroup(members...)
}

func runMonolithic(ctx context.Context, model *Model, s *sim.Simulation, pause *float64, opts Options) (*Outcome, error) {
	if opts.ProgressInterval > 0 {
		s.ProgressInterval = opts.ProgressInterval
	}
	metrics, events, rep := opts.reporters(0, s.Remaining())

	cancelled := func(*sim.Simulation) bool { return ctx.Err() != nil }
	var t float64
	var steps uint64
	if pause != nil {
		t, steps = s.SimulateUntilBefore(*pause, rep)
	} else {
		logrus.Infof("[t=%g] Simulating %d active lineages", s.Active().LastEventTime(), s.Remaining())
		t, steps = s.SimulateIncrementalEarlyStop(cancelled, rep)
		logrus.Infof("[t=%g] Simulation ended after %d steps", t, steps)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	metrics.Steps = steps

	out := &Outcome{
		RunID:         opts.RunID,
		Metrics:       metrics,
		Trace:         events,
		LastEventTime: t,
		Steps:         steps,
		Partitions: []partition.PartitionResult{{
			LastEventTime:    t,
			Steps:            steps,
			MigrationBalance: s.MigrationBalance(),
		}},
	}
	if pause != nil && !s.IsDone() {
		scenario, err := json.Marshal(model.Config)
		if err != nil {
			return nil, fmt.Errorf("encoding scenario: %w", err)
		}
		out.Checkpoint = &checkpoint.Checkpoint{
			RunID:       opts.RunID,
			Scenario:    scenario,
			PauseBefore: *pause,
			State:       s.Snapshot(),
		}
	}
	return out, nil
}

func runPartitioned(ctx context.Context, model *Model, rngs *sim.PartitionedRNG, origins []sim.Lineage, opts Options) (*Outcome, error) {
	cfg := model.Config
	n := cfg.Partitioning.Partitions
	independent := cfg.Strategy == StrategyIndependent

	partitions := make([]*partition.Partition, n)
	metrics := make([]*sim.Metrics, n)
	traces := make([]*trace.EventTrace, n)
	for rank := 0; rank < n; rank++ {
		d, err := decomposition.New(decomposition.Kind(cfg.Partitioning.Decomposition), model.Habitat, rank, n)
		if err != nil {
			return nil, err
		}
		exit := partition.NewDomainEmigrationExit(model.Habitat, d)
		entry := partition.NewBufferedImmigrationEntry()
		// Independent partitions prime from the shared simulation seed so that
		// every lineage draws the same values wherever it is simulated.
		seed := rngs.SeedFor(sim.SubsystemSimulation)
		if independent {
			entry = partition.NewImmediateImmigrationEntry()
		} else {
			seed = rngs.SeedFor(sim.SubsystemPartition(rank))
		}
		s, err := model.Build(sim.NewWyRand(seed), Endpoints{Emigration: exit, Immigration: entry}, len(origins))
		if err != nil {
			return nil, err
		}
		if opts.ProgressInterval > 0 {
			s.ProgressInterval = opts.ProgressInterval
		}
		for _, l := range origins {
			if d.MapLocationToSubdomainRank(l.IndexedLocation.Location, model.Habitat) == rank {
				s.Active().AddLineage(l, nil)
			}
		}
		var rep sim.Reporter
		metrics[rank], traces[rank], rep = opts.reporters(rank, s.Remaining())
		partitions[rank] = partition.NewPartition(rank, s, exit, entry, rep)
	}

	var (
		res partition.Result
		err error
	)
	if independent {
		res, err = partition.NewParallel(partitions).Run(ctx)
	} else {
		res, err = partition.NewLockstep(partitions).Run(ctx)
	}
	if err != nil {
		return nil, err
	}

	merged := sim.NewMetrics()
	for rank, m := range metrics {
		m.Steps = res.Partitions[rank].Steps
		merged.Merge(m)
	}
	var balance int64
	for _, p := range res.Partitions {
		balance += p.MigrationBalance
	}
	if balance != 0 {
		panic(fmt.Sprintf("scenario: migration balance %d after a completed run", balance))
	}
	return &Outcome{
		RunID:         opts.RunID,
		Metrics:       merged,
		Trace:         trace.Merge(traces...),
		Partitions:    res.Partitions,
		LastEventTime: math.Max(res.LastEventTime, merged.LastEventTime),
		Steps:         res.Steps,
	}, nil
}
