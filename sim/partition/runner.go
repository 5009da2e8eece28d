package partition

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/inference-sim/coalescence-sim/sim"
)

const tracerName = "github.com/inference-sim/coalescence-sim/sim/partition"

// contextCheckInterval is the number of steps between cancellation checks.
const contextCheckInterval = 1 << 10

// PartitionResult summarises one partition after a run.
type PartitionResult struct {
	Rank             int
	LastEventTime    float64
	Steps            uint64
	Emigrants        uint64
	Immigrants       uint64
	MigrationBalance int64
}

// Result summarises a partitioned run.
type Result struct {
	LastEventTime float64
	Steps         uint64
	Partitions    []PartitionResult
}

func collect(partitions []*Partition) Result {
	res := Result{Partitions: make([]PartitionResult, len(partitions))}
	for i, p := range partitions {
		pr := p.Result()
		res.Partitions[i] = pr
		res.Steps += pr.Steps
		res.LastEventTime = math.Max(res.LastEventTime, pr.LastEventTime)
	}
	return res
}

// Lockstep runs partitions behind a shared clock. Events from all
// partitions are processed in global time order; ties are broken by lowest
// rank for determinism.
//
// Thread-safety: NOT thread-safe. Runs on the calling goroutine.
type Lockstep struct {
	partitions []*Partition
	transport  *Transport
	hasRun     bool
}

// NewLockstep creates a Lockstep runner. Partition i must have rank i.
// Panics if partitions is empty.
func NewLockstep(partitions []*Partition) *Lockstep {
	if len(partitions) < 1 {
		panic("Lockstep: at least one partition is required")
	}
	return &Lockstep{
		partitions: partitions,
		transport:  NewTransport(len(partitions), remaining(partitions)),
	}
}

// Run executes every partition to completion.
// Panics if called more than once.
func (r *Lockstep) Run(ctx context.Context) (Result, error) {
	if r.hasRun {
		panic("Lockstep.Run() called more than once")
	}
	r.hasRun = true

	ctx, span := otel.Tracer(tracerName).Start(ctx, "partition.lockstep",
		trace.WithAttributes(attribute.Int("partitions", len(r.partitions))))
	defer span.End()

	logrus.Infof("Running %d partitions in lockstep", len(r.partitions))
	for steps := uint64(0); ; steps++ {
		if steps%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				span.RecordError(err)
				return Result{}, err
			}
		}
		for _, p := range r.partitions {
			p.deliver(r.transport.Receive(p.rank))
		}

		// Find partition with earliest pending event.
		// Ties: lowest rank wins because we use strict < and iterate 0..N-1.
		earliestTime := math.Inf(1)
		earliestIdx := -1
		for idx, p := range r.partitions {
			if t, ok := p.sim.PeekTimeOfNextEvent(); ok && (earliestIdx == -1 || t < earliestTime) {
				earliestTime = t
				earliestIdx = idx
			}
		}
		if earliestIdx == -1 {
			break // all partitions drained
		}
		p := r.partitions[earliestIdx]
		retired, ok := p.step()
		if !ok {
			panic("Lockstep: partition announced an event but did not step")
		}
		p.flush(r.transport)
		r.transport.Retire(retired)
	}

	res := collect(r.partitions)
	span.SetAttributes(attribute.Int64("steps", int64(res.Steps)),
		attribute.Float64("last_event_time", res.LastEventTime))
	logrus.Infof("[t=%g] Lockstep run ended after %d steps", res.LastEventTime, res.Steps)
	return res, nil
}

// Parallel runs every partition on its own goroutine. Partitions exchange
// lineages as soon as they emigrate and finish together once no lineage is
// alive anywhere.
type Parallel struct {
	partitions []*Partition
	transport  *Transport
	hasRun     bool
}

// NewParallel creates a Parallel runner. Partition i must have rank i.
// Panics if partitions is empty.
func NewParallel(partitions []*Partition) *Parallel {
	if len(partitions) < 1 {
		panic("Parallel: at least one partition is required")
	}
	return &Parallel{
		partitions: partitions,
		transport:  NewTransport(len(partitions), remaining(partitions)),
	}
}

// Run executes every partition to completion. The first partition error
// cancels the others.
// Panics if called more than once.
func (r *Parallel) Run(ctx context.Context) (Result, error) {
	if r.hasRun {
		panic("Parallel.Run() called more than once")
	}
	r.hasRun = true

	ctx, span := otel.Tracer(tracerName).Start(ctx, "partition.parallel",
		trace.WithAttributes(attribute.Int("partitions", len(r.partitions))))
	defer span.End()

	logrus.Infof("Running %d partitions in parallel", len(r.partitions))
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range r.partitions {
		g.Go(func() error { return r.runPartition(gctx, p) })
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	res := collect(r.partitions)
	span.SetAttributes(attribute.Int64("steps", int64(res.Steps)),
		attribute.Float64("last_event_time", res.LastEventTime))
	logrus.Infof("[t=%g] Parallel run ended after %d steps", res.LastEventTime, res.Steps)
	return res, nil
}

func (r *Parallel) runPartition(ctx context.Context, p *Partition) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "partition.run",
		trace.WithAttributes(attribute.Int("partition.rank", p.rank)))
	defer span.End()

	for steps := uint64(0); ; steps++ {
		if steps%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		p.deliver(r.transport.Receive(p.rank))
		if !p.sim.IsDone() {
			retired, ok := p.step()
			if !ok {
				panic("Parallel: partition has lineages but did not step")
			}
			p.flush(r.transport)
			r.transport.Retire(retired)
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.transport.Done():
			pr := p.Result()
			span.SetAttributes(
				attribute.Int64("steps", int64(pr.Steps)),
				attribute.Int64("emigrants", int64(pr.Emigrants)),
				attribute.Int64("immigrants", int64(pr.Immigrants)),
			)
			logrus.Debugf("[t=%g] Partition %d finished after %d steps", pr.LastEventTime, p.rank, pr.Steps)
			return nil
		case <-r.transport.Notify(p.rank):
		}
	}
}

func remaining(partitions []*Partition) uint64 {
	var n uint64
	for i, p := range partitions {
		if p.rank != i {
			panic("partition: partitions must be ordered by rank")
		}
		n += p.sim.Remaining()
	}
	return n
}

// MergeEvents merges per-partition event streams into one stream sorted by
// sim.Event.Less.
func MergeEvents(streams ...[]sim.Event) []sim.Event {
	var n int
	for _, s := range streams {
		n += len(s)
	}
	merged := make([]sim.Event, 0, n)
	for _, s := range streams {
		merged = append(merged, s...)
	}
	sim.SortEvents(merged)
	return merged
}
