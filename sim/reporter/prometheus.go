package reporter

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inference-sim/coalescence-sim/sim"
)

// Collector exposes simulation progress as Prometheus metrics. It is safe
// for concurrent use; each partition reports through its own
// PartitionReporter.
type Collector struct {
	gatherer prometheus.Gatherer

	Events             *prometheus.CounterVec
	RemainingLineages  *prometheus.GaugeVec
	LastEventTime      *prometheus.GaugeVec
	DispersalDistance  prometheus.Histogram
	CheckpointsWritten prometheus.Counter
}

// NewCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	events, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coalescence_events_total",
		Help: "Total number of resolved lineage events, labeled by kind and interaction.",
	}, []string{"kind", "interaction"}), "coalescence_events_total")
	if err != nil {
		return nil, err
	}
	remaining, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "coalescence_remaining_lineages",
		Help: "Lineages still active or awaiting immigration, labeled by partition.",
	}, []string{"partition"}), "coalescence_remaining_lineages")
	if err != nil {
		return nil, err
	}
	lastEvent, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "coalescence_last_event_time",
		Help: "Simulation time of the latest reported event, labeled by partition.",
	}, []string{"partition"}), "coalescence_last_event_time")
	if err != nil {
		return nil, err
	}
	distance, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "coalescence_dispersal_distance",
		Help:    "Euclidean distance between the origin and target of dispersal events.",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128},
	}), "coalescence_dispersal_distance")
	if err != nil {
		return nil, err
	}
	checkpoints, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coalescence_checkpoints_total",
		Help: "Cumulative number of checkpoints written.",
	}), "coalescence_checkpoints_total")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:           gatherer,
		Events:             events,
		RemainingLineages:  remaining,
		LastEventTime:      lastEvent,
		DispersalDistance:  distance,
		CheckpointsWritten: checkpoints,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *Collector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// IncCheckpoints increments the checkpoint counter.
func (c *Collector) IncCheckpoints() {
	if c == nil || c.CheckpointsWritten == nil {
		return
	}
	c.CheckpointsWritten.Inc()
}

// ForPartition returns a reporter that records into the collector under
// the partition's rank.
func (c *Collector) ForPartition(rank int) *PartitionReporter {
	return &PartitionReporter{collector: c, partition: strconv.Itoa(rank)}
}

// PartitionReporter is the sim.Reporter view of a Collector for one
// partition. A nil collector records nothing.
type PartitionReporter struct {
	collector *Collector
	partition string
	lastTime  float64
}

// Filter implements sim.Reporter.
func (r *PartitionReporter) Filter() sim.EventFilter {
	if r.collector == nil {
		return sim.EventFilter{}
	}
	return sim.EventFilter{Speciation: true, Dispersal: true, Progress: true}
}

// ReportSpeciation implements sim.Reporter.
func (r *PartitionReporter) ReportSpeciation(e sim.Event) {
	if r.collector == nil {
		return
	}
	r.collector.Events.WithLabelValues("speciation", "none").Inc()
	r.observeTime(e.Time)
}

// ReportDispersal implements sim.Reporter.
func (r *PartitionReporter) ReportDispersal(e sim.Event) {
	if r.collector == nil {
		return
	}
	r.collector.Events.WithLabelValues("dispersal", interactionLabel(e.Interaction.Kind)).Inc()
	r.collector.DispersalDistance.Observe(distance(e.Origin.Location, e.Target.Location))
	r.observeTime(e.Time)
}

// ReportProgress implements sim.Reporter.
func (r *PartitionReporter) ReportProgress(remaining uint64) {
	if r.collector == nil {
		return
	}
	r.collector.RemainingLineages.WithLabelValues(r.partition).Set(float64(remaining))
}

// observeTime only moves the gauge forward. Independent partitions report
// lineage by lineage, so event times arrive out of order.
func (r *PartitionReporter) observeTime(t float64) {
	if t <= r.lastTime {
		return
	}
	r.lastTime = t
	r.collector.LastEventTime.WithLabelValues(r.partition).Set(t)
}

func interactionLabel(k sim.InteractionKind) string {
	switch k {
	case sim.InteractionMaybe:
		return "maybe"
	case sim.InteractionCoalescence:
		return "coalescence"
	case sim.InteractionDuplicate:
		return "duplicate"
	default:
		return "none"
	}
}

func distance(a, b sim.Location) float64 {
	dx := float64(a.X) - float64(b.X)
	dy := float64(a.Y) - float64(b.Y)
	return math.Hypot(dx, dy)
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}
