// Tracks run-wide event counts for final reporting.

package sim

import (
	"fmt"
	"time"
)

// Metrics aggregates statistics about the simulation for final reporting.
// It is itself a Reporter so it can be attached next to any other sink.
type Metrics struct {
	Speciations       uint64  // Number of speciation events
	Dispersals        uint64  // Number of dispersal events (including coalescences)
	Coalescences      uint64  // Dispersals that merged into a resident lineage
	MaybeCoalescences uint64  // Dispersals whose coalescence was left unresolved
	Duplicates        uint64  // Coalescences found by retiring duplicate lineages
	SelfDispersals    uint64  // Dispersals that stayed at their origin location
	LastEventTime     float64 // Time of the latest reported event
	Steps             uint64  // Simulation steps, set by the caller
	LastProgress      uint64  // Most recently reported number of remaining lineages
}

// NewMetrics returns zeroed metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Filter implements Reporter.
func (m *Metrics) Filter() EventFilter {
	return EventFilter{Speciation: true, Dispersal: true, Progress: true}
}

// ReportSpeciation implements Reporter.
func (m *Metrics) ReportSpeciation(e Event) {
	m.Speciations++
	m.observe(e.Time)
}

// ReportDispersal implements Reporter.
func (m *Metrics) ReportDispersal(e Event) {
	m.Dispersals++
	switch e.Interaction.Kind {
	case InteractionCoalescence:
		m.Coalescences++
	case InteractionDuplicate:
		m.Coalescences++
		m.Duplicates++
	case InteractionMaybe:
		m.MaybeCoalescences++
	}
	if e.Origin.Location == e.Target.Location && !e.IsDuplicate() {
		m.SelfDispersals++
	}
	m.observe(e.Time)
}

// ReportProgress implements Reporter.
func (m *Metrics) ReportProgress(remaining uint64) {
	m.LastProgress = remaining
}

func (m *Metrics) observe(t float64) {
	if t > m.LastEventTime {
		m.LastEventTime = t
	}
}

// Merge adds the counts of another partition.
func (m *Metrics) Merge(o *Metrics) {
	m.Speciations += o.Speciations
	m.Dispersals += o.Dispersals
	m.Coalescences += o.Coalescences
	m.MaybeCoalescences += o.MaybeCoalescences
	m.Duplicates += o.Duplicates
	m.SelfDispersals += o.SelfDispersals
	m.Steps += o.Steps
	m.LastProgress += o.LastProgress
	m.observe(o.LastEventTime)
}

// Print displays aggregated metrics at the end of the simulation.
func (m *Metrics) Print(startTime time.Time) {
	fmt.Println("=== Simulation Metrics ===")
	fmt.Printf("Steps                : %d\n", m.Steps)
	fmt.Printf("Speciations          : %d\n", m.Speciations)
	fmt.Printf("Dispersals           : %d\n", m.Dispersals)
	fmt.Printf("Coalescences         : %d\n", m.Coalescences)
	if m.MaybeCoalescences > 0 {
		fmt.Printf("Unresolved Coalesce  : %d\n", m.MaybeCoalescences)
	}
	if m.Duplicates > 0 {
		fmt.Printf("Retired Duplicates   : %d\n", m.Duplicates)
	}
	if m.Dispersals > 0 {
		fmt.Printf("Self-Dispersal Ratio : %.4f\n", float64(m.SelfDispersals)/float64(m.Dispersals))
	}
	fmt.Printf("Last Event Time      : %.6f\n", m.LastEventTime)
	fmt.Printf("Wall Time            : %s\n", time.Since(startTime).Round(time.Millisecond))
}
