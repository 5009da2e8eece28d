// Package trace records the event stream of a simulation for later analysis.
// An EventTrace is a sim.Reporter; the records it keeps are plain data.
package trace

import (
	"github.com/inference-sim/coalescence-sim/sim"
)

// TraceLevel controls which events are recorded.
type TraceLevel string

const (
	// TraceLevelNone disables recording (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelSpeciation records speciation events only.
	TraceLevelSpeciation TraceLevel = "speciation"
	// TraceLevelEvents records speciation and dispersal events.
	TraceLevelEvents TraceLevel = "events"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:       true,
	TraceLevelSpeciation: true,
	TraceLevelEvents:     true,
	"":                   true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// EventTrace collects events reported during a simulation.
//
// Thread-safety: NOT thread-safe. Use one EventTrace per partition and merge
// them afterwards.
type EventTrace struct {
	Config      TraceConfig
	Speciations []sim.Event
	Dispersals  []sim.Event
}

// NewEventTrace creates an EventTrace ready for recording.
func NewEventTrace(config TraceConfig) *EventTrace {
	return &EventTrace{
		Config:      config,
		Speciations: make([]sim.Event, 0),
		Dispersals:  make([]sim.Event, 0),
	}
}

// Filter implements sim.Reporter.
func (st *EventTrace) Filter() sim.EventFilter {
	switch st.Config.Level {
	case TraceLevelSpeciation:
		return sim.EventFilter{Speciation: true}
	case TraceLevelEvents:
		return sim.EventFilter{Speciation: true, Dispersal: true}
	default:
		return sim.EventFilter{}
	}
}

// ReportSpeciation appends a speciation event.
func (st *EventTrace) ReportSpeciation(e sim.Event) {
	st.Speciations = append(st.Speciations, e)
}

// ReportDispersal appends a dispersal event.
func (st *EventTrace) ReportDispersal(e sim.Event) {
	st.Dispersals = append(st.Dispersals, e)
}

// ReportProgress implements sim.Reporter.
func (st *EventTrace) ReportProgress(uint64) {}

// Events returns all recorded events sorted by sim.Event.Less.
func (st *EventTrace) Events() []sim.Event {
	events := make([]sim.Event, 0, len(st.Speciations)+len(st.Dispersals))
	events = append(events, st.Speciations...)
	events = append(events, st.Dispersals...)
	sim.SortEvents(events)
	return events
}

// Resolved returns the recorded events with every duplicate lineage settled
// by ResolveDuplicates.
func (st *EventTrace) Resolved() []sim.Event {
	return ResolveDuplicates(st.Events())
}

// Merge combines per-partition traces into one. The result uses the
// configuration of the first trace.
func Merge(traces ...*EventTrace) *EventTrace {
	merged := NewEventTrace(TraceConfig{Level: TraceLevelNone})
	for i, st := range traces {
		if st == nil {
			continue
		}
		if i == 0 {
			merged.Config = st.Config
		}
		merged.Speciations = append(merged.Speciations, st.Speciations...)
		merged.Dispersals = append(merged.Dispersals, st.Dispersals...)
	}
	sim.SortEvents(merged.Speciations)
	sim.SortEvents(merged.Dispersals)
	return merged
}
