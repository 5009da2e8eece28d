package trace

import "github.com/inference-sim/coalescence-sim/sim"

// TraceSummary aggregates statistics from an EventTrace.
type TraceSummary struct {
	TotalEvents       int
	Speciations       int
	Dispersals        int
	SelfDispersals    int
	Coalescences      int
	MaybeCoalescences int
	UniqueLineages    int
	LastEventTime     float64
	// SpeciesByLocation counts speciation events per origin location.
	SpeciesByLocation map[sim.Location]int
}

// Summarize computes aggregate statistics from an EventTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *EventTrace) *TraceSummary {
	summary := &TraceSummary{
		SpeciesByLocation: make(map[sim.Location]int),
	}
	if st == nil {
		return summary
	}

	lineages := make(map[sim.GlobalReference]struct{})
	observe := func(e sim.Event) {
		lineages[e.Lineage] = struct{}{}
		if e.Time > summary.LastEventTime {
			summary.LastEventTime = e.Time
		}
	}

	summary.Speciations = len(st.Speciations)
	for _, e := range st.Speciations {
		observe(e)
		summary.SpeciesByLocation[e.Origin.Location]++
	}

	summary.Dispersals = len(st.Dispersals)
	for _, e := range st.Dispersals {
		observe(e)
		if e.Origin.Location == e.Target.Location {
			summary.SelfDispersals++
		}
		switch e.Interaction.Kind {
		case sim.InteractionCoalescence, sim.InteractionDuplicate:
			summary.Coalescences++
		case sim.InteractionMaybe:
			summary.MaybeCoalescences++
		}
	}

	summary.TotalEvents = summary.Speciations + summary.Dispersals
	summary.UniqueLineages = len(lineages)

	return summary
}
