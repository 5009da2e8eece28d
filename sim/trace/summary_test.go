package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/inference-sim/coalescence-sim/sim"
)

func TestSummarize_NilTrace_ZeroValues(t *testing.T) {
	summary := Summarize(nil)
	assert.Zero(t, summary.TotalEvents)
	assert.Empty(t, summary.SpeciesByLocation)
}

func TestSummarize_EmptyTrace_ZeroValues(t *testing.T) {
	// GIVEN an empty trace
	st := NewEventTrace(TraceConfig{Level: TraceLevelEvents})

	// WHEN summarized
	summary := Summarize(st)

	// THEN all counts are zero
	assert.Zero(t, summary.TotalEvents)
	assert.Zero(t, summary.UniqueLineages)
	assert.Zero(t, summary.LastEventTime)
}

func TestSummarize_PopulatedTrace_CorrectCounts(t *testing.T) {
	// GIVEN a trace with speciations and dispersals of every interaction kind
	st := NewEventTrace(TraceConfig{Level: TraceLevelEvents})
	st.ReportSpeciation(speciation(1, 4, 0))
	st.ReportSpeciation(speciation(2, 2, 0))
	st.ReportSpeciation(speciation(3, 1, 1))
	st.ReportDispersal(dispersal(4, 0.5, 1, 1, sim.Interaction{}))
	st.ReportDispersal(dispersal(4, 1.5, 1, 0, sim.Interaction{Kind: sim.InteractionCoalescence, Parent: 1}))
	st.ReportDispersal(dispersal(2, 0.7, 0, 0, sim.Interaction{Kind: sim.InteractionMaybe}))

	// WHEN summarized
	summary := Summarize(st)

	// THEN counts match
	assert.Equal(t, 6, summary.TotalEvents)
	assert.Equal(t, 3, summary.Speciations)
	assert.Equal(t, 3, summary.Dispersals)
	assert.Equal(t, 2, summary.SelfDispersals)
	assert.Equal(t, 1, summary.Coalescences)
	assert.Equal(t, 1, summary.MaybeCoalescences)
	assert.Equal(t, 4, summary.UniqueLineages)
	assert.Equal(t, 4.0, summary.LastEventTime)
	assert.Equal(t, 2, summary.SpeciesByLocation[sim.Location{X: 0}])
	assert.Equal(t, 1, summary.SpeciesByLocation[sim.Location{X: 1}])
}
