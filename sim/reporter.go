package sim

// EventFilter declares which reporter channels a sink consumes. Events for
// ignored channels are never constructed.
type EventFilter struct {
	Speciation bool
	Dispersal  bool
	Progress   bool
}

// Any reports whether at least one channel is used.
func (f EventFilter) Any() bool {
	return f.Speciation || f.Dispersal || f.Progress
}

// Union combines the channels used by two filters.
func (f EventFilter) Union(o EventFilter) EventFilter {
	return EventFilter{
		Speciation: f.Speciation || o.Speciation,
		Dispersal:  f.Dispersal || o.Dispersal,
		Progress:   f.Progress || o.Progress,
	}
}

// Reporter is the sink for simulation events and progress.
//
// Each lineage's events arrive in time order. Across lineages the order
// depends on the strategy: the classical and Gillespie strategies report in
// global time order, while the independent strategy simulates lineage by
// lineage, so an event may be reported after a later event of another
// lineage. Sinks that need a global order sort what they collect, as
// trace.EventTrace does.
type Reporter interface {
	Filter() EventFilter
	ReportSpeciation(e Event)
	ReportDispersal(e Event)
	// ReportProgress receives the number of lineages still active.
	ReportProgress(remaining uint64)
}

// NullReporter ignores every channel.
type NullReporter struct{}

func (NullReporter) Filter() EventFilter    { return EventFilter{} }
func (NullReporter) ReportSpeciation(Event) {}
func (NullReporter) ReportDispersal(Event)  {}
func (NullReporter) ReportProgress(uint64)  {}
