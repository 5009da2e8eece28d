// Package reporter provides sim.Reporter implementations that combine,
// log and export the event stream of a simulation.
package reporter

import "github.com/inference-sim/coalescence-sim/sim"

// Group forwards every event to each member reporter that asked for it.
//
// Thread-safety: as safe as its members.
type Group struct {
	members []sim.Reporter
	filter  sim.EventFilter
}

// NewGroup combines reporters. Nil members are skipped.
func NewGroup(members ...sim.Reporter) *Group {
	g := &Group{}
	for _, m := range members {
		if m == nil {
			continue
		}
		g.members = append(g.members, m)
		g.filter = g.filter.Union(m.Filter())
	}
	return g
}

// Filter returns the union of the members' filters.
func (g *Group) Filter() sim.EventFilter { return g.filter }

// ReportSpeciation implements sim.Reporter.
func (g *Group) ReportSpeciation(e sim.Event) {
	for _, m := range g.members {
		if m.Filter().Speciation {
			m.ReportSpeciation(e)
		}
	}
}

// ReportDispersal implements sim.Reporter.
func (g *Group) ReportDispersal(e sim.Event) {
	for _, m := range g.members {
		if m.Filter().Dispersal {
			m.ReportDispersal(e)
		}
	}
}

// ReportProgress implements sim.Reporter.
func (g *Group) ReportProgress(remaining uint64) {
	for _, m := range g.members {
		if m.Filter().Progress {
			m.ReportProgress(remaining)
		}
	}
}
