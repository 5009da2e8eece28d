package reporter

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/coalescence-sim/sim"
)

// Progress logs the number of remaining lineages at info level.
type Progress struct {
	label string
	total uint64
	start time.Time
	now   func() time.Time
}

// NewProgress creates a progress logger for a run that starts with total
// lineages. label identifies the partition in log lines.
func NewProgress(label string, total uint64) *Progress {
	return &Progress{label: label, total: total, start: time.Now(), now: time.Now}
}

// Filter implements sim.Reporter.
func (p *Progress) Filter() sim.EventFilter { return sim.EventFilter{Progress: true} }

// ReportSpeciation implements sim.Reporter.
func (p *Progress) ReportSpeciation(sim.Event) {}

// ReportDispersal implements sim.Reporter.
func (p *Progress) ReportDispersal(sim.Event) {}

// ReportProgress implements sim.Reporter.
func (p *Progress) ReportProgress(remaining uint64) {
	logrus.WithFields(logrus.Fields{
		"partition": p.label,
		"remaining": remaining,
		"elapsed":   p.now().Sub(p.start).Round(time.Millisecond),
	}).Infof("%.2f%% of lineages resolved", p.Fraction(remaining)*100)
}

// Fraction returns the share of the initial lineages that have been resolved.
func (p *Progress) Fraction(remaining uint64) float64 {
	if p.total == 0 || remaining >= p.total {
		return 0
	}
	return float64(p.total-remaining) / float64(p.total)
}
