// Package testutil provides assertion helpers shared by the sim test
// packages.
package testutil

import (
	"math"
	"testing"

	"github.com/inference-sim/coalescence-sim/sim"
)

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}

// AssertSameEvents compares two event streams and reports the first event at
// which they diverge, which is far easier to read than a full diff of long
// streams.
func AssertSameEvents(t *testing.T, want, got []sim.Event) bool {
	t.Helper()
	for i := 0; i < min(len(want), len(got)); i++ {
		if want[i] != got[i] {
			t.Errorf("event %d differs:\n  want %s\n  got  %s", i, want[i], got[i])
			return false
		}
	}
	if len(want) != len(got) {
		t.Errorf("got %d events, want %d", len(got), len(want))
		return false
	}
	return true
}
