package dispersal

import "github.com/inference-sim/coalescence-sim/sim"

// aliasTable samples from a discrete distribution in O(1) (Vose's method).
type aliasTable struct {
	events []int
	prob   []float64
	alias  []int
}

// newAliasTable builds a table over the events with positive weight. It
// returns nil if the total weight is zero.
func newAliasTable(weights []float64, skip int) *aliasTable {
	t := &aliasTable{}
	var scaled []float64
	total := 0.0
	for i, w := range weights {
		if i == skip || w <= 0 {
			continue
		}
		t.events = append(t.events, i)
		scaled = append(scaled, w)
		total += w
	}
	if len(t.events) == 0 || total <= 0 {
		return nil
	}

	n := len(scaled)
	t.prob = make([]float64, n)
	t.alias = make([]int, n)
	var small, large []int
	for i := range scaled {
		scaled[i] = scaled[i] * float64(n) / total
		if scaled[i] < 1 {
			small = append(small, i)
		} else {
			large = append(large, i)
		}
	}
	for len(small) > 0 && len(large) > 0 {
		s := small[len(small)-1]
		small = small[:len(small)-1]
		l := large[len(large)-1]
		large = large[:len(large)-1]

		t.prob[s] = scaled[s]
		t.alias[s] = l
		scaled[l] = (scaled[l] + scaled[s]) - 1
		if scaled[l] < 1 {
			small = append(small, l)
		} else {
			large = append(large, l)
		}
	}
	// Leftovers are exactly 1 up to rounding.
	for _, i := range append(small, large...) {
		t.prob[i] = 1
		t.alias[i] = i
	}
	return t
}

func (t *aliasTable) sample(rng sim.RNG) int {
	i := sim.SampleIndex(rng, uint64(len(t.events)))
	if sim.UniformClosedOpen(rng) < t.prob[i] {
		return t.events[i]
	}
	return t.events[t.alias[i]]
}
