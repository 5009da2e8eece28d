package trace

import (
	"github.com/inference-sim/coalescence-sim/sim"
)

type meeting struct {
	origin sim.IndexedLocation
	time   float64
}

// ResolveDuplicates settles the coalescences that the independent strategy
// leaves open. Lineages with an event at the same indexed location and time
// shared that indexed location since the later one arrived, and every event
// they have from then on is identical. For each such meeting, in time order:
//
//   - the lineage that arrived first (smallest PriorTime, then smallest
//     reference) is the resident and keeps the shared future;
//   - every other lineage's arrival dispersal becomes a coalescence into the
//     resident and its later events are dropped.
//
// When a lineage's arrival is not part of the stream, as in a speciation-only
// trace or the second half of a resumed run, its events are dropped without a
// replacement. The result is sorted and does not depend on which duplicates
// the dedup cache retired during the run.
func ResolveDuplicates(events []sim.Event) []sim.Event {
	resolved := make([]sim.Event, len(events))
	copy(resolved, events)
	sim.SortEvents(resolved)

	byLineage := make(map[sim.GlobalReference][]int)
	meetings := make(map[meeting][]int)
	var order []meeting
	for i, e := range resolved {
		byLineage[e.Lineage] = append(byLineage[e.Lineage], i)
		m := meeting{origin: e.Origin, time: e.Time}
		if _, ok := meetings[m]; !ok {
			order = append(order, m)
		}
		meetings[m] = append(meetings[m], i)
	}

	dropped := make([]bool, len(resolved))
	for _, m := range order {
		var members []int
		for _, i := range meetings[m] {
			if !dropped[i] {
				members = append(members, i)
			}
		}
		if len(members) < 2 {
			continue
		}

		resident := members[0]
		for _, i := range members[1:] {
			if arrivedFirst(resolved[i], resolved[resident]) {
				resident = i
			}
		}
		// The resident carries on with a sampled future, which may have been
		// recorded under a lineage that the cache kept instead of it.
		carrier := resident
		if resolved[resident].IsDuplicate() {
			for _, i := range members {
				if !resolved[i].IsDuplicate() && (carrier == resident || resolved[i].Lineage < resolved[carrier].Lineage) {
					carrier = i
				}
			}
		}
		owner := resolved[resident].Lineage
		type arrivedAt struct {
			lineage sim.GlobalReference
			prior   float64
		}
		var others []arrivedAt
		for _, i := range members {
			if i != resident {
				others = append(others, arrivedAt{lineage: resolved[i].Lineage, prior: resolved[i].PriorTime})
			}
		}
		if carrier != resident {
			from := resolved[carrier].Lineage
			for _, j := range eventsFrom(resolved, byLineage[owner], m.time) {
				dropped[j] = true
			}
			tail := eventsFrom(resolved, byLineage[from], m.time)
			for _, j := range tail {
				resolved[j].Lineage = owner
			}
			resolved[carrier].PriorTime = resolved[resident].PriorTime
			byLineage[owner] = append(eventsBefore(resolved, byLineage[owner], m.time), tail...)
			byLineage[from] = eventsBefore(resolved, byLineage[from], m.time)
		}

		for _, o := range others {
			for _, j := range eventsFrom(resolved, byLineage[o.lineage], m.time) {
				dropped[j] = true
			}
			if a, ok := arrival(resolved, dropped, byLineage[o.lineage], o.prior); ok {
				resolved[a].Interaction = sim.Interaction{Kind: sim.InteractionCoalescence, Parent: owner}
			}
		}
	}

	out := make([]sim.Event, 0, len(resolved))
	for i, e := range resolved {
		if !dropped[i] {
			out = append(out, e)
		}
	}
	sim.SortEvents(out)
	return out
}

func arrivedFirst(a, b sim.Event) bool {
	if a.PriorTime != b.PriorTime {
		return a.PriorTime < b.PriorTime
	}
	return a.Lineage < b.Lineage
}

// arrival finds the dispersal that brought a lineage to where it met another.
func arrival(events []sim.Event, dropped []bool, indices []int, at float64) (int, bool) {
	for _, i := range indices {
		e := events[i]
		if !dropped[i] && e.Time == at && e.Kind == sim.EventDispersal && !e.IsCoalescence() {
			return i, true
		}
	}
	return 0, false
}

func eventsFrom(events []sim.Event, indices []int, t float64) []int {
	var out []int
	for _, i := range indices {
		if events[i].Time >= t {
			out = append(out, i)
		}
	}
	return out
}

func eventsBefore(events []sim.Event, indices []int, t float64) []int {
	var out []int
	for _, i := range indices {
		if events[i].Time < t {
			out = append(out, i)
		}
	}
	return out
}
