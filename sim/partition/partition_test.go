package partition

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/coalescence-sim/sim"
	"github.com/inference-sim/coalescence-sim/sim/decomposition"
	"github.com/inference-sim/coalescence-sim/sim/habitat"
)

func TestMain(m *testing.M) {
	// Suppress verbose simulation logs during tests to speed up CI
	// Set DEBUG_TESTS=1 to see full logs: DEBUG_TESTS=1 go test ./sim/... -v
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

func migrant(ref sim.GlobalReference, t float64, x uint32) sim.MigratingLineage {
	return sim.MigratingLineage{
		GlobalReference:   ref,
		DispersalOrigin:   sim.IndexedLocation{Location: sim.Location{X: 0}},
		DispersalTarget:   sim.Location{X: x},
		PriorTime:         t / 2,
		EventTime:         t,
		CoalescenceSample: 0.5,
	}
}

func refs(ms []sim.MigratingLineage) []sim.GlobalReference {
	out := make([]sim.GlobalReference, len(ms))
	for i, m := range ms {
		out[i] = m.GlobalReference
	}
	return out
}

func TestBufferedImmigrationEntry_ReleasesInTimeOrder(t *testing.T) {
	// GIVEN immigrants scheduled out of order, two of them at the same time
	e := NewBufferedImmigrationEntry()
	e.Schedule(migrant(3, 2.0, 1))
	e.Schedule(migrant(5, 1.0, 1))
	e.Schedule(migrant(4, 1.0, 1))
	e.Schedule(migrant(1, 4.0, 1))

	// THEN pending lineages are listed by time then reference
	assert.Equal(t, 4, e.Pending())
	assert.Equal(t, []sim.GlobalReference{4, 5, 3, 1}, refs(e.PendingLineages()))
	top, ok := e.Peek()
	require.True(t, ok)
	assert.Equal(t, sim.GlobalReference(4), top.GlobalReference)

	// WHEN the next local event is at t=1.5
	// THEN only immigrants due by then are released
	var released []sim.GlobalReference
	for {
		m, ok := e.NextOptionalImmigration(1.5, true)
		if !ok {
			break
		}
		released = append(released, m.GlobalReference)
	}
	assert.Equal(t, []sim.GlobalReference{4, 5}, released)

	// WHEN there is no local event left
	// THEN the remaining immigrants are released regardless of time
	m, ok := e.NextOptionalImmigration(0, false)
	require.True(t, ok)
	assert.Equal(t, sim.GlobalReference(3), m.GlobalReference)
	assert.Equal(t, 1, e.Pending())
	assert.Equal(t, uint64(4), e.Total())
}

func TestBufferedImmigrationEntry_ImmigrantAtEventTimeGoesFirst(t *testing.T) {
	e := NewBufferedImmigrationEntry()
	e.Schedule(migrant(1, 2.0, 1))

	m, ok := e.NextOptionalImmigration(2.0, true)
	require.True(t, ok)
	assert.Equal(t, 2.0, m.EventTime)
}

func TestImmediateImmigrationEntry_ReleasesInArrivalOrder(t *testing.T) {
	// GIVEN an immediate entry
	e := NewImmediateImmigrationEntry()
	e.Schedule(migrant(3, 5.0, 1))
	e.Schedule(migrant(1, 1.0, 1))

	// THEN immigrants are released first-in first-out even before local events
	m, ok := e.NextOptionalImmigration(0.1, true)
	require.True(t, ok)
	assert.Equal(t, sim.GlobalReference(3), m.GlobalReference)
	m, ok = e.NextOptionalImmigration(0.1, true)
	require.True(t, ok)
	assert.Equal(t, sim.GlobalReference(1), m.GlobalReference)
	_, ok = e.NextOptionalImmigration(0.1, true)
	assert.False(t, ok)
	_, ok = e.Peek()
	assert.False(t, ok)
}

func TestDomainEmigrationExit_KeepsOwnSubdomain(t *testing.T) {
	// GIVEN rank 0 of a modulo decomposition over a 4x1 strip
	h, err := habitat.NewUniform(4, 1, 1)
	require.NoError(t, err)
	exit := NewDomainEmigrationExit(h, decomposition.NewModulo(0, 2))

	// WHEN lineages disperse to even and odd columns
	assert.True(t, exit.OptionallyEmigrate(migrant(1, 1, 2)))
	assert.False(t, exit.OptionallyEmigrate(migrant(2, 1, 1)))
	assert.False(t, exit.OptionallyEmigrate(migrant(3, 2, 3)))

	// THEN only the odd columns emigrate, to rank 1, unchanged
	emigrants := exit.TakeEmigrants()
	require.Len(t, emigrants, 2)
	assert.Equal(t, Emigrant{Rank: 1, Lineage: migrant(2, 1, 1)}, emigrants[0])
	assert.Equal(t, Emigrant{Rank: 1, Lineage: migrant(3, 2, 3)}, emigrants[1])
	assert.Empty(t, exit.TakeEmigrants())
	assert.Equal(t, uint64(2), exit.Total())
}

func TestTransport_DeliversBySenderThenSendOrder(t *testing.T) {
	// GIVEN batches sent to rank 0 from ranks 2 and 1
	tr := NewTransport(3, 10)
	tr.Send(2, 0, []sim.MigratingLineage{migrant(7, 1, 0)})
	tr.Send(1, 0, []sim.MigratingLineage{migrant(5, 3, 0), migrant(6, 1, 0)})
	tr.Send(2, 0, []sim.MigratingLineage{migrant(8, 0.5, 0)})

	// THEN rank 0 is notified
	select {
	case <-tr.Notify(0):
	default:
		t.Fatal("expected a notification for rank 0")
	}

	// THEN the mail is ordered by sender and then by send order
	assert.Equal(t, []sim.GlobalReference{5, 6, 7, 8}, refs(tr.Receive(0)))
	assert.Empty(t, tr.Receive(0))
	assert.Empty(t, tr.Receive(1))
}

func TestTransport_DoneAfterLastRetirement(t *testing.T) {
	tr := NewTransport(2, 3)
	tr.Retire(2)
	select {
	case <-tr.Done():
		t.Fatal("done closed with a lineage outstanding")
	default:
	}
	assert.Equal(t, int64(1), tr.Outstanding())

	tr.Retire(1)
	<-tr.Done()
	assert.Zero(t, tr.Outstanding())
	assert.Panics(t, func() { tr.Retire(1) })
}

func TestTransport_EmptyRunIsDoneImmediately(t *testing.T) {
	tr := NewTransport(1, 0)
	<-tr.Done()
	assert.Panics(t, func() { NewTransport(0, 1) })
}

func TestMergeEvents_SortsAcrossStreams(t *testing.T) {
	a := []sim.Event{{Time: 1, Lineage: 2}, {Time: 3, Lineage: 1}}
	b := []sim.Event{{Time: 1, Lineage: 1}, {Time: 2, Lineage: 9}}

	merged := MergeEvents(a, nil, b)

	require.Len(t, merged, 4)
	assert.Equal(t, []float64{1, 1, 2, 3}, []float64{merged[0].Time, merged[1].Time, merged[2].Time, merged[3].Time})
	assert.Equal(t, sim.GlobalReference(1), merged[0].Lineage)
}
