package partition

import (
	"sync"
	"sync/atomic"

	"github.com/inference-sim/coalescence-sim/sim"
)

// mailbox keeps one FIFO queue per sender so that lineages between a pair of
// partitions are delivered in the order they were sent.
type mailbox struct {
	mu     sync.Mutex
	queues [][]sim.MigratingLineage
	notify chan struct{}
}

// Transport exchanges migrating lineages between partitions and detects
// global termination: it tracks how many lineages are still alive anywhere
// and closes Done once the last one has ended.
//
// Thread-safety: safe for concurrent use by one goroutine per partition.
type Transport struct {
	mailboxes   []*mailbox
	outstanding atomic.Int64
	done        chan struct{}
	closeOnce   sync.Once
}

// NewTransport creates a transport between partitions that together start
// with the given number of live lineages.
func NewTransport(partitions int, lineages uint64) *Transport {
	if partitions < 1 {
		panic("partition: transport needs at least one partition")
	}
	t := &Transport{
		mailboxes: make([]*mailbox, partitions),
		done:      make(chan struct{}),
	}
	for i := range t.mailboxes {
		t.mailboxes[i] = &mailbox{
			queues: make([][]sim.MigratingLineage, partitions),
			notify: make(chan struct{}, 1),
		}
	}
	t.outstanding.Store(int64(lineages))
	if lineages == 0 {
		t.closeDone()
	}
	return t
}

// Send appends a batch to the mailbox of rank to and wakes its owner.
func (t *Transport) Send(from, to int, batch []sim.MigratingLineage) {
	if len(batch) == 0 {
		return
	}
	box := t.mailboxes[to]
	box.mu.Lock()
	box.queues[from] = append(box.queues[from], batch...)
	box.mu.Unlock()
	select {
	case box.notify <- struct{}{}:
	default:
	}
}

// Receive drains the mailbox of rank, ordered by sender rank and then by
// send order.
func (t *Transport) Receive(rank int) []sim.MigratingLineage {
	box := t.mailboxes[rank]
	box.mu.Lock()
	defer box.mu.Unlock()
	var received []sim.MigratingLineage
	for from, queue := range box.queues {
		received = append(received, queue...)
		box.queues[from] = nil
	}
	return received
}

// Notify is signalled after mail arrives for rank.
func (t *Transport) Notify(rank int) <-chan struct{} { return t.mailboxes[rank].notify }

// Done is closed once no lineage is alive in any partition or in transit.
func (t *Transport) Done() <-chan struct{} { return t.done }

// Retire records that n lineages ended through speciation or coalescence.
func (t *Transport) Retire(n uint64) {
	if n == 0 {
		return
	}
	remaining := t.outstanding.Add(-int64(n))
	if remaining < 0 {
		panic("partition: more lineages retired than were alive")
	}
	if remaining == 0 {
		t.closeDone()
	}
}

// Outstanding returns the number of lineages still alive.
func (t *Transport) Outstanding() int64 { return t.outstanding.Load() }

func (t *Transport) closeDone() {
	t.closeOnce.Do(func() { close(t.done) })
}
