package coordinator

import "sync"

// Barrier is a cyclic barrier for a fixed number of parties: no party's
// Wait call returns until every party has called Wait, after which the
// barrier resets for reuse on the next phase. The standard library has no
// off-the-shelf reusable barrier (unlike java.util.concurrent.
// CyclicBarrier), so this is built directly on sync.Cond.
type Barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	parties    int
	waiting    int
	generation int
	released   bool
}

// NewBarrier returns a Barrier for the given number of parties. parties
// must be at least 1.
func NewBarrier(parties int) *Barrier {
	b := &Barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until every party has called Wait for the current
// generation, or until Release is called. It returns true if the barrier
// released normally (all parties arrived) and false if it was forced open
// by Release.
func (b *Barrier) Wait() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return false
	}

	gen := b.generation
	b.waiting++
	if b.waiting == b.parties {
		b.waiting = 0
		b.generation++
		b.cond.Broadcast()
		return true
	}

	for gen == b.generation && !b.released {
		b.cond.Wait()
	}
	return gen != b.generation
}

// Release force-opens the barrier for every party currently waiting, and
// every future Wait call, without requiring all parties to arrive. The
// Reassembly Coordinator calls this on cancellation so a barrier waiting
// on a device that will never arrive cannot deadlock the run.
func (b *Barrier) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released = true
	b.cond.Broadcast()
}
