package ratelimit

import "sync/atomic"

// Priority orders waiters behind an empty bucket. Higher values are
// served first.
type Priority int

const (
	// PriorityLow is for supplementary detail lookups (album tracks, hints).
	PriorityLow Priority = iota
	// PriorityNormal is for bulk content fetches.
	PriorityNormal
	// PriorityHigh is for interactive calls like profile lookups.
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// waiter states, tracked atomically so a grant and a context cancellation
// racing each other settle on exactly one outcome.
const (
	stateWaiting int32 = iota
	stateGranted
	stateCancelled
)

type waiter struct {
	ch    chan struct{} // closed on grant
	prio  Priority
	state atomic.Int32
}

func newWaiter(prio Priority) *waiter {
	return &waiter{ch: make(chan struct{}), prio: prio}
}

// waitQueue holds pending waiters in one FIFO slice per priority tier.
// All methods are called with the owning bucket's mutex held.
type waitQueue struct {
	tiers [PriorityHigh + 1][]*waiter
	size  int
}

func newWaitQueue() *waitQueue {
	return &waitQueue{}
}

func (q *waitQueue) push(w *waiter) {
	q.tiers[w.prio] = append(q.tiers[w.prio], w)
	q.size++
}

// pop removes and returns the earliest waiter of the highest non-empty
// tier, discarding any waiters that were cancelled while queued. Returns
// nil when the queue is empty.
func (q *waitQueue) pop() *waiter {
	for tier := PriorityHigh; tier >= PriorityLow; tier-- {
		for len(q.tiers[tier]) > 0 {
			w := q.tiers[tier][0]
			q.tiers[tier][0] = nil
			q.tiers[tier] = q.tiers[tier][1:]
			q.size--

			if w.state.Load() == stateCancelled {
				continue
			}
			return w
		}
	}
	return nil
}

func (q *waitQueue) len() int {
	return q.size
}
