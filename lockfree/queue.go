package lockfree

import (
	"norn/infra/memory"
	"norn/infra/metrics"
)

// Queue is a Michael–Scott FIFO queue over a fixed node arena. It keeps a
// permanent dummy node so the queue is never headless: head points at the
// dummy, head.next at the oldest element, tail at (or one behind) the
// newest.
//
// The crux of the two-pointer design is helping: the tail is allowed to
// lag by one node, and any goroutine that notices the lag swings the tail
// forward before proceeding. A stalled enqueuer therefore cannot block
// anyone else — unlike a naive adaptation of the stack's single-pointer
// CAS.
type Queue[T any] struct {
	ar    *arena[T]
	head  TaggedSlot
	_     [56]byte
	tail  TaggedSlot
	_     [56]byte
	stats metrics.CAS
}

// NewQueue creates a queue whose arena holds capacity nodes, one of which
// is permanently consumed by the dummy.
func NewQueue[T any](capacity int) *Queue[T] {
	q := &Queue[T]{ar: newArena[T](capacity)}
	var zero T
	dummy := q.ar.alloc(zero)
	q.head.reset(dummy.idx)
	q.tail.reset(dummy.idx)
	return q
}

// Enqueue appends v at the tail.
func (q *Queue[T]) Enqueue(h *memory.Handle, v T) {
	h.Pin()
	defer h.Unpin()

	n := q.ar.alloc(v)
	var b backoff
	for {
		tailIdx, tailGen := q.tail.Load()
		tn := q.ar.at(tailIdx)
		tn.assertLive()
		nextIdx, nextGen := tn.next.Load()

		// Re-validate: tail and tail.next must be a consistent pair.
		if curIdx, curGen := q.tail.Load(); curIdx != tailIdx || curGen != tailGen {
			continue
		}

		if nextIdx == NilIdx {
			if tn.next.CompareAndSwap(NilIdx, nextGen, n.idx) {
				// Linearized. Swinging the tail is best effort; if it
				// fails, a helper already did it.
				q.tail.CompareAndSwap(tailIdx, tailGen, n.idx)
				q.stats.Success.Add(1)
				return
			}
			q.stats.Failure.Add(1)
			b.wait()
			continue
		}

		// Tail is lagging behind an in-flight enqueue: help it forward
		// and retry.
		q.tail.CompareAndSwap(tailIdx, tailGen, nextIdx)
	}
}

// Dequeue removes the oldest element, or returns (zero, false) when the
// queue is empty. The node that held the element becomes the new dummy;
// the old dummy is retired.
func (q *Queue[T]) Dequeue(h *memory.Handle) (T, bool) {
	h.Pin()
	defer h.Unpin()

	var zero T
	var b backoff
	for {
		headIdx, headGen := q.head.Load()
		tailIdx, tailGen := q.tail.Load()
		hn := q.ar.at(headIdx)
		hn.assertLive()
		nextIdx, _ := hn.next.Load()

		if curIdx, curGen := q.head.Load(); curIdx != headIdx || curGen != headGen {
			continue
		}

		if headIdx == tailIdx {
			if nextIdx == NilIdx {
				return zero, false
			}
			// Tail lags behind head.next: help swing it, then retry.
			q.tail.CompareAndSwap(tailIdx, tailGen, nextIdx)
			continue
		}

		// Read the payload before the CAS: after head moves on, the node
		// may be retired by the winner.
		n := q.ar.at(nextIdx)
		n.assertLive()
		v := n.val

		if q.head.CompareAndSwap(headIdx, headGen, nextIdx) {
			q.stats.Success.Add(1)
			h.Retire(hn)
			return v, true
		}
		q.stats.Failure.Add(1)
		b.wait()
	}
}

// Empty is a snapshot read; diagnostic only. It needs the handle because
// even this peek dereferences the dummy node.
func (q *Queue[T]) Empty(h *memory.Handle) bool {
	h.Pin()
	defer h.Unpin()

	headIdx, _ := q.head.Load()
	hn := q.ar.at(headIdx)
	hn.assertLive()
	nextIdx, _ := hn.next.Load()
	return nextIdx == NilIdx
}

// Stats exposes the queue's CAS counters.
func (q *Queue[T]) Stats() *metrics.CAS {
	return &q.stats
}
