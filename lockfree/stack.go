package lockfree

import (
	"norn/infra/memory"
	"norn/infra/metrics"
)

// Stack is a Treiber stack over a fixed node arena. Push and Pop are
// lock-free: a failed CAS means another goroutine made progress, and the
// loser retries with backoff. Popped nodes are retired through the
// reclaimer, never recycled inline.
type Stack[T any] struct {
	ar    *arena[T]
	top   TaggedSlot
	stats metrics.CAS
}

// NewStack creates a stack whose arena holds capacity nodes. Size the
// arena for peak live elements plus the retirement backlog between
// collector passes.
func NewStack[T any](capacity int) *Stack[T] {
	s := &Stack[T]{ar: newArena[T](capacity)}
	s.top.reset(NilIdx)
	return s
}

// Push allocates a node for v and links it as the new top.
func (s *Stack[T]) Push(h *memory.Handle, v T) {
	h.Pin()
	defer h.Unpin()

	n := s.ar.alloc(v)
	var b backoff
	for {
		topIdx, topGen := s.top.Load()
		n.next.bump(topIdx)
		if s.top.CompareAndSwap(topIdx, topGen, n.idx) {
			s.stats.Success.Add(1)
			return
		}
		s.stats.Failure.Add(1)
		b.wait()
	}
}

// Pop unlinks the top node and returns its value, or (zero, false) when
// the stack is empty. Emptiness is a normal return, never an error. The
// unlinked node is retired; the reclaimer frees it once no pinned
// goroutine can still be looking at it.
func (s *Stack[T]) Pop(h *memory.Handle) (T, bool) {
	h.Pin()
	defer h.Unpin()

	var zero T
	var b backoff
	for {
		topIdx, topGen := s.top.Load()
		if topIdx == NilIdx {
			return zero, false
		}
		n := s.ar.at(topIdx)
		n.assertLive()
		nextIdx, _ := n.next.Load()
		if s.top.CompareAndSwap(topIdx, topGen, nextIdx) {
			s.stats.Success.Add(1)
			v := n.val
			h.Retire(n)
			return v, true
		}
		s.stats.Failure.Add(1)
		b.wait()
	}
}

// Empty is a snapshot read. The answer can be stale the instant it
// returns; use it for diagnostics, never for correctness decisions.
func (s *Stack[T]) Empty() bool {
	idx, _ := s.top.Load()
	return idx == NilIdx
}

// Stats exposes the stack's CAS counters.
func (s *Stack[T]) Stats() *metrics.CAS {
	return &s.stats
}
