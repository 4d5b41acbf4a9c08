package lockfree

import (
	"sync/atomic"

	"norn/infra/memory"
)

// arena is a fixed slab of nodes addressed by the 32-bit indices carried
// in TaggedSlots. Nodes are never returned to the Go heap: a retired node
// is handed to the reclaimer and re-enters the free list only through
// Reclaim, once no pinned thread can observe it. The free list is itself
// a tagged Treiber stack over the nodes' next slots.
type arena[T any] struct {
	nodes []node[T]
	free  TaggedSlot
}

type node[T any] struct {
	next   TaggedSlot
	canary atomic.Uint64
	retire uint64
	idx    uint32
	owner  *arena[T]
	val    T
}

func newArena[T any](capacity int) *arena[T] {
	if capacity <= 0 || capacity >= int(NilIdx) {
		panic("lockfree: invalid arena capacity")
	}
	a := &arena[T]{nodes: make([]node[T], capacity)}
	for i := range a.nodes {
		n := &a.nodes[i]
		n.idx = uint32(i)
		n.owner = a
		n.canary.Store(memory.CanaryPoison)
		if i == len(a.nodes)-1 {
			n.next.reset(NilIdx)
		} else {
			n.next.reset(uint32(i + 1))
		}
	}
	a.free.reset(0)
	return a
}

func (a *arena[T]) at(idx uint32) *node[T] {
	return &a.nodes[idx]
}

// alloc pops a free node and stamps it live. Exhaustion means the arena
// was sized below peak live nodes plus the retirement backlog; that is an
// allocation failure and therefore fatal.
func (a *arena[T]) alloc(v T) *node[T] {
	for {
		idx, gen := a.free.Load()
		if idx == NilIdx {
			panic("lockfree: node arena exhausted")
		}
		n := a.at(idx)
		nextIdx, _ := n.next.Load()
		if a.free.CompareAndSwap(idx, gen, nextIdx) {
			n.canary.Store(memory.CanaryLive)
			n.val = v
			n.next.bump(NilIdx)
			return n
		}
	}
}

// release pushes a reclaimed node back on the free list. Only called from
// Reclaim, i.e. with exclusive ownership of the node.
func (a *arena[T]) release(n *node[T]) {
	for {
		idx, gen := a.free.Load()
		n.next.bump(idx)
		if a.free.CompareAndSwap(idx, gen, n.idx) {
			return
		}
	}
}

func (n *node[T]) RetireEpoch() uint64     { return n.retire }
func (n *node[T]) SetRetireEpoch(e uint64) { n.retire = e }

// Reclaim poisons the node and returns it to its arena's free list.
func (n *node[T]) Reclaim() {
	var zero T
	n.val = zero
	n.canary.Store(memory.CanaryPoison)
	n.owner.release(n)
}

// assertLive panics if the node has been reclaimed while still reachable
// by the caller. That can only happen if the epoch discipline is broken —
// a design defect, not a runtime condition to recover from.
func (n *node[T]) assertLive() {
	if n.canary.Load() != memory.CanaryLive {
		panic("lockfree: node observed after reclamation")
	}
}
