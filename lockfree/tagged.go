// Package lockfree provides the concurrent containers backing shared game
// state: a Treiber stack, a Michael–Scott queue and an open-addressed hash
// map. All unlinked storage is routed through infra/memory's epoch-based
// reclaimer; nothing is recycled while a pinned reader could still
// observe it.
package lockfree

import (
	"math"
	"sync/atomic"
)

// NilIdx is the null arena index.
const NilIdx = uint32(math.MaxUint32)

// TaggedSlot is a generation-tagged reference: a single atomic word
// packing generation(high 32) | arena index(low 32). Every successful
// CompareAndSwap strictly increments the generation, so a stale
// (index, generation) pair observed by a delayed reader can never match a
// reused index. This is the primary ABA defence; epoch reclamation is the
// complementary one.
type TaggedSlot struct {
	word atomic.Uint64
}

func pack(idx, gen uint32) uint64 {
	return uint64(gen)<<32 | uint64(idx)
}

// Load returns the current (index, generation) pair.
func (s *TaggedSlot) Load() (idx, gen uint32) {
	w := s.word.Load()
	return uint32(w), uint32(w >> 32)
}

// CompareAndSwap replaces the slot with newIdx iff it still holds exactly
// (oldIdx, oldGen). The replacement always carries oldGen+1. The only
// failure mode is contention; callers retry.
func (s *TaggedSlot) CompareAndSwap(oldIdx, oldGen, newIdx uint32) bool {
	return s.word.CompareAndSwap(pack(oldIdx, oldGen), pack(newIdx, oldGen+1))
}

// reset initialises the slot before it is shared. Not for concurrent use.
func (s *TaggedSlot) reset(idx uint32) {
	s.word.Store(pack(idx, 0))
}

// bump redirects a slot whose storage is exclusively owned by the caller
// (a node being linked, or a freshly unlinked node), keeping the
// generation monotone.
func (s *TaggedSlot) bump(idx uint32) {
	w := s.word.Load()
	s.word.Store(pack(idx, uint32(w>>32)+1))
}
