package memory

// Handle is one goroutine's registration with a Reclaimer. It carries the
// thread's epoch slot and its private retire ring. A Handle must only be
// used by the goroutine that registered it.
type Handle struct {
	rec   *Reclaimer
	slot  *threadSlot
	ring  *RetireRing
	depth int
}

// Pin enters a read section: the thread records the current global epoch,
// which blocks reclamation of anything retired from now on. Pin nests, so
// container operations may pin internally while the caller holds an outer
// pin; only the outermost Pin records the epoch.
//
// Every Pin must be paired with an Unpin on all exit paths; use defer.
func (h *Handle) Pin() {
	if h.depth == 0 {
		// The recorded epoch may lag the global epoch if an advance races
		// with this store. That only delays reclamation, never unsafes it.
		h.slot.epoch.Store(h.rec.global.Load())
	}
	h.depth++
}

// Unpin leaves a read section. The outermost Unpin clears the epoch
// record so this thread no longer blocks epoch advancement.
func (h *Handle) Unpin() {
	if h.depth == 0 {
		panic("memory: Unpin without matching Pin")
	}
	h.depth--
	if h.depth == 0 {
		h.slot.epoch.Store(inactive)
	}
}

// Pinned reports whether the handle currently holds a pin.
func (h *Handle) Pinned() bool {
	return h.depth > 0
}

// Epoch returns the epoch this thread is pinned at, or the inactive
// sentinel. Diagnostic only.
func (h *Handle) Epoch() uint64 {
	return h.slot.epoch.Load()
}

// Retire hands an unlinked node to the reclaimer. The node is tagged with
// the current global epoch and queued on this thread's ring; it will be
// reclaimed by a later Collect once two epoch advances prove no reader
// can still hold it. A full ring means retirement is outrunning
// collection and is fatal, like any allocation failure here.
func (h *Handle) Retire(n Node) {
	n.SetRetireEpoch(h.rec.global.Load())
	if !h.ring.Enqueue(n) {
		panic("memory: retire ring full")
	}
}
