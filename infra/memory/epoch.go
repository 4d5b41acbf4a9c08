package memory

import "sync/atomic"

// inactive marks a thread slot whose owner is not inside a pinned section.
const inactive = ^uint64(0)

// Reclaimer coordinates epoch-based reclamation for the lock-free
// containers. It is explicitly constructed and explicitly shared: every
// participating goroutine registers once, receives a Handle, and routes
// all pinning and retirement through it. There is no global instance and
// no implicit teardown; callers must ensure all registered goroutines are
// unpinned before dropping the Reclaimer.
//
// Safety rule: a retired node is reclaimed only once the global epoch has
// advanced at least two generations past its retirement epoch. A pinned
// thread holds the global epoch at most one generation ahead of its
// recorded epoch, so no pinned thread can predate a reclaimed node.
type Reclaimer struct {
	global   atomic.Uint64
	nreg     atomic.Int32
	ringSize uint64
	slots    []threadSlot
}

// threadSlot is one registered thread's epoch record. Padded so that
// neighbouring slots do not share a cache line.
type threadSlot struct {
	epoch  atomic.Uint64
	_      [56]byte
	handle atomic.Pointer[Handle]
	_      [56]byte
}

// NewReclaimer creates a reclaimer for at most maxThreads registered
// goroutines, each with a retire ring of ringSize entries (power of two).
func NewReclaimer(maxThreads int, ringSize uint64) *Reclaimer {
	if maxThreads <= 0 {
		panic("memory: maxThreads must be positive")
	}
	r := &Reclaimer{
		ringSize: ringSize,
		slots:    make([]threadSlot, maxThreads),
	}
	for i := range r.slots {
		r.slots[i].epoch.Store(inactive)
	}
	return r
}

// Register claims a thread slot and returns the Handle for the calling
// goroutine. Registration past the construction bound is a wiring bug and
// panics.
func (r *Reclaimer) Register() *Handle {
	i := int(r.nreg.Add(1)) - 1
	if i >= len(r.slots) {
		panic("memory: thread registration limit reached")
	}
	h := &Handle{
		rec:  r,
		slot: &r.slots[i],
		ring: NewRetireRing(r.ringSize),
	}
	r.slots[i].handle.Store(h)
	return h
}

// Epoch returns the current global epoch.
func (r *Reclaimer) Epoch() uint64 {
	return r.global.Load()
}

// TryAdvance advances the global epoch by one. It succeeds only if every
// pinned thread's recorded epoch equals the current global epoch;
// unpinned threads are ignored. A thread pinned at an older epoch blocks
// advancement until it unpins, which is exactly what keeps reclamation
// safe.
func (r *Reclaimer) TryAdvance() bool {
	cur := r.global.Load()
	n := int(r.nreg.Load())
	if n > len(r.slots) {
		n = len(r.slots)
	}
	for i := 0; i < n; i++ {
		e := r.slots[i].epoch.Load()
		if e != inactive && e != cur {
			return false
		}
	}
	return r.global.CompareAndSwap(cur, cur+1)
}

// Collect reclaims retired nodes whose retirement epoch is at least two
// generations behind the current global epoch. Rings are FIFO and
// retirement epochs are monotone per ring, so collection stops at the
// first node that is not yet safe. Safe to call from any goroutine,
// including concurrently with the background maintenance job.
func (r *Reclaimer) Collect() int {
	cur := r.global.Load()
	safe := func(n Node) bool { return n.RetireEpoch()+2 <= cur }

	freed := 0
	reg := int(r.nreg.Load())
	if reg > len(r.slots) {
		reg = len(r.slots)
	}
	for i := 0; i < reg; i++ {
		h := r.slots[i].handle.Load()
		if h == nil {
			continue
		}
		for {
			n := h.ring.DequeueIf(safe)
			if n == nil {
				break
			}
			n.Reclaim()
			freed++
		}
	}
	return freed
}

// Pending reports how many retired nodes are still waiting for
// reclamation. Diagnostic only.
func (r *Reclaimer) Pending() int {
	total := 0
	reg := int(r.nreg.Load())
	if reg > len(r.slots) {
		reg = len(r.slots)
	}
	for i := 0; i < reg; i++ {
		if h := r.slots[i].handle.Load(); h != nil {
			total += h.ring.Len()
		}
	}
	return total
}
