package memory

import "sync/atomic"

// RetireRing is a bounded ring of retired nodes: one producer (the owning
// thread, via Handle.Retire) and any number of competing consumers (every
// caller of Reclaimer.Collect). Entries leave in FIFO order; consumers
// race on the tail with CAS and only the winner reclaims.
type RetireRing struct {
	head atomic.Uint64
	_    [56]byte
	tail atomic.Uint64
	_    [56]byte
	buf  []atomic.Pointer[retireCell]
	mask uint64
}

type retireCell struct {
	n Node
}

func NewRetireRing(size uint64) *RetireRing {
	if size == 0 || size&(size-1) != 0 {
		panic("memory: RetireRing size must be a power of two")
	}
	return &RetireRing{
		buf:  make([]atomic.Pointer[retireCell], size),
		mask: size - 1,
	}
}

// Enqueue appends a node. Producer side only. Returns false when full.
func (r *RetireRing) Enqueue(n Node) bool {
	h := r.head.Load()
	t := r.tail.Load()
	if h-t == uint64(len(r.buf)) {
		return false
	}
	r.buf[h&r.mask].Store(&retireCell{n: n})
	r.head.Store(h + 1)
	return true
}

// Peek returns the oldest node without removing it, or nil. Advisory: the
// node may be gone by the time the caller acts on it.
func (r *RetireRing) Peek() Node {
	t := r.tail.Load()
	if t == r.head.Load() {
		return nil
	}
	c := r.buf[t&r.mask].Load()
	if c == nil {
		return nil
	}
	return c.n
}

// DequeueIf removes and returns the oldest node if ok accepts it. Returns
// nil when the ring is empty or the head node is rejected. Consumers may
// race; the tail CAS picks a single winner per node, so a node is never
// handed out twice. Cells are not cleared on dequeue — a producer can only
// rewrite a cell after the tail has verifiably passed it.
func (r *RetireRing) DequeueIf(ok func(Node) bool) Node {
	for {
		t := r.tail.Load()
		if t == r.head.Load() {
			return nil
		}
		c := r.buf[t&r.mask].Load()
		if c == nil {
			return nil
		}
		if !ok(c.n) {
			return nil
		}
		if r.tail.CompareAndSwap(t, t+1) {
			return c.n
		}
	}
}

// Len reports the number of queued nodes. Approximate under concurrency.
func (r *RetireRing) Len() int {
	return int(r.head.Load() - r.tail.Load())
}
