package lockfree

import (
	"errors"
	"sync/atomic"

	"norn/infra/memory"
	"norn/infra/metrics"
)

// ErrCapacity is returned by Insert when the table cannot grow any
// further: live entries already fill the maximum capacity, so neither
// doubling nor compaction can make room. This is an explicit condition,
// never a silent failure.
var ErrCapacity = errors.New("lockfree: map capacity exhausted")

// DefaultMaxCapacity bounds table growth unless a bound is given at
// construction.
const DefaultMaxCapacity = 1 << 30

// Map is an open-addressed hash map with linear probing and tombstone
// deletion.
//
// Insert, Get and Remove are individually lock-free. Resize is NOT: it is
// a cooperative, epoch-protected swap. One goroutine claims the resize,
// seals the old table bucket by bucket, copies the live entries into a
// fresh table and publishes it; writers that run into a sealed bucket
// back off until the new table appears. The old table is retired through
// the reclaimer rather than freed, because pinned readers may still be
// probing it.
//
// Key slots are claimed once and never released while a table lives: a
// removed entry leaves a tombstone (key set, value nil) that probes skip
// but that keeps the probe chain intact. Tombstones are compacted away by
// the next resize. Inserting a key whose tombstone is found revives that
// slot rather than claiming a new one.
//
// Upsert policy: inserting a key that is already present replaces the
// value and returns the previous one.
type Map[K comparable, V any] struct {
	curr   atomic.Pointer[table[K, V]]
	hash   func(K) uint64
	maxCap int
	stats  metrics.CAS
}

// Key slot states. A claimed key is immutable until the table dies.
const (
	keyEmpty uint32 = iota
	keyClaiming
	keySet
)

type bucket[K comparable, V any] struct {
	kstate atomic.Uint32
	hash   uint64
	key    K
	val    atomic.Pointer[vbox[V]]
}

// vbox is one immutable published value. Boxes are heap-owned and never
// reused, so a value CAS can never suffer ABA. A box with moved set is a
// resize seal: live tells readers whether the slot held a value at the
// moment it was sealed, and writers treat any sealed slot as a signal to
// wait for the new table.
type vbox[V any] struct {
	v     V
	live  bool
	moved bool
}

type table[K comparable, V any] struct {
	buckets  []bucket[K, V]
	mask     uint64
	live     atomic.Int64
	used     atomic.Int64
	resizing atomic.Bool
	canary   atomic.Uint64
	retire   uint64
}

func newTable[K comparable, V any](capacity int) *table[K, V] {
	t := &table[K, V]{
		buckets: make([]bucket[K, V], capacity),
		mask:    uint64(capacity - 1),
	}
	t.canary.Store(memory.CanaryLive)
	return t
}

func (t *table[K, V]) RetireEpoch() uint64     { return t.retire }
func (t *table[K, V]) SetRetireEpoch(e uint64) { t.retire = e }

// Reclaim poisons the table; the storage itself goes back to the garbage
// collector once the last reference drops.
func (t *table[K, V]) Reclaim() {
	t.canary.Store(memory.CanaryPoison)
}

func (t *table[K, V]) assertLive() {
	if t.canary.Load() != memory.CanaryLive {
		panic("lockfree: map table observed after reclamation")
	}
}

// growThreshold is the used-slot count (live + tombstones) above which a
// table is resized.
func growThreshold(capacity int) int64 {
	return int64(capacity) * 3 / 4
}

// NewMap creates a map with the given initial capacity (rounded up to a
// power of two, minimum 8) and the default growth bound. The hash
// function must be deterministic for the life of the map.
func NewMap[K comparable, V any](capacity int, hash func(K) uint64) *Map[K, V] {
	return NewBoundedMap[K, V](capacity, DefaultMaxCapacity, hash)
}

// NewBoundedMap is NewMap with an explicit maximum capacity, after which
// Insert reports ErrCapacity instead of growing.
func NewBoundedMap[K comparable, V any](capacity, maxCapacity int, hash func(K) uint64) *Map[K, V] {
	if hash == nil {
		panic("lockfree: nil hash function")
	}
	c := ceilPow2(capacity)
	mc := ceilPow2(maxCapacity)
	if mc < c {
		mc = c
	}
	m := &Map[K, V]{hash: hash, maxCap: mc}
	m.curr.Store(newTable[K, V](c))
	return m
}

func ceilPow2(n int) int {
	c := 8
	for c < n {
		c <<= 1
	}
	return c
}

// Insert stores v under k. If k was already present the previous value is
// returned with replaced=true. ErrCapacity is the only error.
func (m *Map[K, V]) Insert(h *memory.Handle, k K, v V) (prev V, replaced bool, err error) {
	h.Pin()
	defer h.Unpin()

	var zero V
	hv := m.hash(k)
	box := &vbox[V]{v: v, live: true}
	var b backoff

outer:
	for {
		t := m.curr.Load()
		t.assertLive()

		if t.used.Load() >= growThreshold(len(t.buckets)) {
			if err := m.resize(h, t); err != nil {
				return zero, false, err
			}
			continue
		}

		n := uint64(len(t.buckets))
	probe:
		for i := uint64(0); i < n; i++ {
			bk := &t.buckets[(hv+i)&t.mask]
			for {
				switch bk.kstate.Load() {
				case keyClaiming:
					// Another insert is publishing a key here; it may be
					// ours, so wait until it is visible.
					b.wait()
					continue
				case keyEmpty:
					if !bk.kstate.CompareAndSwap(keyEmpty, keyClaiming) {
						continue
					}
					bk.hash = hv
					bk.key = k
					bk.kstate.Store(keySet)
					t.used.Add(1)
				default:
					if bk.hash != hv || bk.key != k {
						continue probe
					}
				}

				// The slot holds our key; publish the value.
				old, ok := m.installValue(bk, box)
				if !ok {
					m.waitForPublish(t)
					continue outer
				}
				if old == nil {
					t.live.Add(1)
					return zero, false, nil
				}
				return old.v, true, nil
			}
		}

		// Every slot is claimed by other keys: compact (or grow) first.
		if err := m.resize(h, t); err != nil {
			return zero, false, err
		}
	}
}

// installValue swaps the bucket's value box. ok=false means the bucket
// was sealed by a resize and the caller must retry on the new table.
func (m *Map[K, V]) installValue(bk *bucket[K, V], box *vbox[V]) (old *vbox[V], ok bool) {
	for {
		old := bk.val.Load()
		if old != nil && old.moved {
			return nil, false
		}
		if bk.val.CompareAndSwap(old, box) {
			m.stats.Success.Add(1)
			return old, true
		}
		m.stats.Failure.Add(1)
	}
}

// Get returns the value stored under k. A sealed bucket still carries the
// value it held when the resize began, so readers are never blocked by a
// resize in flight.
func (m *Map[K, V]) Get(h *memory.Handle, k K) (V, bool) {
	h.Pin()
	defer h.Unpin()

	var zero V
	hv := m.hash(k)
	t := m.curr.Load()
	t.assertLive()

	n := uint64(len(t.buckets))
	for i := uint64(0); i < n; i++ {
		bk := &t.buckets[(hv+i)&t.mask]
		switch bk.kstate.Load() {
		case keyEmpty:
			return zero, false
		case keyClaiming:
			// Mid-insert; this read linearizes before that insert.
			continue
		}
		if bk.hash != hv || bk.key != k {
			continue
		}
		b := bk.val.Load()
		if b == nil || (b.moved && !b.live) {
			return zero, false
		}
		return b.v, true
	}
	return zero, false
}

// Remove deletes k, leaving a tombstone so probe chains stay intact. The
// removed value is returned; a miss is (zero, false), never an error.
func (m *Map[K, V]) Remove(h *memory.Handle, k K) (V, bool) {
	h.Pin()
	defer h.Unpin()

	var zero V
	hv := m.hash(k)
	var b backoff

outer:
	for {
		t := m.curr.Load()
		t.assertLive()

		n := uint64(len(t.buckets))
		for i := uint64(0); i < n; i++ {
			bk := &t.buckets[(hv+i)&t.mask]
			switch bk.kstate.Load() {
			case keyEmpty:
				return zero, false
			case keyClaiming:
				continue
			}
			if bk.hash != hv || bk.key != k {
				continue
			}
			for {
				old := bk.val.Load()
				if old == nil {
					return zero, false
				}
				if old.moved {
					m.waitForPublish(t)
					continue outer
				}
				if bk.val.CompareAndSwap(old, nil) {
					t.live.Add(-1)
					m.stats.Success.Add(1)
					return old.v, true
				}
				m.stats.Failure.Add(1)
				b.wait()
			}
		}
		return zero, false
	}
}

// Len reports the number of live entries. Approximate under concurrency.
func (m *Map[K, V]) Len() int {
	return int(m.curr.Load().live.Load())
}

// Capacity reports the current table size. Diagnostic only.
func (m *Map[K, V]) Capacity() int {
	return len(m.curr.Load().buckets)
}

// Stats exposes the map's CAS counters.
func (m *Map[K, V]) Stats() *metrics.CAS {
	return &m.stats
}

// resize replaces t with a fresh table. Exactly one goroutine wins the
// claim; losers return nil and re-read the current table (spinning into
// resize again until the winner publishes, or until they themselves hit
// the capacity bound). The caller is pinned, which also protects the old
// table until it is retired.
func (m *Map[K, V]) resize(h *memory.Handle, t *table[K, V]) error {
	if !t.resizing.CompareAndSwap(false, true) {
		// Wait for the winner to publish — or to abort, in which case the
		// retry loop will re-claim and rediscover the outcome itself.
		var b backoff
		for m.curr.Load() == t && t.resizing.Load() {
			b.wait()
		}
		return nil
	}

	live := int(t.live.Load())
	newCap := len(t.buckets)
	if live > newCap/2 {
		newCap <<= 1
	}
	if newCap > m.maxCap {
		// Doubling is required but forbidden; a same-size compaction only
		// helps if tombstones account for the pressure.
		newCap = len(t.buckets)
		if int64(live) >= growThreshold(newCap) {
			t.resizing.Store(false)
			return ErrCapacity
		}
	}

	nt := newTable[K, V](newCap)
	for i := range t.buckets {
		s := t.seal(i)
		if s.live {
			bk := &t.buckets[i]
			nt.insertLocal(bk.hash, bk.key, s.v)
		}
	}

	m.curr.Store(nt)
	h.Retire(t)
	return nil
}

// seal freezes bucket i: its value box is replaced by a moved marker that
// carries the sealed value. After seal returns, no writer can change the
// bucket again; readers can still see the sealed value.
func (t *table[K, V]) seal(i int) *vbox[V] {
	bk := &t.buckets[i]
	for {
		old := bk.val.Load()
		if old != nil && old.moved {
			return old
		}
		s := &vbox[V]{moved: true}
		if old != nil {
			s.v = old.v
			s.live = true
		}
		if bk.val.CompareAndSwap(old, s) {
			return s
		}
	}
}

// insertLocal fills a not-yet-published table; no other goroutine can
// touch it, so plain probing is enough. The new table is sized so that
// the copy always fits.
func (t *table[K, V]) insertLocal(hv uint64, k K, v V) {
	for i := uint64(0); ; i++ {
		bk := &t.buckets[(hv+i)&t.mask]
		if bk.kstate.Load() != keyEmpty {
			continue
		}
		bk.hash = hv
		bk.key = k
		bk.kstate.Store(keySet)
		bk.val.Store(&vbox[V]{v: v, live: true})
		t.used.Add(1)
		t.live.Add(1)
		return
	}
}

// waitForPublish spins (with backoff) until the resize that sealed t has
// published its successor. This wait is the documented non-lock-free
// window of the resize protocol.
func (m *Map[K, V]) waitForPublish(t *table[K, V]) {
	var b backoff
	for m.curr.Load() == t {
		b.wait()
	}
}
