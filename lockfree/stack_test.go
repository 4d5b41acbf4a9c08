package lockfree

import (
	"sync"
	"testing"

	"norn/infra/memory"
)

func TestStackLIFO(t *testing.T) {
	rec := memory.NewReclaimer(1, 64)
	h := rec.Register()
	st := NewStack[int](16)

	if !st.Empty() {
		t.Fatal("fresh stack must be empty")
	}
	for i := 1; i <= 3; i++ {
		st.Push(h, i)
	}
	for want := 3; want >= 1; want-- {
		v, ok := st.Pop(h)
		if !ok || v != want {
			t.Fatalf("Pop = (%d, %v), want (%d, true)", v, ok, want)
		}
	}
	if _, ok := st.Pop(h); ok {
		t.Fatal("Pop from empty stack must report false")
	}
	if !st.Empty() {
		t.Fatal("drained stack must be empty")
	}
}

// 8 producers push 1000 distinct values each, then 8 consumers drain
// concurrently. Every value must come out exactly once.
func TestStackConcurrentNoLossNoDup(t *testing.T) {
	const producers, perProducer, consumers = 8, 1000, 8
	total := producers * perProducer

	rec := memory.NewReclaimer(producers+consumers, 1<<14)
	st := NewStack[int](1 << 14)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			h := rec.Register()
			for i := 0; i < perProducer; i++ {
				st.Push(h, base+i)
			}
		}(p * perProducer)
	}
	wg.Wait()

	results := make([][]int, consumers)
	for c := 0; c < consumers; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			h := rec.Register()
			for {
				v, ok := st.Pop(h)
				if !ok {
					return
				}
				results[c] = append(results[c], v)
			}
		}(c)
	}
	wg.Wait()

	seen := make(map[int]bool, total)
	for _, r := range results {
		for _, v := range r {
			if seen[v] {
				t.Fatalf("value %d popped twice", v)
			}
			seen[v] = true
		}
	}
	if len(seen) != total {
		t.Fatalf("popped %d distinct values, want %d", len(seen), total)
	}
	if !st.Empty() {
		t.Fatal("stack must be empty after the drain")
	}
}

// White-box: a popped node must be poisoned by collection and revived by
// the next allocation.
func TestStackReclaimPoisonsNodes(t *testing.T) {
	rec := memory.NewReclaimer(1, 8)
	h := rec.Register()
	st := NewStack[int](4)

	st.Push(h, 42)
	if _, ok := st.Pop(h); !ok {
		t.Fatal("Pop failed")
	}

	rec.TryAdvance()
	rec.TryAdvance()
	if rec.Collect() != 1 {
		t.Fatal("popped node not collected")
	}
	for i := range st.ar.nodes {
		if st.ar.nodes[i].canary.Load() != memory.CanaryPoison {
			t.Fatalf("node %d not poisoned after collection", i)
		}
	}

	st.Push(h, 7)
	live := 0
	for i := range st.ar.nodes {
		if st.ar.nodes[i].canary.Load() == memory.CanaryLive {
			live++
		}
	}
	if live != 1 {
		t.Fatalf("%d live nodes after one push, want 1", live)
	}
}

// Push/pop churn with collection running inline, sized so the test also
// proves nodes cycle through the free list without corruption.
func TestStackChurnWithCollection(t *testing.T) {
	const workers, iters = 4, 20000

	rec := memory.NewReclaimer(workers, 1<<15)
	st := NewStack[uint64](1 << 17)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			h := rec.Register()
			for i := 0; i < iters; i++ {
				st.Push(h, uint64(w*iters+i))
				if _, ok := st.Pop(h); !ok {
					t.Error("Pop found the stack empty after a push/pop pair")
					return
				}
				if i%64 == 0 {
					rec.TryAdvance()
					rec.Collect()
				}
			}
		}(w)
	}
	wg.Wait()

	if !st.Empty() {
		t.Fatal("stack must be empty after paired push/pop churn")
	}
	for i := 0; i < 4; i++ {
		rec.TryAdvance()
		rec.Collect()
	}
	if rec.Pending() != 0 {
		t.Fatalf("%d nodes still pending after final collection", rec.Pending())
	}
	stats := st.Stats().Snapshot()
	if stats.Success != uint64(2*workers*iters) {
		t.Fatalf("CAS successes = %d, want %d", stats.Success, 2*workers*iters)
	}
}
