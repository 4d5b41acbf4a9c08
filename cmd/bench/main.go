package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"norn/infra/memory"
	"norn/infra/metrics"
	"norn/jobs/collector"
	"norn/lockfree"
)

const (
	ringSize        = 1 << 18
	maintainEvery   = 8192
	deadlineEvery   = 256
	mapKeyspaceBits = 16
)

func main() {
	var (
		workers  = flag.Int("workers", runtime.GOMAXPROCS(0), "concurrent worker goroutines")
		duration = flag.Duration("duration", 5*time.Second, "time per workload")
		workload = flag.String("workload", "all", "stack | queue | map | all")
		capacity = flag.Int("capacity", 1<<20, "node arena capacity per container")
		readPct  = flag.Int("readpct", 80, "map workload: percentage of reads")
		addr     = flag.String("metrics", "", "serve Prometheus metrics on this address")
	)
	flag.Parse()

	// ---------------- Metrics ----------------

	reg := prometheus.NewRegistry()

	if *addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(*addr, mux); err != nil {
				log.Fatalf("metrics server failed: %v", err)
			}
		}()
		log.Printf("[bench] metrics on %s/metrics", *addr)
	}

	fmt.Printf("norn bench — %d workers, %s per workload\n", *workers, *duration)

	// ---------------- Workloads ----------------

	run := func(name string, fn func(*memory.Reclaimer) (uint64, *metrics.CAS)) {
		rec := memory.NewReclaimer(*workers, ringSize)

		ctx, cancel := context.WithCancel(context.Background())
		col := collector.New(rec, time.Millisecond)
		go col.Run(ctx)

		start := time.Now()
		ops, cas := fn(rec)
		elapsed := time.Since(start)
		cancel()

		reg.MustRegister(metrics.NewCollector(name, cas))
		snap := cas.Snapshot()
		log.Printf("[bench] %-5s %12d ops in %8s — %11.0f ops/sec (cas retries %d, pending %d)",
			name, ops, elapsed.Round(time.Millisecond),
			float64(ops)/elapsed.Seconds(), snap.Failure, rec.Pending())
	}

	switch *workload {
	case "stack":
		run("stack", func(rec *memory.Reclaimer) (uint64, *metrics.CAS) {
			return runStack(rec, *workers, *duration, *capacity)
		})
	case "queue":
		run("queue", func(rec *memory.Reclaimer) (uint64, *metrics.CAS) {
			return runQueue(rec, *workers, *duration, *capacity)
		})
	case "map":
		run("map", func(rec *memory.Reclaimer) (uint64, *metrics.CAS) {
			return runMap(rec, *workers, *duration, *readPct)
		})
	case "all":
		run("stack", func(rec *memory.Reclaimer) (uint64, *metrics.CAS) {
			return runStack(rec, *workers, *duration, *capacity)
		})
		run("queue", func(rec *memory.Reclaimer) (uint64, *metrics.CAS) {
			return runQueue(rec, *workers, *duration, *capacity)
		})
		run("map", func(rec *memory.Reclaimer) (uint64, *metrics.CAS) {
			return runMap(rec, *workers, *duration, *readPct)
		})
	default:
		log.Fatalf("unknown workload %q", *workload)
	}
}

// runStack hammers push/pop pairs, the shape of a dice-roll history that
// is appended and drained continuously.
func runStack(rec *memory.Reclaimer, workers int, d time.Duration, capacity int) (uint64, *metrics.CAS) {
	st := lockfree.NewStack[uint64](capacity)
	var ops atomic.Uint64
	var wg sync.WaitGroup
	deadline := time.Now().Add(d)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := rec.Register()
			n := uint64(0)
			for {
				st.Push(h, n)
				st.Pop(h)
				n += 2
				if n%maintainEvery == 0 {
					rec.TryAdvance()
					rec.Collect()
				}
				if n%deadlineEvery == 0 && !time.Now().Before(deadline) {
					break
				}
			}
			ops.Add(n)
		}()
	}
	wg.Wait()
	return ops.Load(), st.Stats()
}

// runQueue hammers enqueue/dequeue pairs, the shape of a player join
// queue under churn.
func runQueue(rec *memory.Reclaimer, workers int, d time.Duration, capacity int) (uint64, *metrics.CAS) {
	q := lockfree.NewQueue[uint64](capacity)
	var ops atomic.Uint64
	var wg sync.WaitGroup
	deadline := time.Now().Add(d)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := rec.Register()
			n := uint64(0)
			for {
				q.Enqueue(h, n)
				q.Dequeue(h)
				n += 2
				if n%maintainEvery == 0 {
					rec.TryAdvance()
					rec.Collect()
				}
				if n%deadlineEvery == 0 && !time.Now().Before(deadline) {
					break
				}
			}
			ops.Add(n)
		}()
	}
	wg.Wait()
	return ops.Load(), q.Stats()
}

// runMap mixes gets with insert/remove churn over a bounded keyspace, the
// shape of an active-bet registry.
func runMap(rec *memory.Reclaimer, workers int, d time.Duration, readPct int) (uint64, *metrics.CAS) {
	m := lockfree.NewUint64Map[uint64](1 << (mapKeyspaceBits + 1))
	var ops atomic.Uint64
	var wg sync.WaitGroup
	deadline := time.Now().Add(d)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			h := rec.Register()
			rng := rand.New(rand.NewSource(seed))
			n := uint64(0)
			for {
				key := rng.Uint64() & (1<<mapKeyspaceBits - 1)
				if rng.Intn(100) < readPct {
					m.Get(h, key)
				} else if key&1 == 0 {
					if _, _, err := m.Insert(h, key, n); err != nil {
						log.Fatalf("map insert failed: %v", err)
					}
				} else {
					m.Remove(h, key)
				}
				n++
				if n%maintainEvery == 0 {
					rec.TryAdvance()
					rec.Collect()
				}
				if n%deadlineEvery == 0 && !time.Now().Before(deadline) {
					break
				}
			}
			ops.Add(n)
		}(int64(w) + 1)
	}
	wg.Wait()
	return ops.Load(), m.Stats()
}
