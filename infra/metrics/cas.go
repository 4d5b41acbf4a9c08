// Package metrics holds the hot-path counters for the lock-free
// containers. Counters are plain atomic words so the containers can bump
// them without any dependency on an exporter; the Prometheus bridge lives
// alongside for the harness.
package metrics

import "sync/atomic"

// CAS tracks compare-and-swap outcomes for one container instance.
type CAS struct {
	// Success counts CAS operations that linearized an operation.
	Success atomic.Uint64
	// Failure counts CAS attempts lost to contention and retried.
	Failure atomic.Uint64
}

// Snapshot is a point-in-time copy of the counters. Approximate under
// concurrency: the two fields are read independently.
type Snapshot struct {
	Success uint64
	Failure uint64
}

func (c *CAS) Snapshot() Snapshot {
	return Snapshot{
		Success: c.Success.Load(),
		Failure: c.Failure.Load(),
	}
}
