// Package collector runs the background maintenance loop for a
// Reclaimer: periodically advance the global epoch and reclaim whatever
// has become provably unreachable.
package collector

import (
	"context"
	"log"
	"time"

	"norn/infra/memory"
)

type Collector struct {
	rec      *memory.Reclaimer
	interval time.Duration
}

func New(rec *memory.Reclaimer, interval time.Duration) *Collector {
	return &Collector{rec: rec, interval: interval}
}

// Run blocks until ctx is cancelled. Start it with `go c.Run(ctx)`.
func (c *Collector) Run(ctx context.Context) {
	log.Println("[collector] started")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[collector] stopped")
			return

		case <-ticker.C:
			c.rec.TryAdvance()
			c.rec.Collect()
		}
	}
}
