package lockfree

import "runtime"

// backoff implements bounded exponential backoff for CAS retry loops.
// Early retries spin, later ones yield the processor; the cap keeps the
// worst case bounded so backoff never changes the progress contract.
type backoff struct {
	n uint
}

const (
	backoffSpinCap  = 6
	backoffYieldCap = 10
)

func (b *backoff) wait() {
	if b.n < backoffYieldCap {
		b.n++
	}
	if b.n <= backoffSpinCap {
		for i := uint(0); i < 1<<b.n; i++ {
			spinHint()
		}
		return
	}
	runtime.Gosched()
}

//go:noinline
func spinHint() {}
