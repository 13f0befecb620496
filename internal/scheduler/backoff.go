package scheduler

// backoff tracks fetch health for one source kind. A kind is either
// healthy or owes a number of skipped cycles; while cycles remain its
// fetch is skipped entirely rather than retried, which protects the
// upstream from thundering-herd retries. Counting cycles instead of
// wall-clock deadlines keeps the skip aligned with actual cycle
// starts, whatever their jitter.
type backoff struct {
	maxCycles   int
	consecutive int
	skip        int
}

func newBackoff(maxCycles int) *backoff {
	if maxCycles < 1 {
		maxCycles = 1
	}
	return &backoff{maxCycles: maxCycles}
}

// Skip reports whether the current cycle is skipped for this kind,
// consuming one pending skip. Call it once per cycle.
func (b *backoff) Skip() bool {
	if b.skip > 0 {
		b.skip--
		return true
	}
	return false
}

// Failure records a degraded fetch: the pending skip count doubles per
// consecutive failure, capped at maxCycles.
func (b *backoff) Failure() {
	b.consecutive++
	cycles := 1
	for i := 1; i < b.consecutive && cycles < b.maxCycles; i++ {
		cycles *= 2
	}
	if cycles > b.maxCycles {
		cycles = b.maxCycles
	}
	b.skip = cycles
}

// Success resets the kind to healthy.
func (b *backoff) Success() {
	b.consecutive = 0
	b.skip = 0
}

// Consecutive returns the current consecutive-failure count.
func (b *backoff) Consecutive() int {
	return b.consecutive
}
