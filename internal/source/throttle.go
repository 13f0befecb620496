package source

import (
	"sync"
	"time"
)

// Throttle enforces a minimum interval between upstream calls. A call
// arriving inside the interval is refused, never blocked.
type Throttle struct {
	mu          sync.Mutex
	minInterval time.Duration
	last        time.Time
}

// NewThrottle creates a throttle. A zero or negative interval allows
// every call.
func NewThrottle(minInterval time.Duration) *Throttle {
	return &Throttle{minInterval: minInterval}
}

// Allow reports whether a call may proceed at now, and records it if
// so.
func (t *Throttle) Allow(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.minInterval > 0 && !t.last.IsZero() && now.Sub(t.last) < t.minInterval {
		return false
	}
	t.last = now
	return true
}
