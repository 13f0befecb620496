package scheduler

import (
	"sync"
	"time"
)

// HealthSnapshot is the point-in-time view served by the health
// endpoint: when the last cycle finished and how degraded each source
// kind is.
type HealthSnapshot struct {
	LastCycleAt         time.Time      `json:"last_cycle_at"`
	LastCycleErrors     int            `json:"last_cycle_errors"`
	ConsecutiveFailures map[string]int `json:"consecutive_failures"`
}

// healthState is updated by the scheduler goroutine and read by the
// health endpoint, hence the lock.
type healthState struct {
	mu       sync.Mutex
	snapshot HealthSnapshot
}

func newHealthState() *healthState {
	return &healthState{
		snapshot: HealthSnapshot{ConsecutiveFailures: make(map[string]int)},
	}
}

func (h *healthState) recordCycle(finishedAt time.Time, errors int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshot.LastCycleAt = finishedAt
	h.snapshot.LastCycleErrors = errors
}

func (h *healthState) recordKind(kind string, consecutiveFailures int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshot.ConsecutiveFailures[kind] = consecutiveFailures
}

// Snapshot returns a copy safe for concurrent use.
func (h *healthState) Snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.snapshot
	out.ConsecutiveFailures = make(map[string]int, len(h.snapshot.ConsecutiveFailures))
	for k, v := range h.snapshot.ConsecutiveFailures {
		out.ConsecutiveFailures[k] = v
	}
	return out
}
