// Package correlate links events to nearby secondary-source readings.
package correlate

import (
	"sort"
	"time"

	"github.com/gamepulse/gamepulse/internal/models"
)

// Buffer is a short rolling window of market readings, keyed by
// market entity. It is owned by the scheduler goroutine and never
// accessed concurrently.
type Buffer struct {
	retention time.Duration
	byMarket  map[string][]models.SecondaryReading
}

// NewBuffer creates a buffer that retains readings for the given
// duration. Retention must cover the correlation lookback window.
func NewBuffer(retention time.Duration) *Buffer {
	return &Buffer{
		retention: retention,
		byMarket:  make(map[string][]models.SecondaryReading),
	}
}

// Add inserts one reading, keeping the per-market slice ordered by
// observation time.
func (b *Buffer) Add(r models.SecondaryReading) {
	readings := append(b.byMarket[r.MarketID], r)
	if n := len(readings); n > 1 && readings[n-1].ObservedAt.Before(readings[n-2].ObservedAt) {
		sort.Slice(readings, func(i, j int) bool {
			return readings[i].ObservedAt.Before(readings[j].ObservedAt)
		})
	}
	b.byMarket[r.MarketID] = readings
}

// Prune drops readings older than the retention window.
func (b *Buffer) Prune(now time.Time) {
	cutoff := now.Add(-b.retention)
	for marketID, readings := range b.byMarket {
		i := 0
		for i < len(readings) && readings[i].ObservedAt.Before(cutoff) {
			i++
		}
		if i == len(readings) {
			delete(b.byMarket, marketID)
		} else if i > 0 {
			b.byMarket[marketID] = readings[i:]
		}
	}
}

// Readings returns the retained readings for one market, oldest
// first. The returned slice must not be mutated.
func (b *Buffer) Readings(marketID string) []models.SecondaryReading {
	return b.byMarket[marketID]
}

// Len returns the total retained reading count.
func (b *Buffer) Len() int {
	n := 0
	for _, readings := range b.byMarket {
		n += len(readings)
	}
	return n
}
