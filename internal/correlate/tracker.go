package correlate

import (
	"time"

	"github.com/gamepulse/gamepulse/internal/models"
)

// Tracker records correlations between events and the nearest market
// readings before and after them.
type Tracker struct {
	lookback  time.Duration
	lookahead time.Duration
	marketMap map[string]string
}

// NewTracker creates a tracker. marketMap maps a tracked entity ID to
// the market entity whose readings correlate with its events;
// entities without a mapping never produce correlations.
func NewTracker(lookback, lookahead time.Duration, marketMap map[string]string) *Tracker {
	if marketMap == nil {
		marketMap = map[string]string{}
	}
	return &Tracker{lookback: lookback, lookahead: lookahead, marketMap: marketMap}
}

// Record looks up the nearest reading before and after the event
// within the configured windows (boundaries inclusive) and builds a
// Correlation. It returns nil when the entity has no mapped market or
// no reading falls inside either window; that is expected, not an
// error.
func (t *Tracker) Record(event models.Event, buf *Buffer) *models.Correlation {
	marketID, ok := t.marketMap[event.EntityID]
	if !ok {
		return nil
	}

	readings := buf.Readings(marketID)
	if len(readings) == 0 {
		return nil
	}

	var before, after *models.SecondaryReading
	for i := range readings {
		r := readings[i]
		if !r.ObservedAt.After(event.DetectedAt) {
			if event.DetectedAt.Sub(r.ObservedAt) <= t.lookback {
				before = &readings[i]
			}
			continue
		}
		if r.ObservedAt.Sub(event.DetectedAt) <= t.lookahead {
			after = &readings[i]
		}
		break
	}
	if before == nil && after == nil {
		return nil
	}

	corr := &models.Correlation{
		EventID:       event.EventID,
		ReadingBefore: before,
		ReadingAfter:  after,
		CreatedAt:     time.Now(),
	}
	if before != nil && after != nil {
		corr.Delta = after.Price - before.Price
		if before.Price != 0 {
			corr.DeltaPct = corr.Delta / before.Price
		}
	}
	return corr
}
