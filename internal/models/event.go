package models

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// EventType classifies a detected state change.
type EventType string

const (
	EventScoreChange      EventType = "score_change"
	EventStatusChange     EventType = "status_change"
	EventThresholdCrossed EventType = "threshold_crossed"
)

// Event is a detected meaningful change for one entity. Events are
// append-only and never mutated after creation.
type Event struct {
	EventID    string    `json:"event_id"`
	EntityID   string    `json:"entity_id"`
	Kind       Kind      `json:"kind"`
	Type       EventType `json:"type"`
	Field      string    `json:"field"`
	Magnitude  float64   `json:"magnitude"`
	Before     Value     `json:"before"`
	After      Value     `json:"after"`
	DetectedAt time.Time `json:"detected_at"`
}

// EventID derives a deterministic event identifier from the change
// coordinates. Re-diffing the same observation yields the same ID, so
// persistence retries are idempotent.
func EventID(entityID string, typ EventType, field string, detectedAt time.Time) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s|%d", entityID, typ, field, detectedAt.UnixNano()))
	return hex.EncodeToString(sum[:16])
}

// Validate checks event field constraints.
func (e *Event) Validate() error {
	if e.EventID == "" {
		return errors.New("event ID must not be empty")
	}
	if e.EntityID == "" {
		return errors.New("event entity ID must not be empty")
	}
	switch e.Type {
	case EventScoreChange, EventStatusChange, EventThresholdCrossed:
	default:
		return fmt.Errorf("invalid event type: %q", e.Type)
	}
	if e.DetectedAt.IsZero() {
		return errors.New("detected timestamp must be set")
	}
	return nil
}

// Correlation links one Event to the nearest-in-time secondary
// readings before and after it. At most one per event; absence of
// market data yields no row, which is not an error.
type Correlation struct {
	EventID       string            `json:"event_id"`
	ReadingBefore *SecondaryReading `json:"reading_before,omitempty"`
	ReadingAfter  *SecondaryReading `json:"reading_after,omitempty"`
	Delta         float64           `json:"delta"`
	DeltaPct      float64           `json:"delta_pct"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Validate checks correlation field constraints.
func (c *Correlation) Validate() error {
	if c.EventID == "" {
		return errors.New("correlation event ID must not be empty")
	}
	if c.ReadingBefore == nil && c.ReadingAfter == nil {
		return errors.New("correlation must reference at least one reading")
	}
	return nil
}

// SyncCycleLog summarizes one scheduler cycle for operational
// visibility. One row per cycle, append-only.
type SyncCycleLog struct {
	CycleID        string    `json:"cycle_id"`
	StartedAt      time.Time `json:"started_at"`
	DurationMS     int64     `json:"duration_ms"`
	EntitiesPolled int       `json:"entities_polled"`
	EventsEmitted  int       `json:"events_emitted"`
	Errors         int       `json:"errors"`
}
