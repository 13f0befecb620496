package models

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// AlertStatus records the outcome of a dispatch decision.
type AlertStatus string

const (
	AlertSent       AlertStatus = "sent"
	AlertSuppressed AlertStatus = "suppressed_ratelimited"
	AlertFailed     AlertStatus = "failed"
)

// Alert is the audit record of one dispatch decision. A row is
// written whether the notification was sent, suppressed by the
// cooldown window, or refused by the sink. Rows are never deleted.
type Alert struct {
	AlertID  string      `json:"alert_id"`
	EventID  string      `json:"event_id"`
	Type     EventType   `json:"alert_type"`
	DedupKey string      `json:"dedup_key"`
	Status   AlertStatus `json:"status"`
	Detail   string      `json:"detail,omitempty"`
	SentAt   time.Time   `json:"sent_at"`
}

// DedupKey buckets alerts of one type for one entity into cooldown
// windows. Two events inside the same window share a key; the second
// is suppressed. A zero cooldown disables bucketing by keying on the
// exact detection instant.
func DedupKey(entityID string, typ EventType, detectedAt time.Time, cooldown time.Duration) string {
	bucket := detectedAt.UnixNano()
	if cooldown > 0 {
		bucket = detectedAt.UnixNano() / int64(cooldown)
	}
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d", entityID, typ, bucket))
	return hex.EncodeToString(sum[:16])
}

// Validate checks alert field constraints.
func (a *Alert) Validate() error {
	if a.AlertID == "" {
		return errors.New("alert ID must not be empty")
	}
	if a.EventID == "" {
		return errors.New("alert event ID must not be empty")
	}
	if a.DedupKey == "" {
		return errors.New("alert dedup key must not be empty")
	}
	switch a.Status {
	case AlertSent, AlertSuppressed, AlertFailed:
	default:
		return fmt.Errorf("invalid alert status: %q", a.Status)
	}
	return nil
}
