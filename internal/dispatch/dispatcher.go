// Package dispatch turns events into notifications, applying
// per-type cooldown windows with a persisted audit trail.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gamepulse/gamepulse/internal/logger"
	"github.com/gamepulse/gamepulse/internal/models"
)

// Payload is the formatted notification handed to the sink.
type Payload struct {
	Title       string
	Body        string
	Event       models.Event
	Correlation *models.Correlation
}

// Sink delivers one alert payload. The sink is external and stateless
// from the dispatcher's perspective.
type Sink interface {
	Send(ctx context.Context, payload Payload) error
}

// NopSink accepts every payload without delivering it, used when
// notifications are disabled.
type NopSink struct{}

func (NopSink) Send(context.Context, Payload) error { return nil }

// AlertLog is the slice of the store the dispatcher needs.
type AlertLog interface {
	AppendAlert(*models.Alert) error
	HasDeliveredAlert(dedupKey string) (bool, error)
}

// Dispatcher maps events to alerts. Every decision writes an audit
// row: sent, suppressed by the cooldown window, or failed at the
// sink. Failed sends are not retried within the cycle; the next
// event, if any, gets its own dedup window.
type Dispatcher struct {
	log         AlertLog
	sink        Sink
	cooldowns   map[models.EventType]time.Duration
	sinkTimeout time.Duration
}

// New creates a dispatcher. Cooldowns are keyed by alert type name; a
// missing or zero entry disables dedup for that type.
func New(log AlertLog, sink Sink, cooldowns map[string]time.Duration, sinkTimeout time.Duration) *Dispatcher {
	cd := make(map[models.EventType]time.Duration, len(cooldowns))
	for typ, d := range cooldowns {
		cd[models.EventType(typ)] = d
	}
	return &Dispatcher{
		log:         log,
		sink:        sink,
		cooldowns:   cd,
		sinkTimeout: sinkTimeout,
	}
}

// Dispatch decides and records the outcome for one event. It never
// returns an error: dispatch failures are contained in the audit row.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.Event, corr *models.Correlation) models.Alert {
	cooldown := d.cooldowns[event.Type]
	dedupKey := models.DedupKey(event.EntityID, event.Type, event.DetectedAt, cooldown)

	alert := models.Alert{
		AlertID:  uuid.New().String(),
		EventID:  event.EventID,
		Type:     event.Type,
		DedupKey: dedupKey,
	}

	if cooldown > 0 {
		delivered, err := d.log.HasDeliveredAlert(dedupKey)
		if err != nil {
			logger.Warn("Failed to check dedup window for %s: %v", event.EventID, err)
		} else if delivered {
			alert.Status = models.AlertSuppressed
			alert.SentAt = time.Now()
			d.persist(&alert)
			return alert
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sinkTimeout)
	defer cancel()

	if err := d.sink.Send(sendCtx, FormatPayload(event, corr)); err != nil {
		alert.Status = models.AlertFailed
		alert.Detail = err.Error()
		logger.Error("Failed to deliver alert for event %s: %v", event.EventID, err)
	} else {
		alert.Status = models.AlertSent
	}
	alert.SentAt = time.Now()
	d.persist(&alert)
	return alert
}

func (d *Dispatcher) persist(alert *models.Alert) {
	if err := d.log.AppendAlert(alert); err != nil {
		logger.Warn("Failed to persist alert %s: %v", alert.AlertID, err)
	}
}

// FormatPayload renders the notification for one event. It is a pure
// function of the event and its optional correlation.
func FormatPayload(event models.Event, corr *models.Correlation) Payload {
	var title string
	switch event.Type {
	case models.EventScoreChange:
		title = fmt.Sprintf("%s: %s %s %s -> %s (%+g)",
			event.EntityID, event.Type, event.Field,
			formatValue(event.Before), formatValue(event.After), event.Magnitude)
	case models.EventStatusChange:
		title = fmt.Sprintf("%s: now %s (was %s)",
			event.EntityID, formatValue(event.After), formatValue(event.Before))
	case models.EventThresholdCrossed:
		title = fmt.Sprintf("%s: %s moved %.1f%% (%s -> %s)",
			event.EntityID, event.Field, event.Magnitude*100,
			formatValue(event.Before), formatValue(event.After))
	default:
		title = fmt.Sprintf("%s: %s", event.EntityID, event.Type)
	}

	var body strings.Builder
	fmt.Fprintf(&body, "detected at %s", event.DetectedAt.Format("2006-01-02 15:04:05"))
	if corr != nil && corr.ReadingBefore != nil && corr.ReadingAfter != nil {
		fmt.Fprintf(&body, "\nmarket %.3f -> %.3f (%+.1f%%)",
			corr.ReadingBefore.Price, corr.ReadingAfter.Price, corr.DeltaPct*100)
	}

	return Payload{
		Title:       title,
		Body:        body.String(),
		Event:       event,
		Correlation: corr,
	}
}

func formatValue(v models.Value) string {
	switch v.Kind {
	case models.ValueNumber:
		return fmt.Sprintf("%g", v.Num)
	case models.ValueString:
		return v.Str
	default:
		return fmt.Sprintf("%t", v.Bool)
	}
}
