// Package differ detects meaningful changes between consecutive
// entity snapshots. Diffing is pure: the same (previous, new) pair
// always yields the same event list.
package differ

import (
	"math"
	"sort"

	"github.com/gamepulse/gamepulse/internal/models"
)

// Registry declares how named fields are interpreted: score-like
// fields alert on any change, price-like fields only past a relative
// threshold. Unregistered fields never emit events.
type Registry struct {
	scoreLike map[string]bool
	priceLike map[string]bool
}

// NewRegistry builds a field registry.
func NewRegistry(scoreFields, priceFields []string) Registry {
	r := Registry{
		scoreLike: make(map[string]bool, len(scoreFields)),
		priceLike: make(map[string]bool, len(priceFields)),
	}
	for _, f := range scoreFields {
		r.scoreLike[f] = true
	}
	for _, f := range priceFields {
		r.priceLike[f] = true
	}
	return r
}

// Differ compares snapshots and emits typed events.
type Differ struct {
	registry     Registry
	thresholdPct float64
}

// New creates a differ. thresholdPct is the relative change a
// price-like field must exceed to emit threshold_crossed; this
// filters noise-level ticks.
func New(registry Registry, thresholdPct float64) *Differ {
	return &Differ{registry: registry, thresholdPct: thresholdPct}
}

// Diff compares the previous snapshot against the new one. A nil
// previous snapshot is a first sync: no events except a status_change
// when the entity arrives already live. Events are ordered status
// first, then by field name.
func (d *Differ) Diff(prev *models.Snapshot, cur models.Snapshot) []models.Event {
	var events []models.Event

	if prev == nil {
		if cur.Status == models.StatusLive {
			events = append(events, d.statusEvent(cur, models.StatusUnknown))
		}
		return events
	}

	if prev.Status != cur.Status {
		events = append(events, d.statusEvent(cur, prev.Status))
	}

	names := make([]string, 0, len(cur.Fields))
	for name := range cur.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		newVal := cur.Fields[name]
		oldVal, seen := prev.Fields[name]
		if !seen || newVal.Kind != models.ValueNumber || oldVal.Kind != models.ValueNumber {
			continue
		}

		switch {
		case d.registry.scoreLike[name]:
			if newVal.Num == oldVal.Num {
				continue
			}
			events = append(events, models.Event{
				EventID:    models.EventID(cur.EntityID, models.EventScoreChange, name, cur.TakenAt),
				EntityID:   cur.EntityID,
				Kind:       cur.Kind,
				Type:       models.EventScoreChange,
				Field:      name,
				Magnitude:  newVal.Num - oldVal.Num,
				Before:     oldVal,
				After:      newVal,
				DetectedAt: cur.TakenAt,
			})

		case d.registry.priceLike[name]:
			if oldVal.Num == 0 {
				continue
			}
			rel := (newVal.Num - oldVal.Num) / oldVal.Num
			if math.Abs(rel) < d.thresholdPct {
				continue
			}
			events = append(events, models.Event{
				EventID:    models.EventID(cur.EntityID, models.EventThresholdCrossed, name, cur.TakenAt),
				EntityID:   cur.EntityID,
				Kind:       cur.Kind,
				Type:       models.EventThresholdCrossed,
				Field:      name,
				Magnitude:  rel,
				Before:     oldVal,
				After:      newVal,
				DetectedAt: cur.TakenAt,
			})
		}
	}

	return events
}

func (d *Differ) statusEvent(cur models.Snapshot, from models.Status) models.Event {
	return models.Event{
		EventID:    models.EventID(cur.EntityID, models.EventStatusChange, "status", cur.TakenAt),
		EntityID:   cur.EntityID,
		Kind:       cur.Kind,
		Type:       models.EventStatusChange,
		Field:      "status",
		Magnitude:  0,
		Before:     models.String(string(from)),
		After:      models.String(string(cur.Status)),
		DetectedAt: cur.TakenAt,
	}
}
