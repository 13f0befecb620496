package correlate

import (
	"testing"
	"time"

	"github.com/gamepulse/gamepulse/internal/models"
)

func reading(marketID string, price float64, at time.Time) models.SecondaryReading {
	return models.SecondaryReading{MarketID: marketID, Price: price, Volume: 500, ObservedAt: at}
}

func scoreEvent(entityID string, at time.Time) models.Event {
	return models.Event{
		EventID:    models.EventID(entityID, models.EventScoreChange, "home_score", at),
		EntityID:   entityID,
		Kind:       models.KindGame,
		Type:       models.EventScoreChange,
		Field:      "home_score",
		Magnitude:  3,
		DetectedAt: at,
	}
}

func TestRecordNearestReadings(t *testing.T) {
	buf := NewBuffer(5 * time.Minute)
	tr := NewTracker(90*time.Second, 90*time.Second, map[string]string{"G1": "M1"})
	at := time.Date(2026, 1, 15, 19, 30, 0, 0, time.UTC)

	buf.Add(reading("M1", 0.40, at.Add(-80*time.Second)))
	buf.Add(reading("M1", 0.50, at.Add(-10*time.Second)))
	buf.Add(reading("M1", 0.60, at.Add(15*time.Second)))
	buf.Add(reading("M1", 0.70, at.Add(80*time.Second)))

	corr := tr.Record(scoreEvent("G1", at), buf)
	if corr == nil {
		t.Fatal("expected a correlation")
	}
	if corr.ReadingBefore == nil || corr.ReadingBefore.Price != 0.50 {
		t.Errorf("got before %+v, want nearest at 0.50", corr.ReadingBefore)
	}
	if corr.ReadingAfter == nil || corr.ReadingAfter.Price != 0.60 {
		t.Errorf("got after %+v, want nearest at 0.60", corr.ReadingAfter)
	}
	if corr.Delta < 0.099 || corr.Delta > 0.101 {
		t.Errorf("got delta %v, want ~0.10", corr.Delta)
	}
	if corr.DeltaPct < 0.199 || corr.DeltaPct > 0.201 {
		t.Errorf("got delta pct %v, want ~0.20", corr.DeltaPct)
	}
}

func TestRecordWindowBoundaryInclusive(t *testing.T) {
	tr := NewTracker(90*time.Second, 90*time.Second, map[string]string{"G1": "M1"})
	at := time.Date(2026, 1, 15, 19, 30, 0, 0, time.UTC)

	// Exactly on the lookback boundary: included.
	buf := NewBuffer(5 * time.Minute)
	buf.Add(reading("M1", 0.50, at.Add(-90*time.Second)))
	corr := tr.Record(scoreEvent("G1", at), buf)
	if corr == nil || corr.ReadingBefore == nil {
		t.Fatal("reading exactly at the lookback boundary should be included")
	}

	// One nanosecond beyond: excluded.
	buf = NewBuffer(5 * time.Minute)
	buf.Add(reading("M1", 0.50, at.Add(-90*time.Second-time.Nanosecond)))
	if corr := tr.Record(scoreEvent("G1", at), buf); corr != nil {
		t.Error("reading beyond the lookback boundary should be excluded")
	}

	// Same on the lookahead side.
	buf = NewBuffer(5 * time.Minute)
	buf.Add(reading("M1", 0.55, at.Add(90*time.Second)))
	if corr := tr.Record(scoreEvent("G1", at), buf); corr == nil {
		t.Error("reading exactly at the lookahead boundary should be included")
	}
	buf = NewBuffer(5 * time.Minute)
	buf.Add(reading("M1", 0.55, at.Add(90*time.Second+time.Nanosecond)))
	if corr := tr.Record(scoreEvent("G1", at), buf); corr != nil {
		t.Error("reading beyond the lookahead boundary should be excluded")
	}
}

func TestRecordNoReadingsNoCorrelation(t *testing.T) {
	buf := NewBuffer(5 * time.Minute)
	tr := NewTracker(90*time.Second, 90*time.Second, map[string]string{"G1": "M1"})
	if corr := tr.Record(scoreEvent("G1", time.Now()), buf); corr != nil {
		t.Error("no readings should yield no correlation")
	}
}

func TestRecordUnmappedEntity(t *testing.T) {
	buf := NewBuffer(5 * time.Minute)
	buf.Add(reading("M1", 0.50, time.Now()))
	tr := NewTracker(90*time.Second, 90*time.Second, nil)
	if corr := tr.Record(scoreEvent("G1", time.Now()), buf); corr != nil {
		t.Error("unmapped entity should yield no correlation")
	}
}

func TestRecordOneSided(t *testing.T) {
	buf := NewBuffer(5 * time.Minute)
	tr := NewTracker(90*time.Second, 90*time.Second, map[string]string{"G1": "M1"})
	at := time.Now()
	buf.Add(reading("M1", 0.50, at.Add(-30*time.Second)))

	corr := tr.Record(scoreEvent("G1", at), buf)
	if corr == nil {
		t.Fatal("a before-only reading should still correlate")
	}
	if corr.ReadingAfter != nil {
		t.Error("expected no after reading")
	}
	if corr.Delta != 0 || corr.DeltaPct != 0 {
		t.Error("one-sided correlations carry no delta")
	}
}

func TestBufferPrune(t *testing.T) {
	buf := NewBuffer(5 * time.Minute)
	now := time.Now()
	buf.Add(reading("M1", 0.40, now.Add(-10*time.Minute)))
	buf.Add(reading("M1", 0.50, now.Add(-1*time.Minute)))
	buf.Add(reading("M2", 0.90, now.Add(-20*time.Minute)))

	buf.Prune(now)
	if got := len(buf.Readings("M1")); got != 1 {
		t.Errorf("got %d M1 readings after prune, want 1", got)
	}
	if got := len(buf.Readings("M2")); got != 0 {
		t.Errorf("got %d M2 readings after prune, want 0", got)
	}
	if buf.Len() != 1 {
		t.Errorf("got total %d, want 1", buf.Len())
	}
}

func TestBufferOrdersOutOfOrderAdds(t *testing.T) {
	buf := NewBuffer(5 * time.Minute)
	now := time.Now()
	buf.Add(reading("M1", 0.60, now))
	buf.Add(reading("M1", 0.50, now.Add(-time.Minute)))

	readings := buf.Readings("M1")
	if len(readings) != 2 {
		t.Fatalf("got %d readings, want 2", len(readings))
	}
	if !readings[0].ObservedAt.Before(readings[1].ObservedAt) {
		t.Error("readings should be ordered by observation time")
	}
}
