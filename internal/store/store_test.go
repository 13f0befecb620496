package store

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gamepulse/gamepulse/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testEntity(id string, syncedAt time.Time) *models.Entity {
	return &models.Entity{
		EntityID: id,
		Kind:     models.KindGame,
		IsLive:   true,
		Status:   models.StatusLive,
		Fields: models.Fields{
			"home_score": models.Number(14),
			"away_score": models.Number(7),
			"status":     models.String("live"),
		},
		LastSyncedAt: syncedAt,
	}
}

func testEvent(id, entityID string, at time.Time) *models.Event {
	return &models.Event{
		EventID:    id,
		EntityID:   entityID,
		Kind:       models.KindGame,
		Type:       models.EventScoreChange,
		Field:      "home_score",
		Magnitude:  3,
		Before:     models.Number(14),
		After:      models.Number(17),
		DetectedAt: at,
	}
}

func TestUpsertAndGetEntity(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	e := testEntity("G1", now)

	if err := s.UpsertEntity(e); err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}
	got, err := s.GetEntity(models.KindGame, "G1")
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if got.EntityID != "G1" || !got.IsLive || got.Status != models.StatusLive {
		t.Errorf("got %+v, want live G1", got)
	}
	if got.Fields["home_score"].Num != 14 {
		t.Errorf("got home_score %v, want 14", got.Fields["home_score"].Num)
	}
}

func TestGetEntityNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetEntity(models.KindGame, "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestUpsertIdempotent(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	e := testEntity("G1", now)

	if err := s.UpsertEntity(e); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.UpsertEntity(e); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, err := s.GetEntity(models.KindGame, "G1")
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if got.Fields["home_score"].Num != 14 || !got.LastSyncedAt.Equal(e.LastSyncedAt) {
		t.Errorf("repeated upsert changed stored state: %+v", got)
	}
}

func TestUpsertRejectsOlderTimestamp(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	current := testEntity("G1", now)
	if err := s.UpsertEntity(current); err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}

	stale := testEntity("G1", now.Add(-time.Minute))
	stale.Fields["home_score"] = models.Number(0)
	if err := s.UpsertEntity(stale); err != nil {
		t.Fatalf("stale upsert should not error: %v", err)
	}

	got, err := s.GetEntity(models.KindGame, "G1")
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if got.Fields["home_score"].Num != 14 {
		t.Errorf("stale write overwrote fields: got %v, want 14", got.Fields["home_score"].Num)
	}
	if !got.LastSyncedAt.Equal(now) {
		t.Errorf("stale write moved last_synced_at backwards")
	}
}

func TestActiveEntityIDs(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	for _, id := range []string{"G2", "G1", "G3"} {
		if err := s.UpsertEntity(testEntity(id, now)); err != nil {
			t.Fatalf("UpsertEntity %s: %v", id, err)
		}
	}
	finished := testEntity("G4", now)
	finished.IsLive = false
	finished.Status = models.StatusFinal
	if err := s.UpsertEntity(finished); err != nil {
		t.Fatalf("UpsertEntity G4: %v", err)
	}

	ids, err := s.ActiveEntityIDs(models.KindGame)
	if err != nil {
		t.Fatalf("ActiveEntityIDs: %v", err)
	}
	want := []string{"G1", "G2", "G3"}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("got %v, want sorted %v", ids, want)
			break
		}
	}
}

func TestDeactivateEntity(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertEntity(testEntity("G1", time.Now())); err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}
	if err := s.DeactivateEntity(models.KindGame, "G1"); err != nil {
		t.Fatalf("DeactivateEntity: %v", err)
	}
	ids, err := s.ActiveEntityIDs(models.KindGame)
	if err != nil {
		t.Fatalf("ActiveEntityIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("deactivated entity still active: %v", ids)
	}
}

func TestAppendEventDuplicate(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	ev := testEvent("evt-1", "G1", now)

	if err := s.AppendEvent(ev); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	err := s.AppendEvent(ev)
	if !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("got %v, want ErrDuplicateKey", err)
	}
}

func TestSaveEntitySyncAtomic(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	e := testEntity("G1", now)
	events := []models.Event{*testEvent("evt-1", "G1", now)}
	corrs := []models.Correlation{{
		EventID:       "evt-1",
		ReadingBefore: &models.SecondaryReading{MarketID: "M1", Price: 0.5, ObservedAt: now.Add(-time.Minute)},
		ReadingAfter:  &models.SecondaryReading{MarketID: "M1", Price: 0.6, ObservedAt: now.Add(time.Minute)},
		Delta:         0.1,
		DeltaPct:      0.2,
		CreatedAt:     now,
	}}

	if err := s.SaveEntitySync(e, events, corrs); err != nil {
		t.Fatalf("SaveEntitySync: %v", err)
	}

	// Retrying the same batch must be safe: duplicate appends are
	// swallowed, the upsert is idempotent.
	if err := s.SaveEntitySync(e, events, corrs); err != nil {
		t.Fatalf("retried SaveEntitySync: %v", err)
	}

	stored, err := s.RecentEvents(10)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("got %d events, want 1", len(stored))
	}
	if stored[0].EventID != "evt-1" || stored[0].Magnitude != 3 {
		t.Errorf("got %+v, want evt-1 magnitude 3", stored[0])
	}
	if stored[0].Before.Num != 14 || stored[0].After.Num != 17 {
		t.Errorf("payload round-trip lost values: %+v", stored[0])
	}
}

func TestAlertAuditAndDedup(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	sent := &models.Alert{
		AlertID:  uuid.New().String(),
		EventID:  "evt-1",
		Type:     models.EventThresholdCrossed,
		DedupKey: "window-1",
		Status:   models.AlertSent,
		SentAt:   now,
	}
	if err := s.AppendAlert(sent); err != nil {
		t.Fatalf("AppendAlert: %v", err)
	}

	delivered, err := s.HasDeliveredAlert("window-1")
	if err != nil {
		t.Fatalf("HasDeliveredAlert: %v", err)
	}
	if !delivered {
		t.Error("sent alert should occupy its dedup window")
	}

	suppressed := &models.Alert{
		AlertID:  uuid.New().String(),
		EventID:  "evt-2",
		Type:     models.EventThresholdCrossed,
		DedupKey: "window-2",
		Status:   models.AlertSuppressed,
		SentAt:   now,
	}
	if err := s.AppendAlert(suppressed); err != nil {
		t.Fatalf("AppendAlert: %v", err)
	}
	delivered, err = s.HasDeliveredAlert("window-2")
	if err != nil {
		t.Fatalf("HasDeliveredAlert: %v", err)
	}
	if delivered {
		t.Error("suppressed alerts must not occupy a dedup window")
	}

	rows, err := s.AlertsForEvent("evt-1")
	if err != nil {
		t.Fatalf("AlertsForEvent: %v", err)
	}
	if len(rows) != 1 || rows[0].Status != models.AlertSent {
		t.Errorf("got %+v, want one sent alert", rows)
	}
}

func TestLogCycleAndRecentCycles(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()

	for i := 0; i < 3; i++ {
		log := &models.SyncCycleLog{
			CycleID:        uuid.New().String(),
			StartedAt:      base.Add(time.Duration(i) * time.Second),
			DurationMS:     int64(40 + i),
			EntitiesPolled: 5,
			EventsEmitted:  i,
			Errors:         0,
		}
		if err := s.LogCycle(log); err != nil {
			t.Fatalf("LogCycle: %v", err)
		}
	}

	cycles, err := s.RecentCycles(2)
	if err != nil {
		t.Fatalf("RecentCycles: %v", err)
	}
	if len(cycles) != 2 {
		t.Fatalf("got %d cycles, want 2", len(cycles))
	}
	if !cycles[0].StartedAt.After(cycles[1].StartedAt) {
		t.Error("cycles should be newest first")
	}
	if cycles[0].EventsEmitted != 2 {
		t.Errorf("got %d events emitted, want 2", cycles[0].EventsEmitted)
	}
}
