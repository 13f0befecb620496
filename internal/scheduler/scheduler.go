// Package scheduler orchestrates sync cycles: discover the active
// entity set, fetch upstream state, diff it, correlate and dispatch
// the resulting events, and persist everything through a single
// writer path.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gamepulse/gamepulse/internal/correlate"
	"github.com/gamepulse/gamepulse/internal/differ"
	"github.com/gamepulse/gamepulse/internal/dispatch"
	"github.com/gamepulse/gamepulse/internal/logger"
	"github.com/gamepulse/gamepulse/internal/models"
	"github.com/gamepulse/gamepulse/internal/source"
)

// Store is the slice of the entity store the scheduler uses.
type Store interface {
	ActiveEntityIDs(kind models.Kind) ([]string, error)
	SaveEntitySync(e *models.Entity, events []models.Event, corrs []models.Correlation) error
	UpsertEntity(e *models.Entity) error
	DeactivateEntity(kind models.Kind, entityID string) error
	LogCycle(c *models.SyncCycleLog) error
}

// Notifier receives operational notices about cycle health. It is
// optional; a nil notifier disables the notices.
type Notifier interface {
	SendError(err error) error
	SendRecovery(failureCount int) error
}

// Config holds scheduler cadence and concurrency settings.
type Config struct {
	CyclePeriod         time.Duration
	IdleInterval        time.Duration
	FetchTimeout        time.Duration
	CycleDeadlineFactor int
	MaxBackoffCycles    int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CyclePeriod:         5 * time.Second,
		IdleInterval:        60 * time.Second,
		FetchTimeout:        10 * time.Second,
		CycleDeadlineFactor: 3,
		MaxBackoffCycles:    8,
	}
}

type snapKey struct {
	kind models.Kind
	id   string
}

// Scheduler runs the cooperative sync loop. It owns the snapshot
// cache and the reading buffer exclusively; adapters and the
// dispatcher only ever see values it hands them.
type Scheduler struct {
	cfg        Config
	store      Store
	differ     *differ.Differ
	tracker    *correlate.Tracker
	buffer     *correlate.Buffer
	dispatcher *dispatch.Dispatcher
	adapters   []source.Adapter
	notifier   Notifier

	snapshots map[snapKey]models.Snapshot
	backoffs  map[models.Kind]*backoff
	health    *healthState
}

// New creates a scheduler. Adapter order is the per-cycle fetch
// order; list market adapters first so same-cycle readings are
// buffered before game events are correlated.
func New(
	cfg Config,
	store Store,
	d *differ.Differ,
	tracker *correlate.Tracker,
	buffer *correlate.Buffer,
	dispatcher *dispatch.Dispatcher,
	adapters []source.Adapter,
	notifier Notifier,
) *Scheduler {
	if cfg.CycleDeadlineFactor < 1 {
		cfg.CycleDeadlineFactor = 1
	}
	return &Scheduler{
		cfg:        cfg,
		store:      store,
		differ:     d,
		tracker:    tracker,
		buffer:     buffer,
		dispatcher: dispatcher,
		adapters:   adapters,
		notifier:   notifier,
		snapshots:  make(map[snapKey]models.Snapshot),
		backoffs:   make(map[models.Kind]*backoff),
		health:     newHealthState(),
	}
}

// Health returns the current health snapshot.
func (s *Scheduler) Health() HealthSnapshot {
	return s.health.Snapshot()
}

// Run executes cycles until ctx is cancelled, then returns after the
// in-flight cycle's writes have drained. Cycles never overlap: an
// overrunning cycle delays the next one instead.
func (s *Scheduler) Run(ctx context.Context) {
	logger.Info("Scheduler started (cycle: %v, idle: %v)", s.cfg.CyclePeriod, s.cfg.IdleInterval)

	consecutiveFailures := 0
	for {
		start := time.Now()
		active, cycleErr := s.runCycle(ctx)
		if ctx.Err() != nil {
			logger.Info("Scheduler stopped")
			return
		}

		if cycleErr != nil {
			consecutiveFailures++
			logger.Error("Sync cycle failed: %v", cycleErr)
			if consecutiveFailures == 1 && s.notifier != nil {
				if err := s.notifier.SendError(cycleErr); err != nil {
					logger.Warn("Failed to send error notice: %v", err)
				}
			}
		} else {
			if consecutiveFailures > 0 && s.notifier != nil {
				if err := s.notifier.SendRecovery(consecutiveFailures); err != nil {
					logger.Warn("Failed to send recovery notice: %v", err)
				}
			}
			consecutiveFailures = 0
		}

		// Idle only when nothing is active. A cycle can poll zero
		// entities while a kind backs off; those keep the normal
		// cadence so the fetch resumes as soon as the skip is paid.
		wait := s.cfg.CyclePeriod - time.Since(start)
		if active == 0 {
			if found := s.discover(ctx); found == 0 {
				wait = s.cfg.IdleInterval
			}
		}
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			logger.Info("Scheduler stopped")
			return
		case <-time.After(wait):
		}
	}
}

// runCycle performs one full pass. It returns the number of active
// entities across all kinds (polled or not) and a non-nil error only
// when every attempted fetch failed; partial failures are contained
// and surfaced in the cycle log.
func (s *Scheduler) runCycle(ctx context.Context) (int, error) {
	start := time.Now()
	cycleCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.CycleDeadlineFactor)*s.cfg.CyclePeriod)
	defer cancel()

	var active, polled, eventsEmitted, errCount, succeeded int

	type kindBatch struct {
		kind    models.Kind
		results []source.FetchResult
	}
	var batches []kindBatch

	for _, adapter := range s.adapters {
		kind := adapter.Kind()
		ids, err := s.store.ActiveEntityIDs(kind)
		if err != nil {
			logger.Error("Failed to list active %s entities: %v", kind, err)
			errCount++
			continue
		}
		if len(ids) == 0 {
			continue
		}
		active += len(ids)

		bo := s.backoffFor(kind)
		if bo.Skip() {
			logger.Debug("Skipping %s fetch: backing off after %d consecutive failures", kind, bo.Consecutive())
			errCount++
			continue
		}

		polled += len(ids)
		fetchCtx, fetchCancel := context.WithTimeout(cycleCtx, s.cfg.FetchTimeout)
		results := adapter.Fetch(fetchCtx, ids)
		fetchCancel()
		batches = append(batches, kindBatch{kind: kind, results: results})

		if degraded(results) {
			bo.Failure()
		} else {
			bo.Success()
		}
		s.health.recordKind(string(kind), bo.Consecutive())
	}

	// Buffer this cycle's readings before processing any events so
	// correlation lookback sees same-cycle market data.
	for _, batch := range batches {
		for _, r := range batch.results {
			for _, reading := range r.Readings {
				s.buffer.Add(reading)
			}
		}
	}
	s.buffer.Prune(start)

	for _, batch := range batches {
		for _, r := range batch.results {
			if r.Failure != nil {
				errCount++
				if r.Failure.Kind == source.FailNotFound {
					logger.Info("Entity %s/%s gone upstream, deactivating", batch.kind, r.EntityID)
					if err := s.store.DeactivateEntity(batch.kind, r.EntityID); err != nil {
						logger.Warn("Failed to deactivate %s/%s: %v", batch.kind, r.EntityID, err)
					}
				} else {
					logger.Debug("Fetch failed for %s/%s: %v", batch.kind, r.EntityID, r.Failure)
				}
				continue
			}
			emitted, ok := s.applyResult(ctx, batch.kind, r)
			eventsEmitted += emitted
			if ok {
				succeeded++
			} else {
				errCount++
			}
		}
	}

	cycleLog := &models.SyncCycleLog{
		CycleID:        uuid.New().String(),
		StartedAt:      start,
		DurationMS:     time.Since(start).Milliseconds(),
		EntitiesPolled: polled,
		EventsEmitted:  eventsEmitted,
		Errors:         errCount,
	}
	if err := s.store.LogCycle(cycleLog); err != nil {
		logger.Warn("Failed to log cycle: %v", err)
	}
	s.health.recordCycle(time.Now(), errCount)

	logger.Info("Cycle complete: %d polled, %d events, %d errors in %v",
		polled, eventsEmitted, errCount, time.Since(start))

	if polled > 0 && succeeded == 0 && errCount > 0 {
		return active, fmt.Errorf("all %d polled entities failed this cycle", polled)
	}
	return active, nil
}

// applyResult diffs one successful fetch against the cached snapshot,
// persists the outcome atomically, and dispatches alerts. The
// snapshot cache only advances after a successful persist, so a
// failed write leaves the entity stale by one cycle and the diff is
// recomputed next time.
func (s *Scheduler) applyResult(ctx context.Context, kind models.Kind, r source.FetchResult) (int, bool) {
	key := snapKey{kind: kind, id: r.EntityID}
	var prev *models.Snapshot
	if snap, ok := s.snapshots[key]; ok {
		if !r.ObservedAt.After(snap.TakenAt) {
			// Stale or duplicate observation; nothing new to diff.
			return 0, true
		}
		prev = &snap
	}

	status := models.StatusUnknown
	if sv, ok := r.Fields["status"]; ok && sv.Kind == models.ValueString {
		status = models.ParseStatus(sv.Str)
	}
	if prev != nil && !models.Advances(prev.Status, status) {
		// The lifecycle is one-directional; a regression is stale
		// upstream data.
		status = prev.Status
	}

	cur := models.Snapshot{
		EntityID: r.EntityID,
		Kind:     kind,
		Status:   status,
		IsLive:   status != models.StatusFinal,
		Fields:   r.Fields.Clone(),
		TakenAt:  r.ObservedAt,
	}

	events := s.differ.Diff(prev, cur)

	var corrs []models.Correlation
	corrByEvent := make(map[string]*models.Correlation)
	for _, ev := range events {
		if c := s.tracker.Record(ev, s.buffer); c != nil {
			corrs = append(corrs, *c)
			corrByEvent[ev.EventID] = c
		}
	}

	entity := &models.Entity{
		EntityID:     cur.EntityID,
		Kind:         cur.Kind,
		IsLive:       cur.IsLive,
		Status:       cur.Status,
		Fields:       cur.Fields,
		LastSyncedAt: cur.TakenAt,
	}
	if err := s.store.SaveEntitySync(entity, events, corrs); err != nil {
		logger.Warn("Failed to persist %s/%s, retrying next cycle: %v", kind, r.EntityID, err)
		return 0, false
	}
	s.snapshots[key] = cur

	for _, ev := range events {
		s.dispatcher.Dispatch(ctx, ev, corrByEvent[ev.EventID])
	}
	return len(events), true
}

// discover polls adapters that can list upcoming entities and
// activates them. Returns the number of entities found.
func (s *Scheduler) discover(ctx context.Context) int {
	found := 0
	for _, adapter := range s.adapters {
		d, ok := adapter.(source.Discoverer)
		if !ok {
			continue
		}
		discoverCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
		entities, err := d.Discover(discoverCtx)
		cancel()
		if err != nil {
			logger.Debug("Discovery failed for %s: %v", adapter.Kind(), err)
			continue
		}
		for i := range entities {
			if err := s.store.UpsertEntity(&entities[i]); err != nil {
				logger.Warn("Failed to activate %s/%s: %v", entities[i].Kind, entities[i].EntityID, err)
				continue
			}
			found++
		}
	}
	if found > 0 {
		logger.Info("Discovered %d upcoming entities", found)
	}
	return found
}

func (s *Scheduler) backoffFor(kind models.Kind) *backoff {
	bo, ok := s.backoffs[kind]
	if !ok {
		bo = newBackoff(s.cfg.MaxBackoffCycles)
		s.backoffs[kind] = bo
	}
	return bo
}

// degraded reports whether a batch shows upstream trouble worth
// backing off for. NotFound is excluded: it is definitive, not
// transient.
func degraded(results []source.FetchResult) bool {
	for _, r := range results {
		if r.Failure == nil {
			continue
		}
		switch r.Failure.Kind {
		case source.FailRateLimited, source.FailTimeout, source.FailTransient:
			return true
		}
	}
	return false
}
