// Package store provides SQLite-backed persistence for entities and
// the append-only event, correlation, alert, and cycle-log tables.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gamepulse/gamepulse/internal/models"
	_ "modernc.org/sqlite"
)

var (
	// ErrDuplicateKey reports an append of an already-persisted row.
	// Callers generate deterministic IDs, so a retry hitting this is
	// treated as success.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrNotFound reports a missing entity.
	ErrNotFound = errors.New("not found")
)

// Store wraps a SQLite database for all persistence operations.
// entities is the only mutable table; everything else is append-only.
type Store struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/gamepulse/data.db.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "gamepulse", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			kind            TEXT NOT NULL,
			entity_id       TEXT NOT NULL,
			is_live         INTEGER NOT NULL,
			status          TEXT NOT NULL,
			fields          TEXT NOT NULL,
			last_synced_at  INTEGER NOT NULL,
			PRIMARY KEY (kind, entity_id)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id        TEXT PRIMARY KEY,
			entity_id       TEXT NOT NULL,
			kind            TEXT NOT NULL,
			event_type      TEXT NOT NULL,
			field           TEXT NOT NULL,
			magnitude       REAL NOT NULL,
			payload         TEXT NOT NULL,
			detected_at     INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS correlations (
			event_id        TEXT PRIMARY KEY REFERENCES events(event_id),
			reading_before  TEXT,
			reading_after   TEXT,
			delta           REAL NOT NULL,
			delta_pct       REAL NOT NULL,
			created_at      INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			alert_id        TEXT PRIMARY KEY,
			event_id        TEXT NOT NULL,
			alert_type      TEXT NOT NULL,
			dedup_key       TEXT NOT NULL,
			status          TEXT NOT NULL,
			detail          TEXT,
			sent_at         INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sync_cycle_log (
			cycle_id        TEXT PRIMARY KEY,
			started_at      INTEGER NOT NULL,
			duration_ms     INTEGER NOT NULL,
			entities_polled INTEGER NOT NULL,
			events_emitted  INTEGER NOT NULL,
			errors          INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_live ON entities(kind, is_live)`,
		`CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_id, detected_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_dedup ON alerts(dedup_key)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_event ON alerts(event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_started ON sync_cycle_log(started_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// UpsertEntity inserts or updates an entity keyed by (kind, entity_id).
// Last write wins on fields, monotonic on last_synced_at: a write
// carrying an older timestamp than the stored row is silently dropped.
func (s *Store) UpsertEntity(e *models.Entity) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid entity: %w", err)
	}
	return upsertEntity(s.db, e)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertEntity(db execer, e *models.Entity) error {
	fieldsJSON, err := json.Marshal(e.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO entities (kind, entity_id, is_live, status, fields, last_synced_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(kind, entity_id) DO UPDATE SET
			is_live        = excluded.is_live,
			status         = excluded.status,
			fields         = excluded.fields,
			last_synced_at = excluded.last_synced_at
		WHERE excluded.last_synced_at >= entities.last_synced_at`,
		e.Kind, e.EntityID, boolToInt(e.IsLive), e.Status,
		string(fieldsJSON), e.LastSyncedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}
	return nil
}

// DeactivateEntity clears is_live so the entity drops out of future
// poll cycles until explicitly reactivated.
func (s *Store) DeactivateEntity(kind models.Kind, entityID string) error {
	_, err := s.db.Exec(`
		UPDATE entities SET is_live = 0
		WHERE kind = ? AND entity_id = ?`, kind, entityID)
	if err != nil {
		return fmt.Errorf("failed to deactivate entity: %w", err)
	}
	return nil
}

// GetEntity returns one entity or ErrNotFound.
func (s *Store) GetEntity(kind models.Kind, entityID string) (*models.Entity, error) {
	row := s.db.QueryRow(`
		SELECT kind, entity_id, is_live, status, fields, last_synced_at
		FROM entities WHERE kind = ? AND entity_id = ?`, kind, entityID)
	e, err := scanEntity(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("entity %s/%s: %w", kind, entityID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return e, nil
}

// ActiveEntityIDs returns the IDs of live entities of one kind,
// sorted for deterministic cycle ordering.
func (s *Store) ActiveEntityIDs(kind models.Kind) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT entity_id FROM entities
		WHERE kind = ? AND is_live = 1 ORDER BY entity_id`, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query active entities: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan entity ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AppendEvent appends one event row. Reinserting an event_id returns
// ErrDuplicateKey.
func (s *Store) AppendEvent(e *models.Event) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	return appendEvent(s.db, e)
}

func appendEvent(db execer, e *models.Event) error {
	payload, err := json.Marshal(map[string]models.Value{"before": e.Before, "after": e.After})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO events (event_id, entity_id, kind, event_type, field, magnitude, payload, detected_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		e.EventID, e.EntityID, e.Kind, e.Type, e.Field, e.Magnitude,
		string(payload), e.DetectedAt.UnixNano(),
	)
	if err != nil {
		return wrapWriteErr("event", err)
	}
	return nil
}

// AppendCorrelation appends one correlation row, at most one per event.
func (s *Store) AppendCorrelation(c *models.Correlation) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid correlation: %w", err)
	}
	return appendCorrelation(s.db, c)
}

func appendCorrelation(db execer, c *models.Correlation) error {
	before, after, err := marshalReadings(c)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO correlations (event_id, reading_before, reading_after, delta, delta_pct, created_at)
		VALUES (?,?,?,?,?,?)`,
		c.EventID, before, after, c.Delta, c.DeltaPct, c.CreatedAt.UnixNano(),
	)
	if err != nil {
		return wrapWriteErr("correlation", err)
	}
	return nil
}

// AppendAlert appends one alert audit row.
func (s *Store) AppendAlert(a *models.Alert) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid alert: %w", err)
	}
	_, err := s.db.Exec(`
		INSERT INTO alerts (alert_id, event_id, alert_type, dedup_key, status, detail, sent_at)
		VALUES (?,?,?,?,?,?,?)`,
		a.AlertID, a.EventID, a.Type, a.DedupKey, a.Status, a.Detail, a.SentAt.UnixNano(),
	)
	if err != nil {
		return wrapWriteErr("alert", err)
	}
	return nil
}

// HasDeliveredAlert reports whether a sent or failed alert already
// occupies the dedup window. Suppressed rows do not count: they never
// reached the sink.
func (s *Store) HasDeliveredAlert(dedupKey string) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM alerts
		WHERE dedup_key = ? AND status IN (?, ?)`,
		dedupKey, models.AlertSent, models.AlertFailed).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query dedup window: %w", err)
	}
	return n > 0, nil
}

// LogCycle appends one cycle summary row.
func (s *Store) LogCycle(c *models.SyncCycleLog) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_cycle_log (cycle_id, started_at, duration_ms, entities_polled, events_emitted, errors)
		VALUES (?,?,?,?,?,?)`,
		c.CycleID, c.StartedAt.UnixNano(), c.DurationMS,
		c.EntitiesPolled, c.EventsEmitted, c.Errors,
	)
	if err != nil {
		return wrapWriteErr("cycle log", err)
	}
	return nil
}

// SaveEntitySync persists one entity's cycle outcome atomically: the
// upsert plus its emitted events and correlations in a single
// transaction. Events stay the source of truth; a correlation failure
// rolls back the whole batch rather than leaving orphans.
func (s *Store) SaveEntitySync(e *models.Entity, events []models.Event, corrs []models.Correlation) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid entity: %w", err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := upsertEntity(tx, e); err != nil {
		return err
	}
	for i := range events {
		if err := appendEvent(tx, &events[i]); err != nil && !errors.Is(err, ErrDuplicateKey) {
			return err
		}
	}
	for i := range corrs {
		if err := appendCorrelation(tx, &corrs[i]); err != nil && !errors.Is(err, ErrDuplicateKey) {
			return err
		}
	}
	return tx.Commit()
}

// RecentEvents returns up to limit events, newest first.
func (s *Store) RecentEvents(limit int) ([]models.Event, error) {
	rows, err := s.db.Query(`
		SELECT event_id, entity_id, kind, event_type, field, magnitude, payload, detected_at
		FROM events ORDER BY detected_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	var events []models.Event
	for rows.Next() {
		var e models.Event
		var payload string
		var detectedAtNano int64
		if err := rows.Scan(&e.EventID, &e.EntityID, &e.Kind, &e.Type, &e.Field,
			&e.Magnitude, &payload, &detectedAtNano); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		var pm map[string]models.Value
		if err := json.Unmarshal([]byte(payload), &pm); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		e.Before, e.After = pm["before"], pm["after"]
		e.DetectedAt = time.Unix(0, detectedAtNano)
		events = append(events, e)
	}
	return events, rows.Err()
}

// AlertsForEvent returns the audit rows recorded for one event.
func (s *Store) AlertsForEvent(eventID string) ([]models.Alert, error) {
	rows, err := s.db.Query(`
		SELECT alert_id, event_id, alert_type, dedup_key, status, detail, sent_at
		FROM alerts WHERE event_id = ? ORDER BY sent_at`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()
	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		var detail sql.NullString
		var sentAtNano int64
		if err := rows.Scan(&a.AlertID, &a.EventID, &a.Type, &a.DedupKey,
			&a.Status, &detail, &sentAtNano); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Detail = detail.String
		a.SentAt = time.Unix(0, sentAtNano)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// RecentCycles returns up to limit cycle logs, newest first.
func (s *Store) RecentCycles(limit int) ([]models.SyncCycleLog, error) {
	rows, err := s.db.Query(`
		SELECT cycle_id, started_at, duration_ms, entities_polled, events_emitted, errors
		FROM sync_cycle_log ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycle log: %w", err)
	}
	defer rows.Close()
	var cycles []models.SyncCycleLog
	for rows.Next() {
		var c models.SyncCycleLog
		var startedAtNano int64
		if err := rows.Scan(&c.CycleID, &startedAtNano, &c.DurationMS,
			&c.EntitiesPolled, &c.EventsEmitted, &c.Errors); err != nil {
			return nil, fmt.Errorf("failed to scan cycle log: %w", err)
		}
		c.StartedAt = time.Unix(0, startedAtNano)
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

func scanEntity(scan func(...any) error) (*models.Entity, error) {
	var e models.Entity
	var isLive int
	var fieldsJSON string
	var lastSyncedNano int64
	if err := scan(&e.Kind, &e.EntityID, &isLive, &e.Status, &fieldsJSON, &lastSyncedNano); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &e.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
	}
	e.IsLive = isLive != 0
	e.LastSyncedAt = time.Unix(0, lastSyncedNano)
	return &e, nil
}

func marshalReadings(c *models.Correlation) (before, after sql.NullString, err error) {
	if c.ReadingBefore != nil {
		b, merr := json.Marshal(c.ReadingBefore)
		if merr != nil {
			return before, after, fmt.Errorf("failed to marshal reading: %w", merr)
		}
		before = sql.NullString{String: string(b), Valid: true}
	}
	if c.ReadingAfter != nil {
		b, merr := json.Marshal(c.ReadingAfter)
		if merr != nil {
			return before, after, fmt.Errorf("failed to marshal reading: %w", merr)
		}
		after = sql.NullString{String: string(b), Valid: true}
	}
	return before, after, nil
}

func wrapWriteErr(what string, err error) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s already persisted: %w", what, ErrDuplicateKey)
	}
	return fmt.Errorf("failed to insert %s: %w", what, err)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
