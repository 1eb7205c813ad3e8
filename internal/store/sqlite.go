package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS journey_events (
	id              TEXT PRIMARY KEY,
	device_id       TEXT NOT NULL,
	user_id         TEXT,
	prior_device_id TEXT,
	url             TEXT NOT NULL,
	title           TEXT NOT NULL DEFAULT '',
	referrer        TEXT NOT NULL DEFAULT '',
	occurred_at     INTEGER NOT NULL,
	authenticated   INTEGER NOT NULL DEFAULT 0,
	attribution     TEXT NOT NULL,
	received_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS journey_identities (
	device_id       TEXT PRIMARY KEY,
	user_id         TEXT,
	prior_device_id TEXT,
	first_seen      DATETIME NOT NULL,
	last_seen       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_journey_events_device ON journey_events(device_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_journey_events_user ON journey_events(user_id);
CREATE INDEX IF NOT EXISTS idx_journey_events_occurred ON journey_events(occurred_at);
CREATE INDEX IF NOT EXISTS idx_journey_identities_user ON journey_identities(user_id);
CREATE INDEX IF NOT EXISTS idx_journey_identities_last_seen ON journey_identities(last_seen);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteInsertEvent upserts on id so an amended re-delivery of the same
// event flips its authenticated flag instead of failing.
const sqliteInsertEvent = `
INSERT INTO journey_events
 (id, device_id, user_id, prior_device_id, url, title, referrer, occurred_at, authenticated, attribution, received_at)
 VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?)
 ON CONFLICT(id) DO UPDATE SET
   authenticated = excluded.authenticated,
   user_id = COALESCE(excluded.user_id, user_id),
   received_at = excluded.received_at`

func (s *SQLiteStore) InsertEvent(ctx context.Context, e Event) error {
	attributionJSON, err := json.Marshal(e.Attribution)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal attribution")
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, sqliteInsertEvent,
		e.ID, e.DeviceID, e.UserID, e.PriorDeviceID, e.URL, e.Title, e.Referrer,
		e.OccurredAt, e.Authenticated, string(attributionJSON), e.ReceivedAt,
	)
	return eris.Wrapf(err, "sqlite: insert event %s", e.ID)
}

func (s *SQLiteStore) InsertEvents(ctx context.Context, events []Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert events")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, e := range events {
		attributionJSON, err := json.Marshal(e.Attribution)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: marshal attribution %s", e.ID)
		}
		if e.ReceivedAt.IsZero() {
			e.ReceivedAt = now
		}
		if _, err := tx.ExecContext(ctx, sqliteInsertEvent,
			e.ID, e.DeviceID, e.UserID, e.PriorDeviceID, e.URL, e.Title, e.Referrer,
			e.OccurredAt, e.Authenticated, string(attributionJSON), e.ReceivedAt,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert event %s", e.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert events")
	}
	return len(events), nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	query := `SELECT id, device_id, user_id, prior_device_id, url, title, referrer, occurred_at, authenticated, attribution, received_at
	          FROM journey_events WHERE 1=1`
	var args []any

	if filter.DeviceID != "" {
		query += ` AND device_id = ?`
		args = append(args, filter.DeviceID)
	}
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.Source != "" {
		query += ` AND json_extract(attribution, '$.utm_source') = ?`
		args = append(args, filter.Source)
	}
	if !filter.Since.IsZero() {
		query += ` AND occurred_at >= ?`
		args = append(args, filter.Since.UnixMilli())
	}
	// Secondary key keeps same-millisecond events in a stable order.
	query += ` ORDER BY occurred_at ASC, id ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list events iterate")
}

func (s *SQLiteStore) UpsertIdentity(ctx context.Context, id Identity) error {
	if id.LastSeen.IsZero() {
		id.LastSeen = time.Now().UTC()
	}
	firstSeen := id.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = id.LastSeen
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journey_identities (device_id, user_id, prior_device_id, first_seen, last_seen)
		 VALUES (?, NULLIF(?, ''), NULLIF(?, ''), ?, ?)
		 ON CONFLICT(device_id) DO UPDATE SET
		   user_id = COALESCE(excluded.user_id, user_id),
		   prior_device_id = COALESCE(excluded.prior_device_id, prior_device_id),
		   last_seen = excluded.last_seen`,
		id.DeviceID, id.UserID, id.PriorDeviceID, firstSeen, id.LastSeen,
	)
	return eris.Wrapf(err, "sqlite: upsert identity %s", id.DeviceID)
}

func (s *SQLiteStore) GetIdentity(ctx context.Context, deviceID string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT i.device_id, i.user_id, i.prior_device_id, i.first_seen, i.last_seen,
		   (SELECT COUNT(*) FROM journey_events e WHERE e.device_id = i.device_id) AS event_count
		 FROM journey_identities i WHERE i.device_id = ?`,
		deviceID,
	)

	var id Identity
	var userID, priorID sql.NullString
	err := row.Scan(&id.DeviceID, &userID, &priorID, &id.FirstSeen, &id.LastSeen, &id.EventCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get identity")
	}
	id.UserID = userID.String
	id.PriorDeviceID = priorID.String
	return &id, nil
}

func (s *SQLiteStore) ListIdentities(ctx context.Context, filter IdentityFilter) ([]Identity, error) {
	query := `SELECT i.device_id, i.user_id, i.prior_device_id, i.first_seen, i.last_seen,
	            (SELECT COUNT(*) FROM journey_events e WHERE e.device_id = i.device_id) AS event_count
	          FROM journey_identities i WHERE 1=1`
	var args []any

	if filter.UserID != "" {
		query += ` AND i.user_id = ?`
		args = append(args, filter.UserID)
	}
	query += ` ORDER BY i.last_seen DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list identities")
	}
	defer rows.Close()

	var ids []Identity
	for rows.Next() {
		var id Identity
		var userID, priorID sql.NullString
		if err := rows.Scan(&id.DeviceID, &userID, &priorID, &id.FirstSeen, &id.LastSeen, &id.EventCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan identity")
		}
		id.UserID = userID.String
		id.PriorDeviceID = priorID.String
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: list identities iterate")
}

func (s *SQLiteStore) TopSources(ctx context.Context, since time.Time, limit int) ([]SourceCount, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(json_extract(attribution, '$.utm_source'), '') AS source,
		   COALESCE(json_extract(attribution, '$.utm_medium'), '') AS medium,
		   COUNT(*) AS events
		 FROM journey_events WHERE occurred_at >= ?
		 GROUP BY source, medium
		 ORDER BY events DESC, source ASC
		 LIMIT ?`,
		since.UnixMilli(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: top sources")
	}
	defer rows.Close()

	var counts []SourceCount
	for rows.Next() {
		var sc SourceCount
		if err := rows.Scan(&sc.Source, &sc.Medium, &sc.Events); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source count")
		}
		counts = append(counts, sc)
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: top sources iterate")
}

func (s *SQLiteStore) CountEvents(ctx context.Context, since time.Time) (EventCounts, error) {
	var c EventCounts
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		   COALESCE(SUM(CASE WHEN authenticated THEN 1 ELSE 0 END), 0),
		   COALESCE(SUM(CASE WHEN COALESCE(json_extract(attribution, '$.utm_source'), '') = '' THEN 1 ELSE 0 END), 0),
		   COUNT(DISTINCT device_id)
		 FROM journey_events WHERE occurred_at >= ?`,
		since.UnixMilli(),
	).Scan(&c.Total, &c.Authenticated, &c.Direct, &c.Devices)
	return c, eris.Wrap(err, "sqlite: count events")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanEvent(row scannable) (*Event, error) {
	var e Event
	var userID, priorID sql.NullString
	var attributionJSON string

	err := row.Scan(&e.ID, &e.DeviceID, &userID, &priorID, &e.URL, &e.Title, &e.Referrer,
		&e.OccurredAt, &e.Authenticated, &attributionJSON, &e.ReceivedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("event not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan event")
	}

	e.UserID = userID.String
	e.PriorDeviceID = priorID.String
	if err := json.Unmarshal([]byte(attributionJSON), &e.Attribution); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal attribution")
	}
	return &e, nil
}
