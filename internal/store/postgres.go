package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/shayan-deriv/multi-touch-attribution/internal/db"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const pgInsertEvent = `
INSERT INTO journey_events
 (id, device_id, user_id, prior_device_id, url, title, referrer, occurred_at, authenticated, attribution, received_at)
 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11)
 ON CONFLICT (id) DO UPDATE SET
   authenticated = EXCLUDED.authenticated,
   user_id = COALESCE(EXCLUDED.user_id, journey_events.user_id),
   received_at = EXCLUDED.received_at`

const pgUpsertIdentity = `
INSERT INTO journey_identities (device_id, user_id, prior_device_id, first_seen, last_seen)
 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5)
 ON CONFLICT (device_id) DO UPDATE SET
   user_id = COALESCE(EXCLUDED.user_id, journey_identities.user_id),
   prior_device_id = COALESCE(EXCLUDED.prior_device_id, journey_identities.prior_device_id),
   last_seen = EXCLUDED.last_seen`

const pgGetIdentity = `
SELECT i.device_id, i.user_id, i.prior_device_id, i.first_seen, i.last_seen,
  (SELECT COUNT(*) FROM journey_events e WHERE e.device_id = i.device_id) AS event_count
 FROM journey_identities i WHERE i.device_id = $1`

const pgTopSources = `
SELECT COALESCE(attribution->>'utm_source', '') AS source,
  COALESCE(attribution->>'utm_medium', '') AS medium,
  COUNT(*) AS events
 FROM journey_events WHERE occurred_at >= $1
 GROUP BY source, medium
 ORDER BY events DESC, source ASC
 LIMIT $2`

const pgCountEvents = `
SELECT COUNT(*),
  COALESCE(SUM(CASE WHEN authenticated THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN COALESCE(attribution->>'utm_source', '') = '' THEN 1 ELSE 0 END), 0),
  COUNT(DISTINCT device_id)
 FROM journey_events WHERE occurred_at >= $1`

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot ingest path.
var preparedStatements = map[string]string{
	"insert_event":    pgInsertEvent,
	"upsert_identity": pgUpsertIdentity,
	"get_identity":    pgGetIdentity,
	"top_sources":     pgTopSources,
	"count_events":    pgCountEvents,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS journey_events (
	id              TEXT PRIMARY KEY,
	device_id       TEXT NOT NULL,
	user_id         TEXT,
	prior_device_id TEXT,
	url             TEXT NOT NULL,
	title           TEXT NOT NULL DEFAULT '',
	referrer        TEXT NOT NULL DEFAULT '',
	occurred_at     BIGINT NOT NULL,
	authenticated   BOOLEAN NOT NULL DEFAULT false,
	attribution     JSONB NOT NULL,
	received_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS journey_identities (
	device_id       TEXT PRIMARY KEY,
	user_id         TEXT,
	prior_device_id TEXT,
	first_seen      TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_seen       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_journey_events_device ON journey_events(device_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_journey_events_user ON journey_events(user_id);
CREATE INDEX IF NOT EXISTS idx_journey_events_occurred ON journey_events(occurred_at);
CREATE INDEX IF NOT EXISTS idx_journey_events_source ON journey_events((attribution->>'utm_source'));
CREATE INDEX IF NOT EXISTS idx_journey_identities_user ON journey_identities(user_id);
CREATE INDEX IF NOT EXISTS idx_journey_identities_last_seen ON journey_identities(last_seen);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) InsertEvent(ctx context.Context, e Event) error {
	attributionJSON, err := json.Marshal(e.Attribution)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal attribution")
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx, pgInsertEvent,
		e.ID, e.DeviceID, e.UserID, e.PriorDeviceID, e.URL, e.Title, e.Referrer,
		e.OccurredAt, e.Authenticated, attributionJSON, e.ReceivedAt,
	)
	return eris.Wrapf(err, "postgres: insert event %s", e.ID)
}

// insertColumns is the column order used by the bulk insert path.
var insertColumns = []string{
	"id", "device_id", "user_id", "prior_device_id", "url", "title", "referrer",
	"occurred_at", "authenticated", "attribution", "received_at",
}

func (s *PostgresStore) InsertEvents(ctx context.Context, events []Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		attributionJSON, err := json.Marshal(e.Attribution)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal attribution %s", e.ID)
		}
		receivedAt := e.ReceivedAt
		if receivedAt.IsZero() {
			receivedAt = now
		}
		var userID, priorID any
		if e.UserID != "" {
			userID = e.UserID
		}
		if e.PriorDeviceID != "" {
			priorID = e.PriorDeviceID
		}
		rows = append(rows, []any{
			e.ID, e.DeviceID, userID, priorID, e.URL, e.Title, e.Referrer,
			e.OccurredAt, e.Authenticated, attributionJSON, receivedAt,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "journey_events",
		Columns:      insertColumns,
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"authenticated", "received_at"},
		CoalesceCols: []string{"user_id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert events")
	}
	return int(n), nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	query := `SELECT id, device_id, user_id, prior_device_id, url, title, referrer, occurred_at, authenticated, attribution, received_at
	          FROM journey_events WHERE true`
	args := []any{}
	argIdx := 1

	if filter.DeviceID != "" {
		query += fmt.Sprintf(` AND device_id = $%d`, argIdx)
		args = append(args, filter.DeviceID)
		argIdx++
	}
	if filter.UserID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	if filter.Source != "" {
		query += fmt.Sprintf(` AND attribution->>'utm_source' = $%d`, argIdx)
		args = append(args, filter.Source)
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND occurred_at >= $%d`, argIdx)
		args = append(args, filter.Since.UnixMilli())
		argIdx++
	}
	query += ` ORDER BY occurred_at ASC, id ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list events")
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var userID, priorID *string
		var attributionJSON []byte

		if err := rows.Scan(&e.ID, &e.DeviceID, &userID, &priorID, &e.URL, &e.Title, &e.Referrer,
			&e.OccurredAt, &e.Authenticated, &attributionJSON, &e.ReceivedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		if userID != nil {
			e.UserID = *userID
		}
		if priorID != nil {
			e.PriorDeviceID = *priorID
		}
		if err := json.Unmarshal(attributionJSON, &e.Attribution); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal attribution")
		}
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list events iterate")
}

func (s *PostgresStore) UpsertIdentity(ctx context.Context, id Identity) error {
	if id.LastSeen.IsZero() {
		id.LastSeen = time.Now().UTC()
	}
	firstSeen := id.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = id.LastSeen
	}

	_, err := s.pool.Exec(ctx, pgUpsertIdentity,
		id.DeviceID, id.UserID, id.PriorDeviceID, firstSeen, id.LastSeen,
	)
	return eris.Wrapf(err, "postgres: upsert identity %s", id.DeviceID)
}

func (s *PostgresStore) GetIdentity(ctx context.Context, deviceID string) (*Identity, error) {
	var id Identity
	var userID, priorID *string

	err := s.pool.QueryRow(ctx, pgGetIdentity, deviceID).
		Scan(&id.DeviceID, &userID, &priorID, &id.FirstSeen, &id.LastSeen, &id.EventCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get identity")
	}
	if userID != nil {
		id.UserID = *userID
	}
	if priorID != nil {
		id.PriorDeviceID = *priorID
	}
	return &id, nil
}

func (s *PostgresStore) ListIdentities(ctx context.Context, filter IdentityFilter) ([]Identity, error) {
	query := `SELECT i.device_id, i.user_id, i.prior_device_id, i.first_seen, i.last_seen,
	            (SELECT COUNT(*) FROM journey_events e WHERE e.device_id = i.device_id) AS event_count
	          FROM journey_identities i WHERE true`
	args := []any{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(` AND i.user_id = $%d`, argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	query += ` ORDER BY i.last_seen DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list identities")
	}
	defer rows.Close()

	var ids []Identity
	for rows.Next() {
		var id Identity
		var userID, priorID *string
		if err := rows.Scan(&id.DeviceID, &userID, &priorID, &id.FirstSeen, &id.LastSeen, &id.EventCount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan identity")
		}
		if userID != nil {
			id.UserID = *userID
		}
		if priorID != nil {
			id.PriorDeviceID = *priorID
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: list identities iterate")
}

func (s *PostgresStore) TopSources(ctx context.Context, since time.Time, limit int) ([]SourceCount, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx, pgTopSources, since.UnixMilli(), limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: top sources")
	}
	defer rows.Close()

	var counts []SourceCount
	for rows.Next() {
		var sc SourceCount
		if err := rows.Scan(&sc.Source, &sc.Medium, &sc.Events); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source count")
		}
		counts = append(counts, sc)
	}
	return counts, eris.Wrap(rows.Err(), "postgres: top sources iterate")
}

func (s *PostgresStore) CountEvents(ctx context.Context, since time.Time) (EventCounts, error) {
	var c EventCounts
	err := s.pool.QueryRow(ctx, pgCountEvents, since.UnixMilli()).
		Scan(&c.Total, &c.Authenticated, &c.Direct, &c.Devices)
	return c, eris.Wrap(err, "postgres: count events")
}
