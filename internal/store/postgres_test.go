package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_InsertEvent_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO journey_events`).
		WithArgs("e1", "dev-1", "", "", "https://app.example.com/pricing", "Pricing", "https://www.google.com/",
			pgxmock.AnyArg(), false, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.InsertEvent(context.Background(), journeyEvent("e1", "dev-1", 0))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertIdentity(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO journey_identities`).
		WithArgs("dev-1", "user-42", "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertIdentity(context.Background(), Identity{
		DeviceID: "dev-1",
		UserID:   "user-42",
		LastSeen: suiteTime,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetIdentity_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM journey_identities i WHERE i.device_id = \$1`).
		WithArgs("nonexistent-device").
		WillReturnError(pgx.ErrNoRows)

	id, err := s.GetIdentity(context.Background(), "nonexistent-device")
	require.NoError(t, err)
	assert.Nil(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TopSources(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"source", "medium", "events"}).
		AddRow("google", "cpc", 3).
		AddRow("", "", 1)
	mock.ExpectQuery(`GROUP BY source, medium`).
		WithArgs(pgxmock.AnyArg(), 5).
		WillReturnRows(rows)

	counts, err := s.TopSources(context.Background(), suiteTime, 5)
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, SourceCount{Source: "google", Medium: "cpc", Events: 3}, counts[0])
	assert.Equal(t, SourceCount{Source: "", Medium: "", Events: 1}, counts[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountEvents(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"total", "authenticated", "direct", "devices"}).
		AddRow(5, 2, 1, 3)
	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WithArgs(suiteTime.UnixMilli()).
		WillReturnRows(rows)

	counts, err := s.CountEvents(context.Background(), suiteTime)
	require.NoError(t, err)
	assert.Equal(t, EventCounts{Total: 5, Authenticated: 2, Direct: 1, Devices: 3}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListEvents_BuildsFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	cols := []string{"id", "device_id", "user_id", "prior_device_id", "url", "title", "referrer",
		"occurred_at", "authenticated", "attribution", "received_at"}
	mock.ExpectQuery(`AND device_id = \$1 AND attribution->>'utm_source' = \$2 .* LIMIT \$3`).
		WithArgs("dev-1", "google", 100).
		WillReturnRows(pgxmock.NewRows(cols))

	events, err := s.ListEvents(context.Background(), EventFilter{DeviceID: "dev-1", Source: "google"})
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertEvents_BulkUpsertFlow(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_journey_events"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_journey_events"}, insertColumns).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "journey_events" .+ ON CONFLICT \("id"\)`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := s.InsertEvents(context.Background(), []Event{
		journeyEvent("e1", "dev-1", 0),
		journeyEvent("e2", "dev-1", 5),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT 1`).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS journey_events`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertEvent_DefaultsReceivedAt(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO journey_events`).
		WithArgs("e1", "dev-1", "", "", "https://app.example.com/pricing", "Pricing", "https://www.google.com/",
			pgxmock.AnyArg(), false, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	e := journeyEvent("e1", "dev-1", 0)
	e.ReceivedAt = time.Time{}
	require.NoError(t, s.InsertEvent(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}
