package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// --- Lifecycle ---

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	// Running migrations again must be a no-op, not an error.
	require.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "journeys.db")

	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.InsertEvent(ctx, journeyEvent("e1", "dev-1", 0)))
	require.NoError(t, st.UpsertIdentity(ctx, Identity{DeviceID: "dev-1", UserID: "user-42", LastSeen: suiteTime}))
	require.NoError(t, st.Close())

	st2, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st2.Close() }) //nolint:errcheck

	events, err := st2.ListEvents(ctx, EventFilter{DeviceID: "dev-1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e1", events[0].ID)

	id, err := st2.GetIdentity(ctx, "dev-1")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "user-42", id.UserID)
}

// --- Column handling ---

func TestSQLite_InsertEvent_DefaultsReceivedAt(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	e := journeyEvent("e1", "dev-1", 0)
	e.ReceivedAt = time.Time{}
	require.NoError(t, st.InsertEvent(ctx, e))

	events, err := st.ListEvents(ctx, EventFilter{DeviceID: "dev-1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.WithinDuration(t, time.Now().UTC(), events[0].ReceivedAt, time.Minute)
}

func TestSQLite_EmptyIdentityFieldsStoredAsNull(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertEvent(ctx, journeyEvent("e1", "dev-1", 0)))

	// The user filter must not match rows whose user was stored as NULL.
	byUser, err := st.ListEvents(ctx, EventFilter{UserID: ""})
	require.NoError(t, err)
	assert.Len(t, byUser, 1) // empty filter means no filter

	byUser, err = st.ListEvents(ctx, EventFilter{UserID: "user-42"})
	require.NoError(t, err)
	assert.Empty(t, byUser)
}

func TestSQLite_UpsertIdentity_DefaultsTimestamps(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertIdentity(ctx, Identity{DeviceID: "dev-1"}))

	id, err := st.GetIdentity(ctx, "dev-1")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.WithinDuration(t, time.Now().UTC(), id.FirstSeen, time.Minute)
	assert.WithinDuration(t, time.Now().UTC(), id.LastSeen, time.Minute)
}

// --- Bulk path ---

func TestSQLite_InsertEvents_SharedTransaction(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	events := make([]Event, 0, 20)
	for i := 0; i < 20; i++ {
		events = append(events, journeyEvent(fmt.Sprintf("event-%d", i), "dev-1", i))
	}

	n, err := st.InsertEvents(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	all, err := st.ListEvents(ctx, EventFilter{DeviceID: "dev-1"})
	require.NoError(t, err)
	assert.Len(t, all, 20)
}

func TestSQLite_InsertEvents_RedeliveredBatch(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	batch := []Event{journeyEvent("e1", "dev-1", 0), journeyEvent("e2", "dev-1", 5)}
	_, err := st.InsertEvents(ctx, batch)
	require.NoError(t, err)

	// Same batch again, now with the tail amended.
	batch[1].Authenticated = true
	_, err = st.InsertEvents(ctx, batch)
	require.NoError(t, err)

	all, err := st.ListEvents(ctx, EventFilter{DeviceID: "dev-1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.False(t, all[0].Authenticated)
	assert.True(t, all[1].Authenticated)
}
