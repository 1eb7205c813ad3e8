package store

import (
	"context"
	"time"

	"github.com/shayan-deriv/multi-touch-attribution/pkg/mta"
)

// Event is one journey event as stored by the collector. It flattens the
// delivery envelope: identity fields ride alongside the event so a row is
// self-contained.
type Event struct {
	ID            string                `json:"id"`
	DeviceID      string                `json:"device_id"`
	UserID        string                `json:"user_id,omitempty"`
	PriorDeviceID string                `json:"prior_device_id,omitempty"`
	URL           string                `json:"url"`
	Title         string                `json:"title,omitempty"`
	Referrer      string                `json:"referrer,omitempty"`
	OccurredAt    int64                 `json:"occurred_at"`
	Authenticated bool                  `json:"authenticated"`
	Attribution   mta.AttributionRecord `json:"attribution"`
	ReceivedAt    time.Time             `json:"received_at"`
}

// EventFromEnvelope flattens a delivery envelope into a storable event.
func EventFromEnvelope(env mta.Envelope, receivedAt time.Time) Event {
	return Event{
		ID:            env.Event.ID,
		DeviceID:      env.DeviceID,
		UserID:        env.UserID,
		PriorDeviceID: env.PriorDeviceID,
		URL:           env.Event.URL,
		Title:         env.Event.Title,
		Referrer:      env.Event.Referrer,
		OccurredAt:    env.Event.Timestamp,
		Authenticated: env.Event.Authenticated,
		Attribution:   env.Event.Attribution,
		ReceivedAt:    receivedAt.UTC(),
	}
}

// Identity is the server-side view of one device. EventCount is filled by
// reads, not stored.
type Identity struct {
	DeviceID      string    `json:"device_id"`
	UserID        string    `json:"user_id,omitempty"`
	PriorDeviceID string    `json:"prior_device_id,omitempty"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
	EventCount    int       `json:"event_count"`
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	DeviceID string    `json:"device_id,omitempty"`
	UserID   string    `json:"user_id,omitempty"`
	Source   string    `json:"source,omitempty"`
	Since    time.Time `json:"since,omitempty"`
	Limit    int       `json:"limit,omitempty"`
	Offset   int       `json:"offset,omitempty"`
}

// IdentityFilter specifies criteria for listing identities.
type IdentityFilter struct {
	UserID string `json:"user_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// SourceCount is one row of the top-sources aggregate. Source and Medium are
// empty for organic traffic.
type SourceCount struct {
	Source string `json:"source"`
	Medium string `json:"medium"`
	Events int    `json:"events"`
}

// EventCounts aggregates event volume over a window. Direct counts events
// whose attribution carries no utm_source.
type EventCounts struct {
	Total         int `json:"total"`
	Authenticated int `json:"authenticated"`
	Direct        int `json:"direct"`
	Devices       int `json:"devices"`
}

// Store defines the persistence interface for the collector.
type Store interface {
	// Events. Inserting an existing event ID updates its authenticated flag,
	// which is how amended re-deliveries land.
	InsertEvent(ctx context.Context, e Event) error
	InsertEvents(ctx context.Context, events []Event) (int, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]Event, error)

	// Identities
	UpsertIdentity(ctx context.Context, id Identity) error
	GetIdentity(ctx context.Context, deviceID string) (*Identity, error)
	ListIdentities(ctx context.Context, filter IdentityFilter) ([]Identity, error)

	// Aggregates
	TopSources(ctx context.Context, since time.Time, limit int) ([]SourceCount, error)
	CountEvents(ctx context.Context, since time.Time) (EventCounts, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
