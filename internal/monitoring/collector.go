// Package monitoring summarizes the ingested journey stream and raises
// webhook alerts when it looks unhealthy.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/shayan-deriv/multi-touch-attribution/internal/store"
)

// MetricsSnapshot holds a point-in-time view of the journey stream.
type MetricsSnapshot struct {
	// Event volume (within lookback window).
	EventsTotal         int     `json:"events_total"`
	EventsAuthenticated int     `json:"events_authenticated"`
	EventsDirect        int     `json:"events_direct"`
	AuthenticatedRate   float64 `json:"authenticated_rate"`
	DirectRate          float64 `json:"direct_rate"`
	UniqueDevices       int     `json:"unique_devices"`

	// Attribution breakdown (within lookback window).
	TopSources []store.SourceCount `json:"top_sources"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// StatsQuerier abstracts the store aggregates the collector reads.
type StatsQuerier interface {
	CountEvents(ctx context.Context, since time.Time) (store.EventCounts, error)
	TopSources(ctx context.Context, since time.Time, limit int) ([]store.SourceCount, error)
}

// Collector gathers metrics from the journey store.
type Collector struct {
	store StatsQuerier
}

// NewCollector creates a new metrics collector.
func NewCollector(st StatsQuerier) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of journey metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	counts, err := c.store.CountEvents(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count events")
	}

	snap.EventsTotal = counts.Total
	snap.EventsAuthenticated = counts.Authenticated
	snap.EventsDirect = counts.Direct
	snap.UniqueDevices = counts.Devices
	if counts.Total > 0 {
		snap.AuthenticatedRate = float64(counts.Authenticated) / float64(counts.Total)
		snap.DirectRate = float64(counts.Direct) / float64(counts.Total)
	}

	sources, err := c.store.TopSources(ctx, cutoff, 10)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: top sources")
	}
	snap.TopSources = sources

	return snap, nil
}
