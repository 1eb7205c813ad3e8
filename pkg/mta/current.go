package mta

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// currentAttribution persists the most recent marketing touch so later
// organic navigations inherit it. Only the sticky policy uses it. Not safe
// for concurrent use; the Tracker serializes access.
type currentAttribution struct {
	storage Storage
	clock   Clock
	window  time.Duration
	log     *zap.Logger
}

// save overwrites the persisted attribution. Failures are logged and
// swallowed; the navigation that produced rec proceeds regardless.
func (c *currentAttribution) save(rec AttributionRecord) {
	if c.storage == nil {
		return
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		c.log.Warn("mta: marshaling attribution", zap.Error(err))
		return
	}
	if err := c.storage.Set(storageKeyAttribution, string(raw)); err != nil {
		c.log.Warn("mta: persisting attribution", zap.Error(err))
	}
}

// load returns the persisted attribution when present and still inside the
// validity window, deleting it when expired. Records without a capture time
// were written before stamping existed and never expire.
func (c *currentAttribution) load() (AttributionRecord, bool) {
	if c.storage == nil {
		return AttributionRecord{}, false
	}
	raw, ok, err := c.storage.Get(storageKeyAttribution)
	if err != nil {
		c.log.Warn("mta: reading persisted attribution", zap.Error(err))
		return AttributionRecord{}, false
	}
	if !ok {
		return AttributionRecord{}, false
	}
	var rec AttributionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		c.log.Warn("mta: discarding malformed persisted attribution", zap.Error(err))
		return AttributionRecord{}, false
	}
	if rec.CapturedAt > 0 && c.clock.Now().Sub(time.UnixMilli(rec.CapturedAt)) > c.window {
		c.clear()
		return AttributionRecord{}, false
	}
	return rec, true
}

func (c *currentAttribution) clear() {
	if c.storage == nil {
		return
	}
	if err := c.storage.Delete(storageKeyAttribution); err != nil {
		c.log.Warn("mta: deleting expired attribution", zap.Error(err))
	}
}
