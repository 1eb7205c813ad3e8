package mta

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// retainOnPersistFailure is how many trailing events survive a failed
// persist: the log is cut down to this many and written once more before
// giving up.
const retainOnPersistFailure = 10

// eventLog is the bounded, storage-backed journey log. Not safe for
// concurrent use; the Tracker serializes access.
type eventLog struct {
	storage Storage
	max     int
	log     *zap.Logger
	events  []VisitEvent
}

func newEventLog(storage Storage, max int, log *zap.Logger) *eventLog {
	return &eventLog{storage: storage, max: max, log: log}
}

// load replaces the in-memory log with the persisted one. Unreadable or
// malformed state is discarded so a corrupt entry cannot wedge tracking.
func (l *eventLog) load() {
	l.events = nil
	if l.storage == nil {
		return
	}
	raw, ok, err := l.storage.Get(storageKeyEvents)
	if err != nil {
		l.log.Warn("mta: reading persisted events", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	var events []VisitEvent
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		l.log.Warn("mta: discarding malformed persisted events", zap.Error(err))
		return
	}
	if len(events) > l.max {
		events = events[len(events)-l.max:]
	}
	l.events = events
}

// append adds ev, evicting the oldest entries beyond the configured
// maximum, and persists the result.
func (l *eventLog) append(ev VisitEvent) {
	l.events = append(l.events, ev)
	if len(l.events) > l.max {
		l.events = l.events[len(l.events)-l.max:]
	}
	l.persist()
}

// amendAuthFlag sets the authenticated flag on the event with the given ID
// and persists the change. It returns the amended event and whether it
// existed.
func (l *eventLog) amendAuthFlag(eventID string, authenticated bool) (VisitEvent, bool) {
	for i := range l.events {
		if l.events[i].ID == eventID {
			l.events[i].Authenticated = authenticated
			l.persist()
			return l.events[i], true
		}
	}
	return VisitEvent{}, false
}

// reset drops all events from memory and storage.
func (l *eventLog) reset() {
	l.events = nil
	if l.storage == nil {
		return
	}
	if err := l.storage.Delete(storageKeyEvents); err != nil {
		l.log.Warn("mta: clearing persisted events", zap.Error(err))
	}
}

// snapshot returns a copy of the log safe to hand out.
func (l *eventLog) snapshot() []VisitEvent {
	out := make([]VisitEvent, len(l.events))
	copy(out, l.events)
	return out
}

func (l *eventLog) tail() (VisitEvent, bool) {
	if len(l.events) == 0 {
		return VisitEvent{}, false
	}
	return l.events[len(l.events)-1], true
}

// persist writes the log to storage. When the write fails (typically a
// quota limit) the log is truncated to its most recent entries and written
// once more; a second failure is logged and the in-memory state kept.
func (l *eventLog) persist() {
	if l.storage == nil {
		return
	}
	err := l.write()
	if err == nil {
		return
	}
	l.log.Warn("mta: persisting events, truncating log",
		zap.Int("events", len(l.events)), zap.Error(err))
	if len(l.events) > retainOnPersistFailure {
		l.events = l.events[len(l.events)-retainOnPersistFailure:]
	}
	if err := l.write(); err != nil {
		l.log.Error("mta: persisting events after truncation", zap.Error(err))
	}
}

func (l *eventLog) write() error {
	raw, err := json.Marshal(l.events)
	if err != nil {
		return eris.Wrap(err, "mta: marshaling events")
	}
	if err := l.storage.Set(storageKeyEvents, string(raw)); err != nil {
		return eris.Wrap(err, "mta: writing events")
	}
	return nil
}
