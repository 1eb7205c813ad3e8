package mta

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Storage keys and the device cookie name. Fixed so journeys survive
// releases of the integrating application.
const (
	storageKeyEvents        = "mta_events"
	storageKeyAttribution   = "mta_attribution"
	storageKeyUserID        = "mta_user_id"
	storageKeyPriorDeviceID = "mta_prior_device_id"

	cookieNameDeviceID = "mta_device_id"
)

// Tracker is the attribution state machine. Create one with New, call Init
// once navigational context exists, then feed it navigations through
// Attach, Observe, or TrackPageView. All methods are safe for concurrent
// use; deliveries run asynchronously and carry snapshots only.
type Tracker struct {
	cfg Config
	log *zap.Logger

	mu          sync.Mutex
	initialized bool
	identity    *identity
	events      *eventLog
	current     *currentAttribution
	policy      navPolicy
	// lastTrackedURL is the URL of the most recent logged navigation in
	// this instance's lifetime. Deliberately not restored on Init so a
	// reload of the same page logs a fresh event under the sticky policy.
	lastTrackedURL string
	// currentEventID points at the log tail, the event an identity
	// transition amends. Cleared by resets, restored from the persisted
	// tail on Init.
	currentEventID string
	cancels        []func()

	wg sync.WaitGroup
}

// New builds a Tracker from cfg. It returns an error only for statically
// invalid configuration; absent collaborators are not an error.
func New(cfg Config) (*Tracker, error) {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	t := &Tracker{cfg: cfg, log: cfg.Logger}
	t.identity = &identity{
		storage:          cfg.Storage,
		cookies:          cfg.Cookies,
		page:             cfg.Page,
		clock:            cfg.Clock,
		log:              t.log,
		cookieDomain:     cfg.CookieDomain,
		cookieExpiryDays: cfg.CookieExpiryDays,
	}
	t.events = newEventLog(cfg.Storage, cfg.MaxEvents, t.log)
	t.current = &currentAttribution{
		storage: cfg.Storage,
		clock:   cfg.Clock,
		window:  time.Duration(cfg.AttributionExpiryMinutes) * time.Minute,
		log:     t.log,
	}
	t.policy = policyFor(cfg.Policy, t.current)
	return t, nil
}

// Init loads persisted state, ensures the device identifier, applies the
// host's current login state, and, when AutoTrack is on and a Page is
// present, logs the current page. Calling Init again is a no-op, as is
// calling any other method before it.
func (t *Tracker) Init(isLoggedIn bool, userID string) {
	t.mu.Lock()
	if t.initialized {
		t.mu.Unlock()
		return
	}
	t.initialized = true
	t.identity.load()
	t.identity.ensureDeviceID()
	t.events.load()
	if tail, ok := t.events.tail(); ok {
		t.currentEventID = tail.ID
	}
	t.identity.authenticated = isLoggedIn
	if isLoggedIn {
		t.identity.setUser(userID)
	}
	autoTrack := *t.cfg.AutoTrack && t.cfg.Page != nil
	t.mu.Unlock()

	if autoTrack {
		t.Observe(Signal{Kind: SignalInitial})
	}
}

// TrackPageView logs a navigation explicitly, bypassing any Source.
func (t *Tracker) TrackPageView(url, title string) {
	t.Observe(Signal{Kind: SignalManual, URL: url, Title: title})
}

// Observe feeds one navigation signal through the configured policy. Hash
// and history traversal signals are dropped when the corresponding knobs
// are off. A signal without a URL falls back to the current page; no page,
// no event.
func (t *Tracker) Observe(sig Signal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		return
	}
	switch sig.Kind {
	case SignalHash:
		if !*t.cfg.TrackHashChange {
			return
		}
	case SignalHistory, SignalPop:
		if !*t.cfg.TrackHistoryChange {
			return
		}
	}
	t.handleNavigation(sig)
}

// Attach subscribes the tracker to a navigation source. Close cancels the
// subscription.
func (t *Tracker) Attach(src Source) {
	if src == nil {
		return
	}
	cancel := src.Subscribe(t.Observe)
	t.mu.Lock()
	t.cancels = append(t.cancels, cancel)
	t.mu.Unlock()
}

// RecordLogin marks the visitor authenticated as userID, re-delivers the
// current event with its authenticated flag amended, then clears the
// journey when ResetOnLogin is set.
func (t *Tracker) RecordLogin(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		return
	}
	t.recordAuthentication(userID, *t.cfg.ResetOnLogin)
}

// RecordSignup is RecordLogin for a freshly created account. It first
// captures the pre-signup device identifier so the backend can stitch the
// anonymous journey to the new user; the earliest signup's identifier wins
// and is never overwritten.
func (t *Tracker) RecordSignup(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		return
	}
	t.identity.capturePriorDevice()
	t.recordAuthentication(userID, *t.cfg.ResetOnSignup)
}

// UpdateLoginState reconciles the tracker with the host's session state
// without the login side effects: no amendment, no delivery, no journey
// reset.
func (t *Tracker) UpdateLoginState(isLoggedIn bool, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		return
	}
	t.identity.authenticated = isLoggedIn
	if isLoggedIn {
		t.identity.setUser(userID)
	}
}

// RecordLogout returns the tracker to anonymous: the authenticated flag
// drops and the stored user identifier is cleared. Device and prior device
// identifiers survive, as does the journey.
func (t *Tracker) RecordLogout() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		return
	}
	t.identity.authenticated = false
	t.identity.clearUser()
}

// Events returns a copy of the journey log, oldest first.
func (t *Tracker) Events() []VisitEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		return nil
	}
	return t.events.snapshot()
}

// ClearEvents empties the journey log without touching identity state.
func (t *Tracker) ClearEvents() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		return
	}
	t.events.reset()
	t.currentEventID = ""
}

// ExportJourney snapshots the visitor journey: identity plus events.
func (t *Tracker) ExportJourney() Journey {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		return Journey{}
	}
	return Journey{
		DeviceID:      t.identity.deviceID,
		UserID:        t.identity.userID,
		PriorDeviceID: t.identity.priorDeviceID,
		Events:        t.events.snapshot(),
	}
}

// Close cancels source subscriptions and waits for in-flight deliveries to
// finish. The tracker remains usable afterwards; Close exists so hosts can
// drain cleanly on shutdown.
func (t *Tracker) Close() {
	t.mu.Lock()
	cancels := t.cancels
	t.cancels = nil
	t.mu.Unlock()
	for _, cancel := range cancels {
		if cancel != nil {
			cancel()
		}
	}
	t.wg.Wait()
}

// handleNavigation runs the extract, decide, append, dispatch pipeline for
// one navigation. Callers hold the lock.
func (t *Tracker) handleNavigation(sig Signal) {
	pageURL := sig.URL
	title := sig.Title
	referrer := ""
	if t.cfg.Page != nil {
		if pageURL == "" {
			u, ok := t.cfg.Page.URL()
			if !ok {
				return
			}
			pageURL = u
		}
		referrer = t.cfg.Page.Referrer()
		if title == "" {
			title = t.cfg.Page.Title()
		}
	}
	if pageURL == "" {
		return
	}

	now := t.cfg.Clock.Now()
	nav := navContext{
		url:            pageURL,
		extracted:      extractAttribution(pageURL, referrer, now),
		lastTrackedURL: t.lastTrackedURL,
	}
	if tail, ok := t.events.tail(); ok {
		nav.lastEvent = &tail
	}
	d := t.policy.decide(nav)
	if d.skip {
		return
	}

	ev := VisitEvent{
		ID:            uuid.NewString(),
		URL:           pageURL,
		Timestamp:     now.UnixMilli(),
		Referrer:      referrer,
		Title:         title,
		Attribution:   d.attribution,
		DeviceID:      t.identity.ensureDeviceID(),
		Authenticated: t.identity.authenticated,
	}
	t.events.append(ev)
	t.lastTrackedURL = pageURL
	t.currentEventID = ev.ID
	t.dispatch(ev)
}

// recordAuthentication is the shared login/signup transition. Callers hold
// the lock.
func (t *Tracker) recordAuthentication(userID string, reset bool) {
	t.identity.authenticated = true
	t.identity.setUser(userID)
	if t.currentEventID != "" {
		if ev, ok := t.events.amendAuthFlag(t.currentEventID, true); ok {
			t.dispatch(ev)
		}
	}
	if reset {
		t.events.reset()
		t.currentEventID = ""
	}
}

// dispatch hands ev to the deliverer on a fresh goroutine. The envelope is
// assembled under the lock so nothing shared escapes into the goroutine;
// failures are logged and never retried.
func (t *Tracker) dispatch(ev VisitEvent) {
	if t.cfg.Deliverer == nil {
		return
	}
	env := Envelope{
		DeviceID:      t.identity.deviceID,
		UserID:        t.identity.userID,
		PriorDeviceID: t.identity.priorDeviceID,
		Event:         ev,
		SentAt:        t.cfg.Clock.Now().UnixMilli(),
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.cfg.Deliverer.Deliver(context.Background(), env); err != nil {
			t.log.Warn("mta: delivering event",
				zap.String("event_id", env.Event.ID), zap.Error(err))
		}
	}()
}
