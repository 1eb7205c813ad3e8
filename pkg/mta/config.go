package mta

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Defaults applied by New when the corresponding Config field is unset.
const (
	DefaultCookieExpiryDays         = 365
	DefaultMaxEvents                = 100
	DefaultAttributionExpiryMinutes = 43200 // 30 days
)

// Bool returns a pointer to b, for the optional boolean Config fields.
func Bool(b bool) *bool { return &b }

// Config configures a Tracker. The zero value works: absent collaborators
// turn the operations depending on them into no-ops, numeric knobs take the
// documented defaults, boolean knobs default to true, and the policy to
// PolicySticky.
type Config struct {
	// Storage persists the event log, attribution, and identifiers between
	// sessions. Nil disables persistence.
	Storage Storage
	// Cookies stores the device identifier. Nil keeps it in memory only.
	Cookies Cookies
	// Page supplies navigational context. Nil disables auto-tracking,
	// referrer capture, and cookie scoping.
	Page Page
	// Clock defaults to the system clock.
	Clock Clock
	// Deliverer receives envelopes for tracked events. Nil disables
	// delivery.
	Deliverer Deliverer
	// Logger defaults to zap.L().
	Logger *zap.Logger

	// CookieDomain overrides the registrable domain derived from the page.
	CookieDomain string
	// CookieExpiryDays is the device cookie lifetime. Default 365.
	CookieExpiryDays int
	// MaxEvents bounds the journey log. Default 100.
	MaxEvents int
	// AttributionExpiryMinutes bounds how long persisted attribution stays
	// valid under PolicySticky. Default 43200 (30 days).
	AttributionExpiryMinutes int
	// Policy selects the navigation policy. Default PolicySticky.
	Policy Policy

	// ResetOnLogin clears the journey after RecordLogin. Default true.
	ResetOnLogin *bool
	// ResetOnSignup clears the journey after RecordSignup. Default true.
	ResetOnSignup *bool
	// AutoTrack logs the current page during Init. Default true.
	AutoTrack *bool
	// TrackHashChange honors hash signals. Default true.
	TrackHashChange *bool
	// TrackHistoryChange honors history and pop signals. Default true.
	TrackHistoryChange *bool
}

func (c *Config) normalize() {
	if c.Clock == nil {
		c.Clock = systemClock{}
	}
	if c.Logger == nil {
		c.Logger = zap.L()
	}
	if c.CookieExpiryDays == 0 {
		c.CookieExpiryDays = DefaultCookieExpiryDays
	}
	if c.MaxEvents == 0 {
		c.MaxEvents = DefaultMaxEvents
	}
	if c.AttributionExpiryMinutes == 0 {
		c.AttributionExpiryMinutes = DefaultAttributionExpiryMinutes
	}
	if c.Policy == "" {
		c.Policy = PolicySticky
	}
	if c.ResetOnLogin == nil {
		c.ResetOnLogin = Bool(true)
	}
	if c.ResetOnSignup == nil {
		c.ResetOnSignup = Bool(true)
	}
	if c.AutoTrack == nil {
		c.AutoTrack = Bool(true)
	}
	if c.TrackHashChange == nil {
		c.TrackHashChange = Bool(true)
	}
	if c.TrackHistoryChange == nil {
		c.TrackHistoryChange = Bool(true)
	}
}

func (c *Config) validate() error {
	if c.Policy != PolicySticky && c.Policy != PolicyDelta {
		return eris.Errorf("mta: unknown policy %q", c.Policy)
	}
	if c.CookieExpiryDays < 0 {
		return eris.New("mta: cookie expiry days must not be negative")
	}
	if c.MaxEvents < 0 {
		return eris.New("mta: max events must not be negative")
	}
	if c.AttributionExpiryMinutes < 0 {
		return eris.New("mta: attribution expiry minutes must not be negative")
	}
	return nil
}
