package mta

import (
	"net"
	"net/url"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

// identity tracks who the visitor is: the durable device identifier held in
// a cookie, the user identifier once authenticated, and the device
// identifier that preceded a signup. Not safe for concurrent use; the
// Tracker serializes access.
type identity struct {
	storage Storage
	cookies Cookies
	page    Page
	clock   Clock
	log     *zap.Logger

	cookieDomain     string
	cookieExpiryDays int

	deviceID      string
	userID        string
	priorDeviceID string
	authenticated bool
}

// load restores identifiers persisted by earlier sessions.
func (id *identity) load() {
	if id.storage == nil {
		return
	}
	if v, ok, err := id.storage.Get(storageKeyUserID); err != nil {
		id.log.Warn("mta: reading persisted user id", zap.Error(err))
	} else if ok {
		id.userID = v
	}
	if v, ok, err := id.storage.Get(storageKeyPriorDeviceID); err != nil {
		id.log.Warn("mta: reading persisted prior device id", zap.Error(err))
	} else if ok {
		id.priorDeviceID = v
	}
}

// ensureDeviceID returns the durable device identifier, minting and
// persisting one on first use. Without a cookie capability the identifier
// lives only as long as this instance.
func (id *identity) ensureDeviceID() string {
	if id.deviceID != "" {
		return id.deviceID
	}
	if id.cookies == nil {
		id.deviceID = uuid.NewString()
		return id.deviceID
	}
	if v, ok, err := id.cookies.Get(cookieNameDeviceID); err != nil {
		id.log.Warn("mta: reading device cookie", zap.Error(err))
	} else if ok && v != "" {
		id.deviceID = v
		return id.deviceID
	}
	id.deviceID = uuid.NewString()
	c := Cookie{
		Name:     cookieNameDeviceID,
		Value:    id.deviceID,
		Expires:  id.clock.Now().AddDate(0, 0, id.cookieExpiryDays),
		Path:     "/",
		SameSite: SameSiteLax,
	}
	c.Domain, c.Secure = id.cookieScope()
	if err := id.cookies.Set(c); err != nil {
		id.log.Warn("mta: writing device cookie", zap.Error(err))
	}
	return id.deviceID
}

// cookieScope derives the cookie Domain and Secure attributes from the
// current page. The domain is the configured one when set, otherwise the
// registrable domain of the page host so the identifier spans subdomains;
// hosts without a registrable domain (localhost, IP literals) fall back to
// the bare host.
func (id *identity) cookieScope() (domain string, secure bool) {
	domain = id.cookieDomain
	if id.page == nil {
		return domain, false
	}
	raw, ok := id.page.URL()
	if !ok {
		return domain, false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return domain, false
	}
	secure = u.Scheme == "https"
	if domain == "" {
		if host := u.Hostname(); host != "" {
			if net.ParseIP(host) != nil {
				domain = host
			} else if etld, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
				domain = etld
			} else {
				domain = host
			}
		}
	}
	return domain, secure
}

// setUser stores the user identifier. Empty identifiers are ignored so a
// login without one cannot erase a known identity.
func (id *identity) setUser(userID string) {
	if userID == "" {
		return
	}
	id.userID = userID
	if id.storage == nil {
		return
	}
	if err := id.storage.Set(storageKeyUserID, userID); err != nil {
		id.log.Warn("mta: persisting user id", zap.Error(err))
	}
}

// clearUser removes the user identifier from memory and storage.
func (id *identity) clearUser() {
	id.userID = ""
	if id.storage == nil {
		return
	}
	if err := id.storage.Delete(storageKeyUserID); err != nil {
		id.log.Warn("mta: clearing user id", zap.Error(err))
	}
}

// capturePriorDevice records the device identifier active at signup. The
// first recorded value wins: once a prior identifier exists, later signups
// on the same device leave it untouched.
func (id *identity) capturePriorDevice() {
	if id.priorDeviceID != "" {
		return
	}
	if id.storage != nil {
		if v, ok, err := id.storage.Get(storageKeyPriorDeviceID); err != nil {
			id.log.Warn("mta: reading prior device id", zap.Error(err))
		} else if ok && v != "" {
			id.priorDeviceID = v
			return
		}
	}
	id.priorDeviceID = id.ensureDeviceID()
	if id.storage == nil {
		return
	}
	if err := id.storage.Set(storageKeyPriorDeviceID, id.priorDeviceID); err != nil {
		id.log.Warn("mta: persisting prior device id", zap.Error(err))
	}
}
