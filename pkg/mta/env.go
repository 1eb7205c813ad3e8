package mta

import "time"

// Storage is a string key-value store with durable semantics, the moral
// equivalent of web localStorage. Implementations must treat a missing key
// as (value "", ok false) rather than an error.
type Storage interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
}

// SameSiteLax is the SameSite attribute applied to the device cookie.
const SameSiteLax = "Lax"

// Cookie describes a cookie to be written by a Cookies implementation.
type Cookie struct {
	Name     string
	Value    string
	Expires  time.Time
	Domain   string
	Path     string
	SameSite string
	Secure   bool
}

// Cookies stores the long-lived device identifier. Implementations back it
// with whatever the host environment offers: real HTTP cookies, a file, or
// memory.
type Cookies interface {
	Get(name string) (value string, ok bool, err error)
	Set(c Cookie) error
}

// Page reports the navigational context the tracker runs in. URL returns
// ok=false when there is no current page (headless or detached use), which
// turns page-dependent operations into no-ops.
type Page interface {
	URL() (string, bool)
	Referrer() string
	Title() string
}

// Clock abstracts time for attribution expiry and event timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
