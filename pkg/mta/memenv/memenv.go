// Package memenv provides in-memory implementations of the mta capability
// interfaces. They back the simulate command, the replay runner, and any
// test that needs a tracker without a real host environment. All types are
// safe for concurrent use.
package memenv

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/shayan-deriv/multi-touch-attribution/pkg/mta"
)

// Storage is an in-memory mta.Storage. FailNextSets arms simulated write
// failures, which exercises the tracker's truncate-and-retry persistence
// path.
type Storage struct {
	mu       sync.Mutex
	values   map[string]string
	failSets int
}

func NewStorage() *Storage {
	return &Storage{values: make(map[string]string)}
}

func (s *Storage) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *Storage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSets > 0 {
		s.failSets--
		return eris.New("memenv: simulated storage write failure")
	}
	s.values[key] = value
	return nil
}

func (s *Storage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// FailNextSets makes the next n Set calls fail.
func (s *Storage) FailNextSets(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSets = n
}

// Len reports how many keys are present.
func (s *Storage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

// Cookies is an in-memory mta.Cookies that retains the full attributes of
// every cookie written, so tests can assert on domain, expiry, and flags.
type Cookies struct {
	mu      sync.Mutex
	cookies map[string]mta.Cookie
}

func NewCookies() *Cookies {
	return &Cookies{cookies: make(map[string]mta.Cookie)}
}

func (c *Cookies) Get(name string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ck, ok := c.cookies[name]
	if !ok {
		return "", false, nil
	}
	return ck.Value, true, nil
}

func (c *Cookies) Set(ck mta.Cookie) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies[ck.Name] = ck
	return nil
}

// Cookie returns the stored cookie with all its attributes.
func (c *Cookies) Cookie(name string) (mta.Cookie, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ck, ok := c.cookies[name]
	return ck, ok
}

// Page is a scriptable mta.Page. The referrer mimics a real document: it is
// whatever the page was entered with and does not change on in-app
// navigation.
type Page struct {
	mu       sync.Mutex
	url      string
	hasURL   bool
	referrer string
	title    string
}

// NewPage starts at url with the given external referrer.
func NewPage(url, referrer string) *Page {
	return &Page{url: url, hasURL: url != "", referrer: referrer}
}

// Blank returns a page with no navigational context, as in a host that has
// not rendered anything yet.
func Blank() *Page {
	return &Page{}
}

func (p *Page) URL() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, p.hasURL
}

func (p *Page) Referrer() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.referrer
}

func (p *Page) Title() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title
}

// Navigate moves the page to url with the given title.
func (p *Page) Navigate(url, title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	p.hasURL = url != ""
	p.title = title
}

// SetReferrer replaces the document referrer, as a fresh entry from an
// external site would.
func (p *Page) SetReferrer(referrer string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.referrer = referrer
}

// Clock is a manual mta.Clock for deterministic replays.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
