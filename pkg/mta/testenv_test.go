package mta

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeStorage is an in-memory Storage with armable write failures.
type fakeStorage struct {
	mu       sync.Mutex
	values   map[string]string
	failSets int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{values: make(map[string]string)}
}

func (s *fakeStorage) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *fakeStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSets > 0 {
		s.failSets--
		return eris.New("quota exceeded")
	}
	s.values[key] = value
	return nil
}

func (s *fakeStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *fakeStorage) failNextSets(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSets = n
}

// seed writes directly to the backing map, bypassing armed failures.
func (s *fakeStorage) seed(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *fakeStorage) raw(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// fakeCookies retains full cookie attributes for assertions.
type fakeCookies struct {
	mu      sync.Mutex
	cookies map[string]Cookie
}

func newFakeCookies() *fakeCookies {
	return &fakeCookies{cookies: make(map[string]Cookie)}
}

func (c *fakeCookies) Get(name string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ck, ok := c.cookies[name]
	if !ok {
		return "", false, nil
	}
	return ck.Value, true, nil
}

func (c *fakeCookies) Set(ck Cookie) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies[ck.Name] = ck
	return nil
}

func (c *fakeCookies) cookie(name string) (Cookie, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ck, ok := c.cookies[name]
	return ck, ok
}

// fakePage is a scriptable Page.
type fakePage struct {
	mu       sync.Mutex
	url      string
	hasURL   bool
	referrer string
	title    string
}

func newFakePage(url, referrer string) *fakePage {
	return &fakePage{url: url, hasURL: url != "", referrer: referrer}
}

func (p *fakePage) URL() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, p.hasURL
}

func (p *fakePage) Referrer() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.referrer
}

func (p *fakePage) Title() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title
}

func (p *fakePage) navigate(url, title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	p.hasURL = url != ""
	p.title = title
}

// fakeClock is a manual clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// captureDeliverer records every envelope it receives. Dispatch runs on
// goroutines, so tests call Tracker.Close before reading and never assume
// arrival order.
type captureDeliverer struct {
	mu   sync.Mutex
	envs []Envelope
	err  error
}

func (d *captureDeliverer) Deliver(_ context.Context, env Envelope) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.envs = append(d.envs, env)
	return d.err
}

func (d *captureDeliverer) all() []Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Envelope, len(d.envs))
	copy(out, d.envs)
	return out
}

func (d *captureDeliverer) byEventID(id string) (Envelope, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, env := range d.envs {
		if env.Event.ID == id {
			return env, true
		}
	}
	return Envelope{}, false
}

// fakeSource is a hand-cranked Source.
type fakeSource struct {
	mu   sync.Mutex
	subs map[int]func(Signal)
	next int
}

func newFakeSource() *fakeSource {
	return &fakeSource{subs: make(map[int]func(Signal))}
}

func (s *fakeSource) Subscribe(fn func(Signal)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *fakeSource) emit(sig Signal) {
	s.mu.Lock()
	fns := make([]func(Signal), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(sig)
	}
}

// testEnv bundles one visitor's fake environment.
type testEnv struct {
	storage *fakeStorage
	cookies *fakeCookies
	page    *fakePage
	clock   *fakeClock
	sink    *captureDeliverer
}

func newTestEnv(startURL, referrer string) *testEnv {
	return &testEnv{
		storage: newFakeStorage(),
		cookies: newFakeCookies(),
		page:    newFakePage(startURL, referrer),
		clock:   &fakeClock{now: testStart},
		sink:    &captureDeliverer{},
	}
}

func (e *testEnv) config() Config {
	return Config{
		Storage:   e.storage,
		Cookies:   e.cookies,
		Page:      e.page,
		Clock:     e.clock,
		Deliverer: e.sink,
		Logger:    zap.NewNop(),
	}
}

// newTestTracker builds a tracker on a fresh environment starting at
// https://app.example.com/. mutate may adjust the config before New.
func newTestTracker(t *testing.T, mutate func(*Config)) (*Tracker, *testEnv) {
	t.Helper()
	env := newTestEnv("https://app.example.com/", "")
	cfg := env.config()
	if mutate != nil {
		mutate(&cfg)
	}
	tr, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(tr.Close)
	return tr, env
}

// newQuietTracker is newTestTracker with auto-tracking off, for tests that
// drive every navigation explicitly.
func newQuietTracker(t *testing.T, mutate func(*Config)) (*Tracker, *testEnv) {
	t.Helper()
	return newTestTracker(t, func(cfg *Config) {
		cfg.AutoTrack = Bool(false)
		if mutate != nil {
			mutate(cfg)
		}
	})
}
