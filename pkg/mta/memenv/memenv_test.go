package memenv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shayan-deriv/multi-touch-attribution/pkg/mta"
)

func TestStorage_FailNextSets(t *testing.T) {
	s := NewStorage()
	require.NoError(t, s.Set("a", "1"))

	s.FailNextSets(1)
	require.Error(t, s.Set("a", "2"))
	require.NoError(t, s.Set("a", "3")) // failure is consumed

	v, ok, err := s.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "3", v)
	assert.Equal(t, 1, s.Len())
}

func TestCookies_KeepsAttributes(t *testing.T) {
	c := NewCookies()
	require.NoError(t, c.Set(mta.Cookie{Name: "n", Value: "v", Domain: "example.com", Secure: true}))

	ck, ok := c.Cookie("n")
	require.True(t, ok)
	assert.Equal(t, "example.com", ck.Domain)
	assert.True(t, ck.Secure)

	v, ok, err := c.Get("n")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestPage_NavigateKeepsReferrer(t *testing.T) {
	p := NewPage("https://app.example.com/", "https://www.google.com/")

	p.Navigate("https://app.example.com/pricing", "Pricing")

	u, ok := p.URL()
	require.True(t, ok)
	assert.Equal(t, "https://app.example.com/pricing", u)
	assert.Equal(t, "Pricing", p.Title())
	// document.referrer does not change on in-app navigation
	assert.Equal(t, "https://www.google.com/", p.Referrer())
}

func TestClock_AdvanceAndSet(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewClock(start)

	c.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestEmitter_SubscribeEmitCancel(t *testing.T) {
	e := NewEmitter()
	var got []mta.Signal
	cancel := e.Subscribe(func(sig mta.Signal) { got = append(got, sig) })

	e.Emit(mta.Signal{Kind: mta.SignalHistory, URL: "https://x.com/a"})
	require.Len(t, got, 1)

	cancel()
	e.Emit(mta.Signal{Kind: mta.SignalHistory, URL: "https://x.com/b"})
	assert.Len(t, got, 1)
}

// A full tracker run over the in-memory environment.
func TestTracker_OverMemoryEnvironment(t *testing.T) {
	storage := NewStorage()
	cookies := NewCookies()
	page := NewPage("https://shop.example.com/?utm_source=google&utm_medium=cpc", "https://www.google.com/")
	clock := NewClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	tr, err := mta.New(mta.Config{
		Storage: storage,
		Cookies: cookies,
		Page:    page,
		Clock:   clock,
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(tr.Close)

	tr.Init(false, "")
	page.Navigate("https://shop.example.com/checkout", "Checkout")
	clock.Advance(10 * time.Minute)
	tr.Observe(mta.Signal{Kind: mta.SignalHistory})

	events := tr.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "google", events[1].Attribution.Source)
	assert.Equal(t, "/checkout", events[1].Attribution.LandingPage)

	ck, ok := cookies.Cookie("mta_device_id")
	require.True(t, ok)
	assert.Equal(t, "example.com", ck.Domain)
}
