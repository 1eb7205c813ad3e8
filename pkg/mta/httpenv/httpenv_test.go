package httpenv

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shayan-deriv/multi-touch-attribution/pkg/mta"
)

func TestCookies_GetMissing(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "https://app.example.com/", nil)
	c := NewCookies(httptest.NewRecorder(), r)

	_, ok, err := c.Get("mta_device_id")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCookies_RoundTrip(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "https://app.example.com/", nil)
	r.AddCookie(&http.Cookie{Name: "mta_device_id", Value: "dev-1"})
	c := NewCookies(httptest.NewRecorder(), r)

	v, ok, err := c.Get("mta_device_id")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "dev-1", v)
}

func TestCookies_SetAttributes(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "https://app.example.com/", nil)
	c := NewCookies(w, r)

	expires := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.Set(mta.Cookie{
		Name:     "mta_device_id",
		Value:    "dev-2",
		Expires:  expires,
		Domain:   "example.com",
		Path:     "/",
		SameSite: mta.SameSiteLax,
		Secure:   true,
	}))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	ck := cookies[0]
	assert.Equal(t, "dev-2", ck.Value)
	assert.Equal(t, "example.com", ck.Domain)
	assert.Equal(t, "/", ck.Path)
	assert.True(t, ck.Secure)
	assert.Equal(t, http.SameSiteLaxMode, ck.SameSite)
	assert.WithinDuration(t, expires, ck.Expires, time.Second)
}

func TestPage_URLAndReferrer(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://app.example.com/pricing?utm_source=google", nil)
	r.Header.Set("Referer", "https://www.google.com/")
	p := NewPage(r)

	u, ok := p.URL()
	require.True(t, ok)
	assert.Equal(t, "http://app.example.com/pricing?utm_source=google", u)
	assert.Equal(t, "https://www.google.com/", p.Referrer())
	assert.Empty(t, p.Title())
}

func TestPage_ForwardedProto(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://app.example.com/", nil)
	r.Header.Set("X-Forwarded-Proto", "https")
	p := NewPage(r)

	u, ok := p.URL()
	require.True(t, ok)
	assert.Equal(t, "https://app.example.com/", u)
}

func TestPage_NoRequest(t *testing.T) {
	p := NewPage(nil)

	_, ok := p.URL()
	assert.False(t, ok)
	assert.Empty(t, p.Referrer())
}

// Tracker over an HTTP exchange: the device cookie lands on the response
// and the request URL is attributed.
func TestTracker_OverHTTPExchange(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "https://shop.example.com/?utm_source=newsletter", nil)
	r.Header.Set("Referer", "https://mail.example.org/inbox")

	tr, err := mta.New(mta.Config{
		Cookies: NewCookies(w, r),
		Page:    NewPage(r),
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(tr.Close)
	tr.Init(false, "")

	events := tr.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "newsletter", events[0].Attribution.Source)
	assert.Equal(t, "https://mail.example.org/inbox", events[0].Attribution.Referrer)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "mta_device_id", cookies[0].Name)
	assert.Equal(t, events[0].DeviceID, cookies[0].Value)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, "example.com", cookies[0].Domain)
}