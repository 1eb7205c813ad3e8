package replay

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shayan-deriv/multi-touch-attribution/pkg/mta"
)

// paidEntryScript lands the visitor on a paid-search URL, then browses
// organically.
func paidEntryScript() *Script {
	return &Script{
		Name: "paid-entry",
		Visitor: VisitorConfig{
			StartURL: "https://example.com/?utm_source=google&utm_medium=cpc",
			Referrer: "https://www.google.com/",
		},
		Steps: []Step{
			{Type: StepPageview, URL: "https://example.com/pricing", Title: "Pricing"},
			{Type: StepPageview, URL: "https://example.com/docs", Title: "Docs"},
		},
	}
}

// captureDeliverer collects envelopes across delivery goroutines.
type captureDeliverer struct {
	mu        sync.Mutex
	envelopes []mta.Envelope
}

func (c *captureDeliverer) Deliver(_ context.Context, env mta.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envelopes = append(c.envelopes, env)
	return nil
}

func (c *captureDeliverer) all() []mta.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]mta.Envelope(nil), c.envelopes...)
}

func TestRun_StickyJourney(t *testing.T) {
	journey, err := Run(paidEntryScript(), Options{})
	require.NoError(t, err)

	assert.NotEmpty(t, journey.DeviceID)
	require.Len(t, journey.Events, 3)

	// The landing itself is logged, then the paid touch sticks to the
	// organic navigations with only the landing page rewritten.
	assert.Equal(t, "https://example.com/?utm_source=google&utm_medium=cpc", journey.Events[0].URL)
	assert.Equal(t, "google", journey.Events[0].Attribution.Source)
	assert.Equal(t, "/", journey.Events[0].Attribution.LandingPage)

	assert.Equal(t, "google", journey.Events[1].Attribution.Source)
	assert.Equal(t, "cpc", journey.Events[1].Attribution.Medium)
	assert.Equal(t, "/pricing", journey.Events[1].Attribution.LandingPage)

	assert.Equal(t, "google", journey.Events[2].Attribution.Source)
	assert.Equal(t, "/docs", journey.Events[2].Attribution.LandingPage)
}

func TestRun_DeltaJourney(t *testing.T) {
	journey, err := Run(paidEntryScript(), Options{Policy: "delta"})
	require.NoError(t, err)

	require.Len(t, journey.Events, 3)
	assert.Equal(t, "google", journey.Events[0].Attribution.Source)

	// Delta stamps only what each URL carried; the organic pages are direct.
	assert.Empty(t, journey.Events[1].Attribution.Source)
	assert.Equal(t, "/pricing", journey.Events[1].Attribution.LandingPage)
	assert.Empty(t, journey.Events[2].Attribution.Source)
}

func TestRun_WaitExpiresStickyAttribution(t *testing.T) {
	script := &Script{
		Visitor: VisitorConfig{
			AttributionExpiryMinutes: 30,
			StartURL:                 "https://example.com/?utm_source=google&utm_medium=cpc",
			Referrer:                 "https://www.google.com/",
		},
		Steps: []Step{
			{Type: StepWait, Duration: "31m"},
			{Type: StepPageview, URL: "https://example.com/docs"},
		},
	}

	journey, err := Run(script, Options{})
	require.NoError(t, err)

	require.Len(t, journey.Events, 2)
	assert.Equal(t, "google", journey.Events[0].Attribution.Source)
	assert.Empty(t, journey.Events[1].Attribution.Source)
}

func TestRun_LoginResetsJourney(t *testing.T) {
	script := &Script{
		Visitor: VisitorConfig{
			StartURL: "https://example.com/?utm_source=google",
		},
		Steps: []Step{
			{Type: StepPageview, URL: "https://example.com/account"},
			{Type: StepLogin, UserID: "user-7"},
		},
	}

	journey, err := Run(script, Options{})
	require.NoError(t, err)
	assert.Equal(t, "user-7", journey.UserID)
	assert.Empty(t, journey.Events)
}

func TestRun_LoginWithoutReset(t *testing.T) {
	keep := false
	script := &Script{
		Visitor: VisitorConfig{
			StartURL:     "https://example.com/?utm_source=google",
			ResetOnLogin: &keep,
		},
		Steps: []Step{
			{Type: StepPageview, URL: "https://example.com/account"},
			{Type: StepLogin, UserID: "user-7"},
		},
	}

	journey, err := Run(script, Options{})
	require.NoError(t, err)
	assert.Equal(t, "user-7", journey.UserID)
	require.Len(t, journey.Events, 2)
	assert.False(t, journey.Events[0].Authenticated)
	assert.True(t, journey.Events[1].Authenticated)
}

func TestRun_LoginRedelivers(t *testing.T) {
	deliverer := &captureDeliverer{}
	script := &Script{
		Visitor: VisitorConfig{
			StartURL: "https://example.com/?utm_source=google",
		},
		Steps: []Step{
			{Type: StepLogin, UserID: "user-7"},
		},
	}

	_, err := Run(script, Options{Deliverer: deliverer})
	require.NoError(t, err)

	// The landing delivery plus the amended re-delivery, in whatever order
	// the goroutines finished.
	envs := deliverer.all()
	require.Len(t, envs, 2)
	assert.Equal(t, envs[0].Event.ID, envs[1].Event.ID)

	amended := 0
	for _, env := range envs {
		if env.Event.Authenticated {
			amended++
			assert.Equal(t, "user-7", env.UserID)
		}
	}
	assert.Equal(t, 1, amended)
}

func TestRun_ClearStep(t *testing.T) {
	script := paidEntryScript()
	script.Steps = append(script.Steps, Step{Type: StepClear})

	journey, err := Run(script, Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, journey.DeviceID)
	assert.Empty(t, journey.Events)
}

func TestRun_ExternalReentry(t *testing.T) {
	script := &Script{
		Visitor: VisitorConfig{
			StartURL: "https://example.com/",
		},
		Steps: []Step{
			{
				Type:     StepPageview,
				URL:      "https://example.com/sale?utm_source=newsletter&utm_medium=email",
				Referrer: "https://mail.example.org/",
			},
		},
	}

	journey, err := Run(script, Options{})
	require.NoError(t, err)
	require.Len(t, journey.Events, 2)
	assert.Equal(t, "newsletter", journey.Events[1].Attribution.Source)
	assert.Equal(t, "https://mail.example.org/", journey.Events[1].Attribution.Referrer)
}

func TestRun_NoStartURL(t *testing.T) {
	script := &Script{
		Steps: []Step{
			{Type: StepPageview, URL: "https://example.com/landing"},
		},
	}

	journey, err := Run(script, Options{})
	require.NoError(t, err)
	require.Len(t, journey.Events, 1)
	assert.Equal(t, "https://example.com/landing", journey.Events[0].URL)
}

func TestRun_BaseConfig(t *testing.T) {
	// Base knobs apply when the script leaves them unset.
	journey, err := Run(paidEntryScript(), Options{
		Base: mta.Config{MaxEvents: 2, Policy: mta.PolicyDelta},
	})
	require.NoError(t, err)
	require.Len(t, journey.Events, 2)
	assert.Empty(t, journey.Events[1].Attribution.Source)

	// The script's visitor section wins over the base.
	script := paidEntryScript()
	script.Visitor.MaxEvents = 10
	script.Visitor.Policy = "sticky"
	journey, err = Run(script, Options{
		Base: mta.Config{MaxEvents: 2, Policy: mta.PolicyDelta},
	})
	require.NoError(t, err)
	require.Len(t, journey.Events, 3)
	assert.Equal(t, "google", journey.Events[2].Attribution.Source)
}

func TestRun_InvalidPolicy(t *testing.T) {
	_, err := Run(paidEntryScript(), Options{Policy: "weird"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown policy")
}

func TestRun_InvalidScript(t *testing.T) {
	_, err := Run(&Script{}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no steps")
}
