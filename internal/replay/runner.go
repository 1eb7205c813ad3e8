package replay

import (
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shayan-deriv/multi-touch-attribution/pkg/mta"
	"github.com/shayan-deriv/multi-touch-attribution/pkg/mta/memenv"
)

// Options adjust how a script runs.
type Options struct {
	// Base supplies recorder knobs the script's visitor section can
	// override. Its collaborators are ignored; every run gets a fresh
	// in-memory environment.
	Base mta.Config
	// Policy overrides the script's policy when non-empty.
	Policy string
	// Deliverer receives every tracked envelope; nil runs without delivery.
	Deliverer mta.Deliverer
	// Logger defaults to the global logger.
	Logger *zap.Logger
	// Start anchors the manual clock. Zero uses a fixed date so repeated
	// runs of one script produce identical timestamps.
	Start time.Time
}

var defaultStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// Run executes script against a fresh in-memory visitor and returns the
// exported journey. Each run gets its own device identity; time moves only
// when a wait step advances the manual clock. Run returns after any
// configured deliveries have flushed.
func Run(script *Script, opts Options) (mta.Journey, error) {
	if err := script.Validate(); err != nil {
		return mta.Journey{}, err
	}

	start := opts.Start
	if start.IsZero() {
		start = defaultStart
	}
	policy := script.Visitor.Policy
	if opts.Policy != "" {
		policy = opts.Policy
	}

	page := memenv.Blank()
	if script.Visitor.StartURL != "" {
		page = memenv.NewPage(script.Visitor.StartURL, script.Visitor.Referrer)
	}
	clock := memenv.NewClock(start)

	cfg := opts.Base
	cfg.Storage = memenv.NewStorage()
	cfg.Cookies = memenv.NewCookies()
	cfg.Page = page
	cfg.Clock = clock
	cfg.Deliverer = opts.Deliverer
	cfg.Logger = opts.Logger
	if script.Visitor.MaxEvents > 0 {
		cfg.MaxEvents = script.Visitor.MaxEvents
	}
	if script.Visitor.AttributionExpiryMinutes > 0 {
		cfg.AttributionExpiryMinutes = script.Visitor.AttributionExpiryMinutes
	}
	if policy != "" {
		cfg.Policy = mta.Policy(policy)
	}
	if script.Visitor.ResetOnLogin != nil {
		cfg.ResetOnLogin = script.Visitor.ResetOnLogin
	}

	tracker, err := mta.New(cfg)
	if err != nil {
		return mta.Journey{}, eris.Wrap(err, "replay: build tracker")
	}
	defer tracker.Close()

	tracker.Init(false, "")

	for i, step := range script.Steps {
		if err := runStep(tracker, page, clock, step); err != nil {
			return mta.Journey{}, eris.Wrapf(err, "replay: step %d", i+1)
		}
	}

	return tracker.ExportJourney(), nil
}

func runStep(tracker *mta.Tracker, page *memenv.Page, clock *memenv.Clock, step Step) error {
	switch step.Type {
	case StepPageview:
		// A referrer on the step mimics re-entry from an external site.
		if step.Referrer != "" {
			page.SetReferrer(step.Referrer)
		}
		page.Navigate(step.URL, step.Title)
		tracker.TrackPageView(step.URL, step.Title)
	case StepWait:
		d, err := time.ParseDuration(step.Duration)
		if err != nil {
			return eris.Wrapf(err, "bad duration %q", step.Duration)
		}
		clock.Advance(d)
	case StepLogin:
		tracker.RecordLogin(step.UserID)
	case StepSignup:
		tracker.RecordSignup(step.UserID)
	case StepLogout:
		tracker.RecordLogout()
	case StepClear:
		tracker.ClearEvents()
	default:
		return eris.Errorf("unknown step type %q", step.Type)
	}
	return nil
}
