package mta

// Policy selects how consecutive navigations are deduplicated and whether
// attribution persists across organic navigations.
type Policy string

const (
	// PolicySticky persists the latest marketing touch and stamps it on
	// every later event until it expires or a new touch replaces it.
	// Navigations are deduplicated by full URL alone.
	PolicySticky Policy = "sticky"
	// PolicyDelta stamps each event with exactly what its own URL carried
	// and skips a navigation only when both the URL and the marketing
	// fields match the previous event.
	PolicyDelta Policy = "delta"
)

// navContext is the tracker state a policy may consult for one navigation.
type navContext struct {
	url            string
	extracted      AttributionRecord
	lastTrackedURL string
	lastEvent      *VisitEvent
}

// decision is a policy's verdict: drop the navigation, or log it with the
// given attribution.
type decision struct {
	skip        bool
	attribution AttributionRecord
}

type navPolicy interface {
	decide(nav navContext) decision
}

func policyFor(p Policy, current *currentAttribution) navPolicy {
	if p == PolicyDelta {
		return deltaPolicy{}
	}
	return &stickyPolicy{current: current}
}

// stickyPolicy keeps the most recent marketing touch alive: a navigation
// carrying marketing data overwrites the persisted attribution, and every
// organic navigation afterward inherits it with only the landing page
// rewritten on the event's copy. The persisted record itself keeps the
// landing page of the touch that created it.
type stickyPolicy struct {
	current *currentAttribution
}

func (p *stickyPolicy) decide(nav navContext) decision {
	if nav.lastTrackedURL != "" && nav.url == nav.lastTrackedURL {
		return decision{skip: true}
	}
	if nav.extracted.HasMarketingData() {
		p.current.save(nav.extracted)
		return decision{attribution: nav.extracted}
	}
	if rec, ok := p.current.load(); ok {
		rec.LandingPage = nav.extracted.LandingPage
		return decision{attribution: rec}
	}
	return decision{attribution: nav.extracted}
}

// deltaPolicy persists nothing: each event carries what its own URL had.
// Reloading the same URL with the same marketing fields is noise and gets
// dropped; anything else, including the same URL with different fields, is
// a new touch.
type deltaPolicy struct{}

func (deltaPolicy) decide(nav navContext) decision {
	if nav.lastEvent != nil && nav.url == nav.lastEvent.URL &&
		nav.extracted.SameMarketingFields(nav.lastEvent.Attribution) {
		return decision{skip: true}
	}
	return decision{attribution: nav.extracted}
}
