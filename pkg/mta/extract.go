package mta

import (
	"net/url"
	"time"

	"golang.org/x/text/unicode/norm"
)

// utmParams maps query parameter names to setters on an AttributionRecord.
// The set mirrors what ad platforms append to destination URLs.
var utmParams = map[string]func(*AttributionRecord, string){
	"utm_source":      func(r *AttributionRecord, v string) { r.Source = v },
	"utm_medium":      func(r *AttributionRecord, v string) { r.Medium = v },
	"utm_campaign":    func(r *AttributionRecord, v string) { r.Campaign = v },
	"utm_term":        func(r *AttributionRecord, v string) { r.Term = v },
	"utm_adgroup_id":  func(r *AttributionRecord, v string) { r.AdGroupID = v },
	"utm_ad_id":       func(r *AttributionRecord, v string) { r.AdID = v },
	"utm_campaign_id": func(r *AttributionRecord, v string) { r.CampaignID = v },
	"gclid":           func(r *AttributionRecord, v string) { r.GCLID = v },
	"fbclid":          func(r *AttributionRecord, v string) { r.FBCLID = v },
	"msclkid":         func(r *AttributionRecord, v string) { r.MSCLKID = v },
}

// extractAttribution derives an AttributionRecord from the page URL and the
// document referrer. It is pure: no storage, no clock beyond the supplied
// instant.
//
// Marketing values are NFC-normalized so that visually identical campaign
// names compare equal regardless of how the platform encoded them. The
// referrer survives only when it points at a different origin than the page;
// same-origin referrers are internal navigation, not acquisition. A page URL
// that does not parse yields a record carrying only the capture time.
func extractAttribution(pageURL, referrer string, now time.Time) AttributionRecord {
	rec := AttributionRecord{CapturedAt: now.UnixMilli()}

	u, err := url.Parse(pageURL)
	if err != nil {
		return rec
	}

	q := u.Query()
	for name, set := range utmParams {
		if v := q.Get(name); v != "" {
			set(&rec, norm.NFC.String(v))
		}
	}

	rec.LandingPage = u.EscapedPath()
	if rec.LandingPage == "" {
		rec.LandingPage = "/"
	}

	if referrer != "" {
		if ref, err := url.Parse(referrer); err == nil && !sameOrigin(u, ref) {
			rec.Referrer = referrer
		}
	}

	return rec
}

// sameOrigin reports whether two URLs share a scheme and host. Ports count:
// https://example.com:8443 and https://example.com are distinct origins.
func sameOrigin(a, b *url.URL) bool {
	return a.Scheme == b.Scheme && a.Host == b.Host
}
