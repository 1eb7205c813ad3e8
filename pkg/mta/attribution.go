package mta

// AttributionRecord carries the marketing metadata captured for one
// navigation: seven UTM-style campaign fields, three platform click
// identifiers, the external referrer, and the landing page path. Every field
// is either absent ("") or non-empty; absence means the value was not
// observed on the URL.
type AttributionRecord struct {
	Source     string `json:"utm_source,omitempty"`
	Medium     string `json:"utm_medium,omitempty"`
	Campaign   string `json:"utm_campaign,omitempty"`
	Term       string `json:"utm_term,omitempty"`
	AdGroupID  string `json:"utm_adgroup_id,omitempty"`
	AdID       string `json:"utm_ad_id,omitempty"`
	CampaignID string `json:"utm_campaign_id,omitempty"`
	GCLID      string `json:"gclid,omitempty"`
	FBCLID     string `json:"fbclid,omitempty"`
	MSCLKID    string `json:"msclkid,omitempty"`

	// Referrer is the external document referrer, set only when its origin
	// differs from the page origin.
	Referrer string `json:"referrer,omitempty"`
	// LandingPage is the path of the navigation that produced this record.
	LandingPage string `json:"landing_page,omitempty"`
	// CapturedAt is the capture time in epoch milliseconds. Zero means the
	// record predates capture stamping and is never expired.
	CapturedAt int64 `json:"captured_at,omitempty"`
}

// marketingFields returns the ten recognized marketing values in a fixed
// order. Referrer, landing page and capture time are not marketing fields.
func (r AttributionRecord) marketingFields() [10]string {
	return [10]string{
		r.Source, r.Medium, r.Campaign, r.Term,
		r.AdGroupID, r.AdID, r.CampaignID,
		r.GCLID, r.FBCLID, r.MSCLKID,
	}
}

// HasMarketingData reports whether at least one of the ten marketing fields
// is present.
func (r AttributionRecord) HasMarketingData() bool {
	for _, v := range r.marketingFields() {
		if v != "" {
			return true
		}
	}
	return false
}

// SameMarketingFields reports whether the ten marketing fields match o's.
// Referrer and landing page are deliberately excluded: they change on every
// navigation without representing a new marketing touch.
func (r AttributionRecord) SameMarketingFields(o AttributionRecord) bool {
	return r.marketingFields() == o.marketingFields()
}
