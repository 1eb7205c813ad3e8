package mta

// VisitEvent is one logged navigation. An event is immutable once appended,
// with a single exception: an identity transition may flip Authenticated on
// the most recent event.
type VisitEvent struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Timestamp int64  `json:"timestamp"`
	// Referrer is the raw document referrer at the time of the navigation,
	// internal or external. The attribution record keeps only external ones.
	Referrer      string            `json:"referrer,omitempty"`
	Title         string            `json:"title,omitempty"`
	Attribution   AttributionRecord `json:"attribution"`
	DeviceID      string            `json:"device_id"`
	Authenticated bool              `json:"authenticated"`
}

// Journey is an exported snapshot of a visitor: who they are and the
// bounded log of navigations that led here. Events are copies, oldest first.
type Journey struct {
	DeviceID      string       `json:"device_id"`
	UserID        string       `json:"user_id,omitempty"`
	PriorDeviceID string       `json:"prior_device_id,omitempty"`
	Events        []VisitEvent `json:"events"`
}

// Envelope is the payload handed to the Deliverer for every tracked or
// amended event.
type Envelope struct {
	DeviceID      string     `json:"device_id"`
	UserID        string     `json:"user_id,omitempty"`
	PriorDeviceID string     `json:"prior_device_id,omitempty"`
	Event         VisitEvent `json:"event"`
	SentAt        int64      `json:"sent_at"`
}
