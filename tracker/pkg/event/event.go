// Package event defines the telemetry data model shared by the engine, the
// delivery client and the collection endpoint: events, batches and typed
// property bags.
package event

import "time"

// Type is the closed set of event variants.
type Type string

const (
	TypePageView   Type = "page_view"
	TypeClick      Type = "click"
	TypeCustom     Type = "custom"
	TypeFormSubmit Type = "form_submit"
	TypeScroll     Type = "scroll"
	TypePurchase   Type = "purchase"
)

// Types lists every valid event type.
var Types = []Type{TypePageView, TypeClick, TypeCustom, TypeFormSubmit, TypeScroll, TypePurchase}

// Valid reports whether t is one of the known event types.
func (t Type) Valid() bool {
	switch t {
	case TypePageView, TypeClick, TypeCustom, TypeFormSubmit, TypeScroll, TypePurchase:
		return true
	}
	return false
}

// Event is the unit of telemetry. Identity, device, location, network,
// context and privacy are snapshots taken when the event is created.
// Performance and Engagement are the only fields filled in after enqueue.
type Event struct {
	EventID     string       `json:"eventId"`
	Timestamp   time.Time    `json:"timestamp"`
	Type        Type         `json:"type"`
	Name        string       `json:"name,omitempty"`
	Properties  Props        `json:"properties,omitempty"`
	UserID      string       `json:"userId"`
	SessionID   string       `json:"sessionId"`
	Device      Device       `json:"device"`
	Location    Location     `json:"location"`
	Network     Network      `json:"network"`
	Context     Context      `json:"context"`
	Privacy     Privacy      `json:"privacy"`
	UserJourney []string     `json:"userJourney"`
	Performance *Performance `json:"performance,omitempty"`
	Engagement  *Engagement  `json:"engagement,omitempty"`
}

// Device describes the browser and screen the event was recorded on.
type Device struct {
	UserAgent      string  `json:"userAgent"`
	Browser        string  `json:"browser,omitempty"`
	BrowserVersion string  `json:"browserVersion,omitempty"`
	OS             string  `json:"os,omitempty"`
	Platform       string  `json:"platform,omitempty"`
	Mobile         bool    `json:"mobile"`
	Bot            bool    `json:"bot"`
	ScreenWidth    int     `json:"screenWidth,omitempty"`
	ScreenHeight   int     `json:"screenHeight,omitempty"`
	ViewportWidth  int     `json:"viewportWidth,omitempty"`
	ViewportHeight int     `json:"viewportHeight,omitempty"`
	PixelRatio     float64 `json:"pixelRatio,omitempty"`
	Language       string  `json:"language,omitempty"`
}

// Location is the page the event happened on.
type Location struct {
	Href     string `json:"href"`
	Origin   string `json:"origin"`
	Host     string `json:"host"`
	Path     string `json:"path"`
	Search   string `json:"search,omitempty"`
	Hash     string `json:"hash,omitempty"`
	Title    string `json:"title,omitempty"`
	Referrer string `json:"referrer,omitempty"`
}

// Network is the connection state reported by the host.
type Network struct {
	Online        bool    `json:"online"`
	EffectiveType string  `json:"effectiveType,omitempty"`
	Downlink      float64 `json:"downlink,omitempty"`
	RTT           int     `json:"rtt,omitempty"`
	SaveData      bool    `json:"saveData,omitempty"`
}

// Context carries library and locale information.
type Context struct {
	TrackingID     string `json:"trackingId"`
	Library        string `json:"library"`
	LibraryVersion string `json:"libraryVersion"`
	Locale         string `json:"locale,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
}

// Privacy is the privacy state at event creation.
type Privacy struct {
	DoNotTrack           bool `json:"doNotTrack"`
	GlobalPrivacyControl bool `json:"globalPrivacyControl"`
	OptedOut             bool `json:"optedOut"`
}

// Performance holds navigation timing in milliseconds since navigation start.
type Performance struct {
	TTFBMs     float64 `json:"ttfbMs"`
	DOMReadyMs float64 `json:"domReadyMs"`
	LoadMs     float64 `json:"loadMs"`
}

// Engagement is derived at flush time and attached to every queued event.
type Engagement struct {
	TimeOnPageSeconds float64 `json:"timeOnPageSeconds"`
	ActiveTimeSeconds float64 `json:"activeTimeSeconds"`
	Bounced           bool    `json:"bounced"`
}

// Clone returns a copy of e that shares no mutable state with it.
func (e *Event) Clone() Event {
	c := *e
	c.Properties = e.Properties.Clone()
	if e.UserJourney != nil {
		c.UserJourney = append([]string(nil), e.UserJourney...)
	}
	if e.Performance != nil {
		p := *e.Performance
		c.Performance = &p
	}
	if e.Engagement != nil {
		g := *e.Engagement
		c.Engagement = &g
	}
	return c
}
