// Package envinfo builds the device, location, network and context
// snapshots attached to every event.
package envinfo

import (
	"sync"

	"github.com/mssola/useragent"

	"github.com/telhawk-systems/pulse/tracker/pkg/event"
	"github.com/telhawk-systems/pulse/tracker/pkg/host"
)

// LibraryName is reported in every event context.
const LibraryName = "pulse"

// LibraryVersion is overridden at build time with -ldflags.
var LibraryVersion = "dev"

type parsedUA struct {
	browser        string
	browserVersion string
	os             string
	platform       string
	mobile         bool
	bot            bool
}

// Collector snapshots the host environment. The parsed user agent is
// cached because it rarely changes within a page.
type Collector struct {
	trackingID string

	mu     sync.Mutex
	lastUA string
	parsed parsedUA
}

// NewCollector creates a collector for trackingID.
func NewCollector(trackingID string) *Collector {
	return &Collector{trackingID: trackingID}
}

func (c *Collector) parse(ua string) parsedUA {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ua == c.lastUA && ua != "" {
		return c.parsed
	}
	p := parsedUA{}
	if ua != "" {
		agent := useragent.New(ua)
		p.browser, p.browserVersion = agent.Browser()
		p.os = agent.OS()
		p.platform = agent.Platform()
		p.mobile = agent.Mobile()
		p.bot = agent.Bot()
	}
	c.lastUA = ua
	c.parsed = p
	return p
}

// Device returns the device snapshot.
func (c *Collector) Device(w host.Window) event.Device {
	nav := w.Navigator()
	vp := w.Viewport()
	p := c.parse(nav.UserAgent)
	return event.Device{
		UserAgent:      nav.UserAgent,
		Browser:        p.browser,
		BrowserVersion: p.browserVersion,
		OS:             p.os,
		Platform:       p.platform,
		Mobile:         p.mobile,
		Bot:            p.bot,
		ScreenWidth:    vp.ScreenWidth,
		ScreenHeight:   vp.ScreenHeight,
		ViewportWidth:  vp.InnerWidth,
		ViewportHeight: vp.InnerHeight,
		PixelRatio:     vp.PixelRatio,
		Language:       nav.Language,
	}
}

// Location returns the location snapshot.
func Location(w host.Window) event.Location {
	loc := w.Location()
	doc := w.Document()
	return event.Location{
		Href:     loc.Href,
		Origin:   loc.Origin(),
		Host:     loc.Host,
		Path:     loc.Pathname,
		Search:   loc.Search,
		Hash:     loc.Hash,
		Title:    doc.Title,
		Referrer: doc.Referrer,
	}
}

// Network returns the connection snapshot.
func Network(nav host.Navigator) event.Network {
	n := event.Network{Online: nav.Online}
	if conn := nav.Connection; conn != nil {
		n.EffectiveType = conn.EffectiveType
		n.Downlink = conn.Downlink
		n.RTT = conn.RTT
		n.SaveData = conn.SaveData
	}
	return n
}

// Context returns the library and locale context.
func (c *Collector) Context(nav host.Navigator) event.Context {
	return event.Context{
		TrackingID:     c.trackingID,
		Library:        LibraryName,
		LibraryVersion: LibraryVersion,
		Locale:         nav.Language,
		Timezone:       nav.Timezone,
	}
}
