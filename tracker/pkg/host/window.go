// Package host abstracts the page environment the tracker runs in: the
// signals it listens to, the document and navigator state it snapshots and
// the storage slots it persists identity in.
package host

import "github.com/telhawk-systems/pulse/tracker/pkg/storage"

// SignalKind names a host signal.
type SignalKind string

const (
	SignalClick            SignalKind = "click"
	SignalScroll           SignalKind = "scroll"
	SignalPointerDown      SignalKind = "pointerdown"
	SignalKeyDown          SignalKind = "keydown"
	SignalTouchStart       SignalKind = "touchstart"
	SignalVisibilityChange SignalKind = "visibilitychange"
	SignalPageHide         SignalKind = "pagehide"
	SignalLoad             SignalKind = "load"
	SignalPopState         SignalKind = "popstate"
	SignalHashChange       SignalKind = "hashchange"
)

// Signal is delivered to listeners. Target is set for click signals.
type Signal struct {
	Kind   SignalKind
	Target *Element
}

// Listener handles a signal. Listeners are passive: they must return
// quickly and never block the host.
type Listener func(Signal)

// Window is the page environment.
type Window interface {
	// AddListener registers fn for kind and returns a func that removes it.
	AddListener(kind SignalKind, fn Listener) func()
	// OnNavigate registers fn to run after every programmatic navigation
	// (history push or replace). It returns a func that removes it.
	OnNavigate(fn func(Location)) func()

	Location() Location
	Document() Document
	Viewport() Viewport
	Navigator() Navigator
	// NavigationTiming returns the navigation timing entry and whether one
	// is available.
	NavigationTiming() (NavigationTiming, bool)

	LocalStorage() storage.Store
	SessionStorage() storage.Store
}

// Ready states reported by Document.
const (
	ReadyLoading     = "loading"
	ReadyInteractive = "interactive"
	ReadyComplete    = "complete"
)

// Document is the document state.
type Document struct {
	Title      string
	Referrer   string
	Hidden     bool
	ReadyState string
}

// Viewport holds window and scroll geometry in CSS pixels.
type Viewport struct {
	InnerWidth   int
	InnerHeight  int
	ScreenWidth  int
	ScreenHeight int
	PixelRatio   float64
	ScrollTop    float64
	ScrollHeight float64
}

// Connection is the network information reported by the navigator.
type Connection struct {
	EffectiveType string
	Downlink      float64
	RTT           int
	SaveData      bool
}

// Navigator holds browser and privacy signals.
type Navigator struct {
	UserAgent            string
	Language             string
	DoNotTrack           bool
	GlobalPrivacyControl bool
	Online               bool
	Connection           *Connection
	Timezone             string
}

// NavigationTiming is a navigation timing entry in milliseconds relative to
// the time origin. Zero means the mark has not been reached.
type NavigationTiming struct {
	StartTime                float64
	ResponseStart            float64
	DOMContentLoadedEventEnd float64
	LoadEventEnd             float64
}

// Complete reports whether every mark has been recorded.
func (t NavigationTiming) Complete() bool {
	return t.ResponseStart > 0 && t.DOMContentLoadedEventEnd > 0 && t.LoadEventEnd > 0
}
