package host

import (
	"sync"

	"github.com/telhawk-systems/pulse/tracker/pkg/storage"
)

// DefaultUserAgent is the user agent reported by a Simulated window.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type listenerEntry struct {
	fn Listener
}

type navEntry struct {
	fn func(Location)
}

// Simulated is an in-process Window driven by method calls. It is used by
// tests and by the simulate command. All methods are safe for concurrent use;
// listeners run on the calling goroutine, outside the window's lock.
type Simulated struct {
	mu        sync.Mutex
	location  Location
	document  Document
	viewport  Viewport
	navigator Navigator
	timing    NavigationTiming
	hasTiming bool
	local     storage.Store
	session   storage.Store

	listeners map[SignalKind][]*listenerEntry
	navHooks  []*navEntry
}

// NewSimulated creates a visible, fully loaded window at href with in-memory
// storage and a desktop Chrome navigator.
func NewSimulated(href string) *Simulated {
	loc, err := ParseLocation(href)
	if err != nil {
		loc = Location{Href: href, Pathname: "/"}
	}
	return &Simulated{
		location: loc,
		document: Document{ReadyState: ReadyComplete},
		viewport: Viewport{
			InnerWidth:   1280,
			InnerHeight:  800,
			ScreenWidth:  1920,
			ScreenHeight: 1080,
			PixelRatio:   1,
			ScrollHeight: 800,
		},
		navigator: Navigator{
			UserAgent: DefaultUserAgent,
			Language:  "en-US",
			Online:    true,
			Timezone:  "UTC",
		},
		local:     storage.NewMemory(),
		session:   storage.NewMemory(),
		listeners: make(map[SignalKind][]*listenerEntry),
	}
}

// AddListener implements Window.
func (s *Simulated) AddListener(kind SignalKind, fn Listener) func() {
	entry := &listenerEntry{fn: fn}
	s.mu.Lock()
	s.listeners[kind] = append(s.listeners[kind], entry)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			list := s.listeners[kind]
			for i, e := range list {
				if e == entry {
					s.listeners[kind] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// OnNavigate implements Window.
func (s *Simulated) OnNavigate(fn func(Location)) func() {
	entry := &navEntry{fn: fn}
	s.mu.Lock()
	s.navHooks = append(s.navHooks, entry)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, e := range s.navHooks {
				if e == entry {
					s.navHooks = append(s.navHooks[:i:i], s.navHooks[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *Simulated) Location() Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.location
}

func (s *Simulated) Document() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.document
}

func (s *Simulated) Viewport() Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport
}

func (s *Simulated) Navigator() Navigator {
	s.mu.Lock()
	defer s.mu.Unlock()
	nav := s.navigator
	if nav.Connection != nil {
		c := *nav.Connection
		nav.Connection = &c
	}
	return nav
}

func (s *Simulated) NavigationTiming() (NavigationTiming, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timing, s.hasTiming
}

func (s *Simulated) LocalStorage() storage.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

func (s *Simulated) SessionStorage() storage.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// SetLocalStorage replaces the durable store.
func (s *Simulated) SetLocalStorage(st storage.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local = st
}

// SetSessionStorage replaces the session store.
func (s *Simulated) SetSessionStorage(st storage.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = st
}

// SetNavigator replaces the navigator state.
func (s *Simulated) SetNavigator(nav Navigator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigator = nav
}

// SetViewport replaces the viewport geometry.
func (s *Simulated) SetViewport(vp Viewport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewport = vp
}

// SetDocument replaces the document state without dispatching signals.
func (s *Simulated) SetDocument(doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.document = doc
}

// SetTiming records a navigation timing entry without dispatching load.
func (s *Simulated) SetTiming(t NavigationTiming) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timing = t
	s.hasTiming = true
}

// ListenerCount returns the number of listeners registered for kind.
func (s *Simulated) ListenerCount(kind SignalKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners[kind])
}

// NavigateHookCount returns the number of registered navigation hooks.
func (s *Simulated) NavigateHookCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.navHooks)
}

// Dispatch delivers sig to every listener registered for its kind.
func (s *Simulated) Dispatch(sig Signal) {
	s.mu.Lock()
	list := append([]*listenerEntry(nil), s.listeners[sig.Kind]...)
	s.mu.Unlock()

	for _, e := range list {
		e.fn(sig)
	}
}

// Navigate performs a history push to href (resolved against the current
// location) and runs the navigation hooks.
func (s *Simulated) Navigate(href string) {
	s.mu.Lock()
	if next, err := s.location.Resolve(href); err == nil {
		s.location = next
	}
	loc := s.location
	hooks := append([]*navEntry(nil), s.navHooks...)
	s.mu.Unlock()

	for _, h := range hooks {
		h.fn(loc)
	}
}

// Back moves to href as a history traversal and dispatches popstate.
func (s *Simulated) Back(href string) {
	s.mu.Lock()
	if next, err := s.location.Resolve(href); err == nil {
		s.location = next
	}
	s.mu.Unlock()
	s.Dispatch(Signal{Kind: SignalPopState})
}

// SetHash changes the fragment and dispatches hashchange.
func (s *Simulated) SetHash(hash string) {
	s.mu.Lock()
	s.location = s.location.WithHash(hash)
	s.mu.Unlock()
	s.Dispatch(Signal{Kind: SignalHashChange})
}

// Click dispatches a click on target.
func (s *Simulated) Click(target *Element) {
	s.Dispatch(Signal{Kind: SignalClick, Target: target})
}

// ScrollTo sets the scroll offset and dispatches scroll.
func (s *Simulated) ScrollTo(top float64) {
	s.mu.Lock()
	s.viewport.ScrollTop = top
	s.mu.Unlock()
	s.Dispatch(Signal{Kind: SignalScroll})
}

// ScrollToPercent scrolls so the computed depth equals pct.
func (s *Simulated) ScrollToPercent(pct float64) {
	s.mu.Lock()
	span := s.viewport.ScrollHeight - float64(s.viewport.InnerHeight)
	s.mu.Unlock()
	if span < 0 {
		span = 0
	}
	s.ScrollTo(span * pct / 100)
}

// Press dispatches keydown.
func (s *Simulated) Press() { s.Dispatch(Signal{Kind: SignalKeyDown}) }

// PointerDown dispatches pointerdown.
func (s *Simulated) PointerDown() { s.Dispatch(Signal{Kind: SignalPointerDown}) }

// Touch dispatches touchstart.
func (s *Simulated) Touch() { s.Dispatch(Signal{Kind: SignalTouchStart}) }

// SetHidden changes visibility and dispatches visibilitychange.
func (s *Simulated) SetHidden(hidden bool) {
	s.mu.Lock()
	s.document.Hidden = hidden
	s.mu.Unlock()
	s.Dispatch(Signal{Kind: SignalVisibilityChange})
}

// Unload dispatches pagehide.
func (s *Simulated) Unload() { s.Dispatch(Signal{Kind: SignalPageHide}) }

// Load records timing, marks the document complete and dispatches load.
func (s *Simulated) Load(t NavigationTiming) {
	s.mu.Lock()
	s.timing = t
	s.hasTiming = true
	s.document.ReadyState = ReadyComplete
	s.mu.Unlock()
	s.Dispatch(Signal{Kind: SignalLoad})
}

var _ Window = (*Simulated)(nil)
