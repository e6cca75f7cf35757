package instrument

import (
	"sync"

	"github.com/telhawk-systems/pulse/tracker/pkg/event"
	"github.com/telhawk-systems/pulse/tracker/pkg/host"
)

// Journey records visited paths.
type Journey interface {
	Append(path string) bool
}

// PageViews records the initial page view and every navigation to a new
// path. Consecutive signals for the same path emit once.
type PageViews struct {
	emit        Emitter
	journey     Journey
	hashRouting bool

	mu       sync.Mutex
	lastPath string
}

// NewPageViews creates the page-view tracker.
func NewPageViews(emit Emitter, journey Journey, hashRouting bool) *PageViews {
	return &PageViews{emit: emit, journey: journey, hashRouting: hashRouting}
}

func (p *PageViews) Name() string { return "pageviews" }

func (p *PageViews) Install(w host.Window) []func() {
	// Navigation timing describes the document load, so only the page view
	// recorded for the document carries it.
	p.record(w, true)

	onChange := func(host.Signal) { p.record(w, false) }
	removers := []func(){
		w.OnNavigate(func(host.Location) { p.record(w, false) }),
		w.AddListener(host.SignalPopState, onChange),
	}
	if p.hashRouting {
		removers = append(removers, w.AddListener(host.SignalHashChange, onChange))
	}
	return removers
}

func (p *PageViews) record(w host.Window, withTiming bool) {
	path := CurrentPath(w.Location(), p.hashRouting)

	p.mu.Lock()
	if path == p.lastPath {
		p.mu.Unlock()
		return
	}
	p.lastPath = path
	p.mu.Unlock()

	d := p.draft(path, nil)
	if withTiming {
		if perf, ok := ReadTiming(w); ok {
			d.Performance = &perf
		}
	}
	p.emit.Emit(d)
}

// Track records a page view for path unconditionally.
func (p *PageViews) Track(path string, props event.Props) {
	p.mu.Lock()
	p.lastPath = path
	p.mu.Unlock()
	p.emit.Emit(p.draft(path, props))
}

// LastPath returns the most recently recorded path.
func (p *PageViews) LastPath() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPath
}

func (p *PageViews) draft(path string, props event.Props) Draft {
	if p.journey != nil {
		p.journey.Append(path)
	}
	return Draft{
		Type:  event.TypePageView,
		Props: props.Merge(event.Props{"path": event.String(path)}),
	}
}
