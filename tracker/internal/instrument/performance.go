package instrument

import (
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/telhawk-systems/pulse/tracker/pkg/event"
	"github.com/telhawk-systems/pulse/tracker/pkg/host"
)

// Performance reads navigation timing once the document has loaded and
// settled, and hands it to attach. Attach reports whether a queued page view
// took the metrics; when none did they are dropped.
type Performance struct {
	clock  quartz.Clock
	settle time.Duration
	attach func(event.Performance) bool

	mu      sync.Mutex
	timer   *quartz.Timer
	done    bool
	dropped bool
}

// NewPerformance creates the performance collector.
func NewPerformance(clock quartz.Clock, settle time.Duration, attach func(event.Performance) bool) *Performance {
	return &Performance{clock: clock, settle: settle, attach: attach}
}

func (p *Performance) Name() string { return "performance" }

func (p *Performance) Install(w host.Window) []func() {
	if w.Document().ReadyState == host.ReadyComplete {
		p.schedule(w)
		return []func(){p.stop}
	}
	remove := w.AddListener(host.SignalLoad, func(host.Signal) { p.schedule(w) })
	return []func(){remove, p.stop}
}

func (p *Performance) schedule(w host.Window) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done || p.timer != nil {
		return
	}
	p.timer = p.clock.AfterFunc(p.settle, func() { p.capture(w) }, "instrument", "performance")
}

func (p *Performance) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.done = true
}

func (p *Performance) capture(w host.Window) {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.done = true
	p.timer = nil
	p.mu.Unlock()

	perf, ok := ReadTiming(w)
	if !ok {
		return
	}
	if !p.attach(perf) {
		p.mu.Lock()
		p.dropped = true
		p.mu.Unlock()
	}
}

// Dropped reports whether metrics were read but no page view took them.
func (p *Performance) Dropped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}
