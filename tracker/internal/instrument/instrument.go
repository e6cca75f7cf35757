// Package instrument turns host signals into event drafts. Modules never
// perform I/O; the engine completes each draft with identity and
// environment snapshots and enqueues it.
package instrument

import (
	"math"
	"strings"

	"github.com/telhawk-systems/pulse/tracker/pkg/event"
	"github.com/telhawk-systems/pulse/tracker/pkg/host"
)

// Draft is the module-specific part of an event.
type Draft struct {
	Type        event.Type
	Name        string
	Props       event.Props
	Performance *event.Performance
}

// Emitter receives drafts.
type Emitter interface {
	Emit(Draft)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Draft)

// Emit implements Emitter.
func (f EmitterFunc) Emit(d Draft) { f(d) }

// Module owns one kind of host signal.
type Module interface {
	Name() string
	// Install registers listeners on w and returns the funcs that remove
	// them and stop any timers.
	Install(w host.Window) []func()
}

// CurrentPath is the page identity used for page views and the journey.
func CurrentPath(loc host.Location, hashRouting bool) string {
	path := loc.Pathname
	if path == "" {
		path = "/"
	}
	path += loc.Search
	if hashRouting {
		path += loc.Hash
	}
	return path
}

// ReadTiming converts the host's navigation timing into event metrics. It
// reports false when timing is missing, incomplete or inconsistent.
func ReadTiming(w host.Window) (event.Performance, bool) {
	t, ok := w.NavigationTiming()
	if !ok || !t.Complete() {
		return event.Performance{}, false
	}
	p := event.Performance{
		TTFBMs:     t.ResponseStart - t.StartTime,
		DOMReadyMs: t.DOMContentLoadedEventEnd - t.StartTime,
		LoadMs:     t.LoadEventEnd - t.StartTime,
	}
	for _, v := range []float64{p.TTFBMs, p.DOMReadyMs, p.LoadMs} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return event.Performance{}, false
		}
	}
	return p, true
}

// Depth returns the scroll depth as a percentage in [0,100]. A page that
// cannot scroll has depth 0.
func Depth(vp host.Viewport) float64 {
	span := vp.ScrollHeight - float64(vp.InnerHeight)
	if span <= 0 {
		return 0
	}
	d := vp.ScrollTop / span * 100
	switch {
	case d < 0 || math.IsNaN(d):
		return 0
	case d > 100:
		return 100
	}
	return d
}

// camelCase converts kebab-case to camelCase: product-id becomes productId.
func camelCase(s string) string {
	parts := strings.Split(s, "-")
	var b strings.Builder
	b.Grow(len(s))
	first := true
	for _, p := range parts {
		if p == "" {
			continue
		}
		if first {
			b.WriteString(p)
			first = false
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
