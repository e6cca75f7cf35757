package scenario

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coder/quartz"

	"github.com/telhawk-systems/pulse/tracker/pkg/host"
)

// Engine is the command surface a scenario drives.
type Engine interface {
	Init()
	TrackEvent(name string, props map[string]any)
	TrackPageView(path string, props map[string]any)
	TrackClick(el *host.Element, props map[string]any)
	TrackFormSubmit(form *host.Element, success bool, errorType string, props map[string]any)
	TrackPurchase(productID string, price float64, currency string, props map[string]any)
	SetGlobalProps(props map[string]any)
	OptOut()
	OptIn()
	Flush()
}

// NewWindow builds the simulated host a scenario starts in. The document
// is still loading when the scenario has a load step, so performance is
// collected after it runs.
func NewWindow(s Scenario) (*host.Simulated, error) {
	if _, err := host.ParseLocation(s.URL); err != nil {
		return nil, fmt.Errorf("invalid scenario url: %w", err)
	}
	w := host.NewSimulated(s.URL)

	nav := w.Navigator()
	if s.UserAgent != "" {
		nav.UserAgent = s.UserAgent
	}
	if s.Language != "" {
		nav.Language = s.Language
	}
	if s.Timezone != "" {
		nav.Timezone = s.Timezone
	}
	w.SetNavigator(nav)

	vp := w.Viewport()
	vp.ScrollHeight = s.PageHeight
	if vp.ScrollHeight <= 0 {
		vp.ScrollHeight = 4 * float64(vp.InnerHeight)
	}
	w.SetViewport(vp)

	for _, step := range s.Steps {
		if step.Action == ActionLoad {
			doc := w.Document()
			doc.ReadyState = host.ReadyLoading
			w.SetDocument(doc)
			break
		}
	}
	return w, nil
}

// Player runs scenario steps. Waits use its clock.
type Player struct {
	clock quartz.Clock

	// MaxWait caps every wait step. Zero leaves waits as written.
	MaxWait time.Duration
}

// NewPlayer creates a player. A nil clock means the real clock.
func NewPlayer(clock quartz.Clock) *Player {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Player{clock: clock}
}

// Play runs every step of s against w and e in order. It stops early when
// ctx ends.
func (p *Player) Play(ctx context.Context, s Scenario, w *host.Simulated, e Engine) error {
	for i, step := range s.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.step(ctx, s, step, w, e); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Action, err)
		}
	}
	return nil
}

func (p *Player) step(ctx context.Context, s Scenario, step Step, w *host.Simulated, e Engine) error {
	switch step.Action {
	case ActionNavigate:
		w.Navigate(step.Target)
	case ActionBack:
		w.Back(step.Target)
	case ActionHash:
		w.SetHash(strings.TrimPrefix(step.Target, "#"))
	case ActionClick:
		w.Click(step.Element.Build())
	case ActionScroll:
		w.ScrollToPercent(step.Percent)
	case ActionPointer:
		w.PointerDown()
	case ActionKey:
		w.Press()
	case ActionTouch:
		w.Touch()
	case ActionHide:
		w.SetHidden(true)
	case ActionShow:
		w.SetHidden(false)
	case ActionUnload:
		w.Unload()
	case ActionLoad:
		w.Load(navigationTiming(s.Timing))
	case ActionWait:
		return p.wait(ctx, step)
	case ActionTrack:
		e.TrackEvent(step.Name, step.Props)
	case ActionPageView:
		e.TrackPageView(step.Target, step.Props)
	case ActionTrackClick:
		e.TrackClick(step.Element.Build(), step.Props)
	case ActionForm:
		e.TrackFormSubmit(step.Element.Build(), step.Success, step.Error, step.Props)
	case ActionPurchase:
		e.TrackPurchase(step.Product, step.Price, step.Currency, step.Props)
	case ActionGlobals:
		e.SetGlobalProps(step.Props)
	case ActionOptOut:
		e.OptOut()
	case ActionOptIn:
		e.OptIn()
	case ActionFlush:
		e.Flush()
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
	return nil
}

func (p *Player) wait(ctx context.Context, step Step) error {
	d := step.Duration
	if p.MaxWait > 0 && d > p.MaxWait {
		d = p.MaxWait
	}
	t := p.clock.NewTimer(d, "scenario", "wait")
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func navigationTiming(t *Timing) host.NavigationTiming {
	if t == nil {
		t = &Timing{TTFB: 80, DOMReady: 350, Load: 700}
	}
	return host.NavigationTiming{
		StartTime:                0,
		ResponseStart:            t.TTFB,
		DOMContentLoadedEventEnd: t.DOMReady,
		LoadEventEnd:             t.Load,
	}
}
