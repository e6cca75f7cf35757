package tracker

import (
	"errors"
	"strings"

	"github.com/telhawk-systems/pulse/common/logging"
	"github.com/telhawk-systems/pulse/tracker/internal/instrument"
	"github.com/telhawk-systems/pulse/tracker/internal/metrics"
	"github.com/telhawk-systems/pulse/tracker/pkg/event"
	"github.com/telhawk-systems/pulse/tracker/pkg/host"
)

// TrackEvent records a custom event.
func (e *Engine) TrackEvent(name string, props map[string]any) {
	defer e.guard("trackEvent")

	name = strings.TrimSpace(name)
	if name == "" {
		e.logger.Debug("trackEvent ignored, empty name")
		return
	}
	e.emit(instrument.Draft{Type: event.TypeCustom, Name: name, Props: e.props(props)})
}

// TrackPageView records a page view for path, or for the current location
// when path is empty. Manual page views are never deduplicated.
func (e *Engine) TrackPageView(path string, props map[string]any) {
	defer e.guard("trackPageView")

	if path == "" {
		path = instrument.CurrentPath(e.window.Location(), e.cfg.HashRouting)
	}
	e.pageViews.Track(path, e.props(props))
}

// TrackClick records a click on el. A nil element records the properties
// alone.
func (e *Engine) TrackClick(el *host.Element, props map[string]any) {
	defer e.guard("trackClick")

	e.emit(instrument.Draft{
		Type:  event.TypeClick,
		Props: instrument.ElementProps(el).Merge(e.props(props)),
	})
}

// TrackFormSubmit records a form submission and its outcome. errorType is
// only recorded for failed submissions.
func (e *Engine) TrackFormSubmit(form *host.Element, success bool, errorType string, props map[string]any) {
	defer e.guard("trackFormSubmit")

	base := event.Props{"success": event.Bool(success)}
	for attr, key := range map[string]string{"id": "formId", "name": "formName", "action": "action"} {
		if v, ok := form.Attr(attr); ok && v != "" {
			base[key] = event.String(v)
		}
	}
	if !success && errorType != "" {
		base["errorType"] = event.String(errorType)
	}
	e.emit(instrument.Draft{Type: event.TypeFormSubmit, Props: base.Merge(e.props(props))})
}

// TrackPurchase records a purchase of productID. A non-finite price drops
// the event.
func (e *Engine) TrackPurchase(productID string, price float64, currency string, props map[string]any) {
	defer e.guard("trackPurchase")

	amount, err := event.ValueOf(price)
	if err != nil {
		e.logger.Debug("trackPurchase ignored, invalid price", logging.Error(err))
		return
	}
	base := event.Props{
		"productId": event.String(productID),
		"price":     amount,
		"currency":  event.String(strings.ToUpper(strings.TrimSpace(currency))),
	}
	e.emit(instrument.Draft{Type: event.TypePurchase, Props: base.Merge(e.props(props))})
}

// SetGlobalProps merges props into the properties attached to every later
// event. Event properties win over global ones.
func (e *Engine) SetGlobalProps(props map[string]any) {
	defer e.guard("setGlobalProps")

	valid := e.props(props)
	e.mu.Lock()
	e.globals = e.globals.Merge(valid)
	e.mu.Unlock()
}

// OptOut persists the opt-out flag, discards queued events and stops all
// further network activity, including retries already scheduled.
func (e *Engine) OptOut() {
	defer e.guard("optOut")

	e.gate.OptOut()
	n := e.queue.Clear()
	e.logger.Debug("visitor opted out", "discarded", n)
}

// OptIn clears the opt-out flag, installs instrumentation if it never ran
// and records exactly one page view.
func (e *Engine) OptIn() {
	defer e.guard("optIn")

	e.gate.OptIn()

	e.mu.Lock()
	installed := e.installed
	e.mu.Unlock()

	// Init records the initial page view itself.
	e.Init()
	if installed {
		e.pageViews.Track(instrument.CurrentPath(e.window.Location(), e.cfg.HashRouting), nil)
	}
}

// Flush sends every queued event now.
func (e *Engine) Flush() {
	defer e.guard("flush")
	e.queue.Flush()
}

// props validates raw properties at the API boundary. Invalid keys are
// dropped and logged; the valid ones are kept.
func (e *Engine) props(raw map[string]any) event.Props {
	props, err := event.NewProps(raw)
	if err != nil {
		var perr *event.PropError
		if errors.As(err, &perr) {
			metrics.PropsRejected.Add(float64(len(perr.Invalid)))
		}
		e.logger.Debug("dropping invalid properties", logging.Error(err))
	}
	return props
}
