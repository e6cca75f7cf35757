package instrument

import (
	"strings"

	"github.com/telhawk-systems/pulse/tracker/pkg/event"
	"github.com/telhawk-systems/pulse/tracker/pkg/host"
)

// Declarative tracking attributes.
const (
	MarkerAttr = "data-pulse-event"
	AttrPrefix = "data-pulse-"
)

// Attributes emits a custom event for clicks inside an element carrying
// MarkerAttr. Other AttrPrefix attributes on that element become props.
type Attributes struct {
	emit Emitter
}

// NewAttributes creates the declarative attribute tracker.
func NewAttributes(emit Emitter) *Attributes {
	return &Attributes{emit: emit}
}

func (a *Attributes) Name() string { return "attributes" }

func (a *Attributes) Install(w host.Window) []func() {
	return []func(){
		w.AddListener(host.SignalClick, func(sig host.Signal) { a.handle(sig.Target) }),
	}
}

func (a *Attributes) handle(target *host.Element) {
	el := target.ClosestWithAttr("", MarkerAttr)
	if el == nil {
		return
	}
	name := strings.TrimSpace(el.Attrs[MarkerAttr])
	if name == "" {
		return
	}
	a.emit.Emit(Draft{
		Type:  event.TypeCustom,
		Name:  name,
		Props: AttributeProps(el),
	})
}

// AttributeProps collects the element's AttrPrefix attributes, except the
// marker, as camelCase props.
func AttributeProps(el *host.Element) event.Props {
	var props event.Props
	for k, v := range el.Attrs {
		if k == MarkerAttr || !strings.HasPrefix(k, AttrPrefix) {
			continue
		}
		key := camelCase(strings.TrimPrefix(k, AttrPrefix))
		if key == "" {
			continue
		}
		if props == nil {
			props = make(event.Props)
		}
		props[key] = event.String(v)
	}
	return props
}
