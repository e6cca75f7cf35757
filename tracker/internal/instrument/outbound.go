package instrument

import (
	"strings"

	"github.com/telhawk-systems/pulse/tracker/pkg/event"
	"github.com/telhawk-systems/pulse/tracker/pkg/host"
)

// OutboundLinkEvent names click events for links leaving the site.
const OutboundLinkEvent = "outbound_link"

const maxLinkText = 100

// Outbound emits a click event when a link to another origin is clicked.
type Outbound struct {
	emit Emitter
}

// NewOutbound creates the outbound link tracker.
func NewOutbound(emit Emitter) *Outbound {
	return &Outbound{emit: emit}
}

func (o *Outbound) Name() string { return "outbound" }

func (o *Outbound) Install(w host.Window) []func() {
	return []func(){
		w.AddListener(host.SignalClick, func(sig host.Signal) { o.handle(w, sig.Target) }),
	}
}

func (o *Outbound) handle(w host.Window, target *host.Element) {
	anchor := target.ClosestWithAttr("a", "href")
	if anchor == nil {
		return
	}
	href, _ := anchor.Attr("href")

	page := w.Location()
	dest, err := page.Resolve(href)
	if err != nil {
		return
	}
	if dest.Protocol != "http:" && dest.Protocol != "https:" {
		return
	}
	if dest.Origin() == page.Origin() {
		return
	}

	o.emit.Emit(Draft{
		Type: event.TypeClick,
		Name: OutboundLinkEvent,
		Props: event.Props{
			"url":      event.String(dest.Href),
			"text":     event.String(linkText(anchor, target)),
			"outbound": event.Bool(true),
		},
	})
}

func linkText(anchor, target *host.Element) string {
	text := strings.TrimSpace(anchor.Text)
	if text == "" && target != nil {
		text = strings.TrimSpace(target.Text)
	}
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > maxLinkText {
		text = string(r[:maxLinkText])
	}
	return text
}

// ElementProps describes el for manually tracked clicks: its tag, its id
// when present and its collapsed text.
func ElementProps(el *host.Element) event.Props {
	if el == nil {
		return nil
	}
	props := event.Props{"tag": event.String(strings.ToLower(el.Tag))}
	if id, ok := el.Attr("id"); ok && id != "" {
		props["id"] = event.String(id)
	}
	if text := linkText(el, nil); text != "" {
		props["text"] = event.String(text)
	}
	return props
}
