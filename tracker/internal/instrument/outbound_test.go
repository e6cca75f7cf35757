package instrument

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/pulse/tracker/pkg/event"
	"github.com/telhawk-systems/pulse/tracker/pkg/host"
)

func TestOutbound(t *testing.T) {
	tests := []struct {
		name     string
		target   func() *host.Element
		wantURL  string
		wantText string
	}{
		{
			name: "external anchor",
			target: func() *host.Element {
				return host.NewElement("a", "href", "https://partner.io/offer").WithText("  Partner   offer ")
			},
			wantURL:  "https://partner.io/offer",
			wantText: "Partner offer",
		},
		{
			name: "nested target",
			target: func() *host.Element {
				a := host.NewElement("a", "href", "https://partner.io/")
				return a.Append(host.NewElement("img", "alt", "logo"))
			},
			wantURL: "https://partner.io/",
		},
		{
			name: "nested target with text",
			target: func() *host.Element {
				a := host.NewElement("a", "href", "//cdn.partner.io/file.pdf")
				return a.Append(host.NewElement("span").WithText("Download"))
			},
			wantURL:  "https://cdn.partner.io/file.pdf",
			wantText: "Download",
		},
		{
			name: "different scheme is another origin",
			target: func() *host.Element {
				return host.NewElement("a", "href", "http://example.com/legacy")
			},
			wantURL: "http://example.com/legacy",
		},
		{name: "same origin relative", target: func() *host.Element { return host.NewElement("a", "href", "/pricing") }},
		{name: "same origin absolute", target: func() *host.Element { return host.NewElement("a", "href", "https://example.com/blog") }},
		{name: "mailto", target: func() *host.Element { return host.NewElement("a", "href", "mailto:hi@example.com") }},
		{name: "javascript", target: func() *host.Element { return host.NewElement("a", "href", "javascript:void(0)") }},
		{name: "anchor without href", target: func() *host.Element { return host.NewElement("a") }},
		{name: "no anchor", target: func() *host.Element { return host.NewElement("button").WithText("Buy") }},
		{name: "nil target", target: func() *host.Element { return nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := host.NewSimulated("https://example.com/docs")
			rec := &recorder{}
			NewOutbound(rec).Install(w)

			w.Click(tt.target())

			drafts := rec.all()
			if tt.wantURL == "" {
				assert.Empty(t, drafts)
				return
			}
			require.Len(t, drafts, 1)
			d := drafts[0]
			assert.Equal(t, event.TypeClick, d.Type)
			assert.Equal(t, OutboundLinkEvent, d.Name)
			assert.Equal(t, event.String(tt.wantURL), d.Props["url"])
			assert.Equal(t, event.String(tt.wantText), d.Props["text"])
			assert.Equal(t, event.Bool(true), d.Props["outbound"])
		})
	}
}

func TestOutbound_TextIsTruncated(t *testing.T) {
	long := make([]rune, 300)
	for i := range long {
		long[i] = 'é'
	}
	a := host.NewElement("a", "href", "https://partner.io/").WithText(string(long))
	text := linkText(a, a)
	assert.Equal(t, maxLinkText, len([]rune(text)))
}

func TestElementProps(t *testing.T) {
	assert.Nil(t, ElementProps(nil))

	btn := host.NewElement("BUTTON", "id", "buy-now").WithText("  Buy \n now ")
	assert.Equal(t, event.Props{
		"tag":  event.String("button"),
		"id":   event.String("buy-now"),
		"text": event.String("Buy now"),
	}, ElementProps(btn))

	assert.Equal(t, event.Props{"tag": event.String("div")}, ElementProps(host.NewElement("div")))
}
