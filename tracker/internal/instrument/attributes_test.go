package instrument

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/pulse/tracker/pkg/event"
	"github.com/telhawk-systems/pulse/tracker/pkg/host"
)

func TestAttributes_EmitsCustomEvent(t *testing.T) {
	w := host.NewSimulated("https://example.com/")
	rec := &recorder{}
	NewAttributes(rec).Install(w)

	card := host.NewElement("div",
		MarkerAttr, "add_to_cart",
		"data-pulse-product-id", "sku-42",
		"data-pulse-plan", "pro",
		"data-other", "ignored",
		"class", "card",
	)
	button := card.Append(host.NewElement("button")).WithText("Add")

	w.Click(button)

	drafts := rec.all()
	require.Len(t, drafts, 1)
	d := drafts[0]
	assert.Equal(t, event.TypeCustom, d.Type)
	assert.Equal(t, "add_to_cart", d.Name)
	assert.Equal(t, event.Props{
		"productId": event.String("sku-42"),
		"plan":      event.String("pro"),
	}, d.Props)
}

func TestAttributes_NearestMarkerWins(t *testing.T) {
	w := host.NewSimulated("https://example.com/")
	rec := &recorder{}
	NewAttributes(rec).Install(w)

	outer := host.NewElement("section", MarkerAttr, "outer")
	inner := outer.Append(host.NewElement("div", MarkerAttr, "inner"))
	w.Click(inner.Append(host.NewElement("span")))

	drafts := rec.all()
	require.Len(t, drafts, 1)
	assert.Equal(t, "inner", drafts[0].Name)
	assert.Nil(t, drafts[0].Props)
}

func TestAttributes_Ignored(t *testing.T) {
	w := host.NewSimulated("https://example.com/")
	rec := &recorder{}
	removers := NewAttributes(rec).Install(w)

	w.Click(host.NewElement("button", "data-pulse-plan", "pro"))
	w.Click(host.NewElement("button", MarkerAttr, "  "))
	w.Click(nil)
	assert.Empty(t, rec.all())

	removeAll(removers)
	w.Click(host.NewElement("button", MarkerAttr, "late"))
	assert.Empty(t, rec.all())
}
