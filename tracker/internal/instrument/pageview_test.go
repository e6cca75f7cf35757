package instrument

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/pulse/tracker/internal/identity"
	"github.com/telhawk-systems/pulse/tracker/pkg/event"
	"github.com/telhawk-systems/pulse/tracker/pkg/host"
	"github.com/telhawk-systems/pulse/tracker/pkg/storage"
)

func paths(drafts []Draft) []string {
	out := make([]string, len(drafts))
	for i, d := range drafts {
		s, _ := d.Props["path"].Str()
		out[i] = s
	}
	return out
}

func TestPageViews_NavigationAndSuppression(t *testing.T) {
	w := host.NewSimulated("https://example.com/home?x=1")
	rec := &recorder{}
	journey := identity.LoadJourney(storage.NewMemory(), nil)

	pv := NewPageViews(rec, journey, false)
	removers := pv.Install(w)

	w.Navigate("/pricing")
	// Routers often fire several signals for one transition.
	w.Navigate("/pricing")
	w.Back("/pricing")
	w.Back("/home?x=1")
	w.SetHash("section")

	drafts := rec.all()
	assert.Equal(t, []string{"/home?x=1", "/pricing", "/home?x=1"}, paths(drafts))
	for _, d := range drafts {
		assert.Equal(t, event.TypePageView, d.Type)
	}
	assert.Equal(t, []string{"/home?x=1", "/pricing"}, journey.Paths())
	assert.Equal(t, 0, w.ListenerCount(host.SignalHashChange))

	removeAll(removers)
	assert.Equal(t, 0, w.NavigateHookCount())
	assert.Equal(t, 0, w.ListenerCount(host.SignalPopState))

	w.Navigate("/after")
	assert.Len(t, rec.all(), 3)
}

func TestPageViews_HashRouting(t *testing.T) {
	w := host.NewSimulated("https://example.com/app#/inbox")
	rec := &recorder{}
	pv := NewPageViews(rec, nil, true)
	pv.Install(w)

	w.SetHash("/settings")
	w.SetHash("/settings")

	assert.Equal(t, []string{"/app#/inbox", "/app#/settings"}, paths(rec.all()))
	assert.Equal(t, "/app#/settings", pv.LastPath())
}

func TestPageViews_InitialCarriesTiming(t *testing.T) {
	w := host.NewSimulated("https://example.com/")
	w.SetTiming(host.NavigationTiming{ResponseStart: 80, DOMContentLoadedEventEnd: 300, LoadEventEnd: 650})
	rec := &recorder{}

	NewPageViews(rec, nil, false).Install(w)
	w.Navigate("/next")

	drafts := rec.all()
	require.Len(t, drafts, 2)
	require.NotNil(t, drafts[0].Performance)
	assert.Equal(t, 80.0, drafts[0].Performance.TTFBMs)
	assert.Equal(t, 650.0, drafts[0].Performance.LoadMs)
	assert.Nil(t, drafts[1].Performance)
}

func TestPageViews_ManualTrack(t *testing.T) {
	w := host.NewSimulated("https://example.com/")
	rec := &recorder{}
	journey := identity.LoadJourney(nil, nil)
	pv := NewPageViews(rec, journey, false)
	pv.Install(w)

	pv.Track("/virtual/step-1", event.Props{"funnel": event.String("checkout"), "path": event.String("ignored")})
	pv.Track("/virtual/step-1", nil)
	w.Navigate("/virtual/step-1")

	drafts := rec.all()
	assert.Equal(t, []string{"/", "/virtual/step-1", "/virtual/step-1"}, paths(drafts))
	assert.Equal(t, event.String("checkout"), drafts[1].Props["funnel"])
	assert.Equal(t, []string{"/", "/virtual/step-1"}, journey.Paths())
}
