package instrument

import (
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/pulse/tracker/pkg/event"
	"github.com/telhawk-systems/pulse/tracker/pkg/host"
)

const settle = 100 * time.Millisecond

type attachRecorder struct {
	mu     sync.Mutex
	got    []event.Performance
	accept bool
}

func (a *attachRecorder) attach(p event.Performance) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.got = append(a.got, p)
	return a.accept
}

func (a *attachRecorder) calls() []event.Performance {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]event.Performance(nil), a.got...)
}

var fullTiming = host.NavigationTiming{StartTime: 0, ResponseStart: 120, DOMContentLoadedEventEnd: 400, LoadEventEnd: 900}

func TestPerformance_AfterLoadAndSettle(t *testing.T) {
	ctx := testContext(t)
	mClock := quartz.NewMock(t)
	w := host.NewSimulated("https://example.com/")
	w.SetDocument(host.Document{ReadyState: host.ReadyLoading})

	rec := &attachRecorder{accept: true}
	p := NewPerformance(mClock, settle, rec.attach)
	p.Install(w)

	_, pending := mClock.Peek()
	assert.False(t, pending, "nothing scheduled before load")

	w.Load(fullTiming)
	mClock.Advance(settle / 2).MustWait(ctx)
	assert.Empty(t, rec.calls())

	mClock.Advance(settle / 2).MustWait(ctx)
	calls := rec.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, event.Performance{TTFBMs: 120, DOMReadyMs: 400, LoadMs: 900}, calls[0])
	assert.False(t, p.Dropped())

	// A second load signal does not capture again.
	w.Load(fullTiming)
	_, pending = mClock.Peek()
	assert.False(t, pending)
}

func TestPerformance_AlreadyLoaded(t *testing.T) {
	ctx := testContext(t)
	mClock := quartz.NewMock(t)
	w := host.NewSimulated("https://example.com/")
	w.SetTiming(fullTiming)

	rec := &attachRecorder{accept: false}
	p := NewPerformance(mClock, settle, rec.attach)
	p.Install(w)

	mClock.Advance(settle).MustWait(ctx)
	assert.Len(t, rec.calls(), 1)
	assert.True(t, p.Dropped(), "no page view took the metrics")
}

func TestPerformance_InvalidTimingOmitted(t *testing.T) {
	ctx := testContext(t)
	mClock := quartz.NewMock(t)
	w := host.NewSimulated("https://example.com/")
	w.SetTiming(host.NavigationTiming{ResponseStart: 50})

	rec := &attachRecorder{accept: true}
	p := NewPerformance(mClock, settle, rec.attach)
	p.Install(w)

	mClock.Advance(settle).MustWait(ctx)
	assert.Empty(t, rec.calls())
	assert.False(t, p.Dropped())
}

func TestPerformance_StopBeforeSettle(t *testing.T) {
	mClock := quartz.NewMock(t)
	w := host.NewSimulated("https://example.com/")
	w.SetTiming(fullTiming)

	rec := &attachRecorder{accept: true}
	removeAll(NewPerformance(mClock, settle, rec.attach).Install(w))

	_, pending := mClock.Peek()
	assert.False(t, pending)
	assert.Empty(t, rec.calls())
}
