package instrument

import (
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/pulse/tracker/pkg/event"
	"github.com/telhawk-systems/pulse/tracker/pkg/host"
)

const debounce = 150 * time.Millisecond

func scrollWindow() *host.Simulated {
	w := host.NewSimulated("https://example.com/article")
	w.SetViewport(host.Viewport{InnerHeight: 1000, ScrollHeight: 2000})
	return w
}

func depths(drafts []Draft) []float64 {
	out := make([]float64, len(drafts))
	for i, d := range drafts {
		out[i], _ = d.Props["depth"].Num()
	}
	return out
}

func TestScroll_ThresholdSequence(t *testing.T) {
	ctx := testContext(t)
	mClock := quartz.NewMock(t)
	w := scrollWindow()
	rec := &recorder{}
	NewScroll(rec, mClock, 25, debounce).Install(w)

	for _, pct := range []float64{10, 20, 45, 46} {
		w.ScrollToPercent(pct)
		mClock.Advance(debounce).MustWait(ctx)
	}

	drafts := rec.all()
	require.Len(t, drafts, 1)
	assert.Equal(t, event.TypeScroll, drafts[0].Type)
	assert.Equal(t, ScrollDepthEvent, drafts[0].Name)
	assert.Equal(t, []float64{45}, depths(drafts))
	assert.Equal(t, event.String("down"), drafts[0].Props["direction"])
}

func TestScroll_DebounceCollapsesBursts(t *testing.T) {
	ctx := testContext(t)
	mClock := quartz.NewMock(t)
	w := scrollWindow()
	rec := &recorder{}
	NewScroll(rec, mClock, 25, debounce).Install(w)

	for _, pct := range []float64{5, 15, 30, 55, 80} {
		w.ScrollToPercent(pct)
		mClock.Advance(debounce / 3).MustWait(ctx)
	}
	assert.Empty(t, rec.all())

	mClock.Advance(debounce - debounce/3).MustWait(ctx)
	assert.Equal(t, []float64{80}, depths(rec.all()))
}

func TestScroll_DirectionFlip(t *testing.T) {
	ctx := testContext(t)
	mClock := quartz.NewMock(t)
	w := scrollWindow()
	rec := &recorder{}
	NewScroll(rec, mClock, 25, debounce).Install(w)

	for _, pct := range []float64{50, 40, 35, 60} {
		w.ScrollToPercent(pct)
		mClock.Advance(debounce).MustWait(ctx)
	}

	drafts := rec.all()
	// 50 moved 50 points; 40 flipped up; 35 kept going up by 5; 60 flipped down.
	assert.Equal(t, []float64{50, 40, 60}, depths(drafts))
	assert.Equal(t, event.String("up"), drafts[1].Props["direction"])
	assert.Equal(t, event.String("down"), drafts[2].Props["direction"])
}

func TestScroll_BaselineIsInstallDepth(t *testing.T) {
	ctx := testContext(t)
	mClock := quartz.NewMock(t)
	w := scrollWindow()
	w.ScrollToPercent(60)
	rec := &recorder{}
	NewScroll(rec, mClock, 25, debounce).Install(w)

	w.ScrollToPercent(70)
	mClock.Advance(debounce).MustWait(ctx)
	w.ScrollToPercent(70)
	mClock.Advance(debounce).MustWait(ctx)
	assert.Empty(t, rec.all())

	w.ScrollToPercent(90)
	mClock.Advance(debounce).MustWait(ctx)
	assert.Equal(t, []float64{90}, depths(rec.all()))
}

func TestScroll_RemoveStopsTimer(t *testing.T) {
	mClock := quartz.NewMock(t)
	w := scrollWindow()
	rec := &recorder{}
	removers := NewScroll(rec, mClock, 25, debounce).Install(w)

	w.ScrollToPercent(90)
	removeAll(removers)

	_, ok := mClock.Peek()
	assert.False(t, ok)
	assert.Equal(t, 0, w.ListenerCount(host.SignalScroll))
	assert.Empty(t, rec.all())
}
