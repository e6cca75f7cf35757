package instrument

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/telhawk-systems/pulse/tracker/pkg/event"
	"github.com/telhawk-systems/pulse/tracker/pkg/host"
)

var activitySignals = []host.SignalKind{
	host.SignalPointerDown,
	host.SignalKeyDown,
	host.SignalScroll,
	host.SignalTouchStart,
}

// Activity measures engagement. Every poll interval counts as active time
// when the page is visible and the last interaction is within the idle
// threshold.
type Activity struct {
	clock quartz.Clock
	poll  time.Duration
	idle  time.Duration

	mu         sync.Mutex
	start      time.Time
	lastSignal time.Time
	interacted bool
	active     time.Duration
}

// NewActivity creates the activity tracker.
func NewActivity(clock quartz.Clock, poll, idle time.Duration) *Activity {
	return &Activity{clock: clock, poll: poll, idle: idle}
}

func (a *Activity) Name() string { return "activity" }

func (a *Activity) Install(w host.Window) []func() {
	now := a.clock.Now()
	a.mu.Lock()
	a.start = now
	a.lastSignal = now
	a.interacted = false
	a.active = 0
	a.mu.Unlock()

	removers := make([]func(), 0, len(activitySignals)+1)
	for _, kind := range activitySignals {
		removers = append(removers, w.AddListener(kind, func(host.Signal) { a.touch() }))
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.clock.TickerFunc(ctx, a.poll, func() error {
		a.tick(w)
		return nil
	}, "instrument", "activity")
	return append(removers, cancel)
}

func (a *Activity) touch() {
	now := a.clock.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastSignal = now
	a.interacted = true
}

func (a *Activity) tick(w host.Window) {
	hidden := w.Document().Hidden
	now := a.clock.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	if hidden || now.Sub(a.lastSignal) >= a.idle {
		return
	}
	a.active += a.poll
}

// Snapshot returns the engagement so far.
func (a *Activity) Snapshot() event.Engagement {
	now := a.clock.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	var onPage time.Duration
	if !a.start.IsZero() {
		onPage = now.Sub(a.start)
	}
	return event.Engagement{
		TimeOnPageSeconds: onPage.Seconds(),
		ActiveTimeSeconds: a.active.Seconds(),
		Bounced:           !a.interacted,
	}
}
