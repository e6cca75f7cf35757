package delivery

import (
	"time"

	"github.com/coder/quartz"
)

// clockTimer adapts a quartz clock to backoff.Timer so retry waits follow
// the injected clock.
type clockTimer struct {
	clock quartz.Clock
	timer *quartz.Timer
}

func newClockTimer(c quartz.Clock) *clockTimer {
	return &clockTimer{clock: c}
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d, "delivery", "backoff")
		return
	}
	t.timer.Reset(d, "delivery", "backoff")
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	if t.timer == nil {
		return nil
	}
	return t.timer.C
}
