// Package queue buffers events and decides when they are handed to delivery.
package queue

import (
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/telhawk-systems/pulse/common/logging"
	"github.com/telhawk-systems/pulse/tracker/internal/metrics"
	"github.com/telhawk-systems/pulse/tracker/pkg/event"
)

// Flush triggers, used as metric labels.
const (
	TriggerSize     = "size"
	TriggerInterval = "interval"
	TriggerFollowUp = "follow_up"
	TriggerManual   = "manual"
)

// Gate is the opt-out predicate consulted on every enqueue.
type Gate interface {
	OptedOut() bool
}

// Pending is an in-flight send. Done is closed when the send settles.
type Pending interface {
	Done() <-chan struct{}
}

// Dispatcher hands a drained set of events to delivery. It must not block;
// the returned Pending (which may be nil) reports completion.
type Dispatcher func(events []event.Event) Pending

// Config holds the batching parameters.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	FollowUpDelay time.Duration
}

// Queue accumulates events and flushes them on size, on a timer armed by the
// first event after a flush, or on demand. Safe for concurrent use.
type Queue struct {
	cfg      Config
	gate     Gate
	dispatch Dispatcher
	clock    quartz.Clock
	logger   *logging.Logger

	mu       sync.Mutex
	events   []event.Event
	timer    *quartz.Timer
	timerGen uint64
	inFlight int
	stopped  bool
	stopCh   chan struct{}
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock sets the clock used for flush timers.
func WithClock(c quartz.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithLogger sets the queue logger.
func WithLogger(l *logging.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// New creates a queue. A nil gate never reports opted out.
func New(cfg Config, gate Gate, dispatch Dispatcher, opts ...Option) *Queue {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	q := &Queue{
		cfg:      cfg,
		gate:     gate,
		dispatch: dispatch,
		clock:    quartz.NewReal(),
		logger:   logging.Discard(),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends e and reports whether it was accepted. It is a no-op when
// the gate is closed or the queue is stopped. Reaching the batch size
// flushes before returning.
func (q *Queue) Enqueue(e event.Event) bool {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		metrics.EventsDropped.WithLabelValues(metrics.ReasonStopped).Inc()
		return false
	}
	if q.gate != nil && q.gate.OptedOut() {
		q.mu.Unlock()
		metrics.EventsDropped.WithLabelValues(metrics.ReasonOptedOut).Inc()
		return false
	}

	q.events = append(q.events, e)
	metrics.EventsEnqueued.WithLabelValues(string(e.Type)).Inc()
	metrics.QueueDepth.Set(float64(len(q.events)))

	if len(q.events) >= q.cfg.BatchSize {
		events := q.takeLocked()
		q.mu.Unlock()
		q.send(events, TriggerSize)
		return true
	}

	if q.timer == nil {
		q.armLocked(q.cfg.FlushInterval, TriggerInterval)
	}
	q.mu.Unlock()
	return true
}

// Flush sends everything queued now. An empty queue sends nothing.
func (q *Queue) Flush() {
	q.flush(TriggerManual)
}

func (q *Queue) armLocked(d time.Duration, trigger string) {
	q.stopTimerLocked()
	q.timerGen++
	gen := q.timerGen
	q.timer = q.clock.AfterFunc(d, func() { q.fire(gen, trigger) }, "queue", trigger)
}

// fire runs a timer flush unless the timer was replaced or stopped after it
// started firing.
func (q *Queue) fire(gen uint64, trigger string) {
	q.mu.Lock()
	if gen != q.timerGen || q.timer == nil {
		q.mu.Unlock()
		return
	}
	q.timer = nil
	q.mu.Unlock()
	q.flush(trigger)
}

func (q *Queue) flush(trigger string) {
	q.mu.Lock()
	if q.stopped || len(q.events) == 0 {
		q.stopTimerLocked()
		q.mu.Unlock()
		return
	}
	events := q.takeLocked()
	q.mu.Unlock()
	q.send(events, trigger)
}

// takeLocked removes every queued event and disarms the flush timer.
func (q *Queue) takeLocked() []event.Event {
	events := q.events
	q.events = nil
	q.stopTimerLocked()
	metrics.QueueDepth.Set(0)
	return events
}

func (q *Queue) stopTimerLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
		q.timerGen++
	}
}

func (q *Queue) send(events []event.Event, trigger string) {
	metrics.Flushes.WithLabelValues(trigger).Inc()
	q.logger.Debug("flushing queue", "trigger", trigger, logging.Events(len(events)))

	p := q.dispatch(events)
	if p == nil {
		return
	}

	q.mu.Lock()
	q.inFlight++
	q.mu.Unlock()

	go func() {
		select {
		case <-p.Done():
			q.settled()
		case <-q.stopCh:
		}
	}()
}

// settled runs when a dispatched send completes. Events that arrived during
// the send get a short follow-up flush instead of a full interval.
func (q *Queue) settled() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.inFlight--
	if q.stopped || len(q.events) == 0 {
		return
	}
	q.armLocked(q.cfg.FollowUpDelay, TriggerFollowUp)
}

// Drain atomically removes and returns every queued event without sending.
func (q *Queue) Drain() []event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		q.stopTimerLocked()
		return nil
	}
	return q.takeLocked()
}

// Clear discards every queued event and returns how many were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.events)
	q.events = nil
	q.stopTimerLocked()
	metrics.QueueDepth.Set(0)
	if n > 0 {
		metrics.EventsDropped.WithLabelValues(metrics.ReasonCleared).Add(float64(n))
	}
	return n
}

// DrainWith applies fn to every queued event and removes them in the same
// critical section, so no event can slip in between the two steps.
func (q *Queue) DrainWith(fn func(*event.Event)) []event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		q.stopTimerLocked()
		return nil
	}
	for i := range q.events {
		fn(&q.events[i])
	}
	return q.takeLocked()
}

// UpdateLast walks queued events of type typ from newest to oldest and
// calls fn until it returns true. It reports whether any event was updated.
func (q *Queue) UpdateLast(typ event.Type, fn func(*event.Event) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := len(q.events) - 1; i >= 0; i-- {
		if q.events[i].Type != typ {
			continue
		}
		if fn(&q.events[i]) {
			return true
		}
	}
	return false
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// InFlight returns the number of dispatched sends that have not settled.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// Stop disarms timers and rejects further events. Queued events stay in
// place so the caller can still Drain them.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.stopped = true
	q.stopTimerLocked()
	close(q.stopCh)
}
