package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/pulse/tracker/internal/metrics"
	"github.com/telhawk-systems/pulse/tracker/pkg/event"
)

type fakeGate struct{ out atomic.Bool }

func (g *fakeGate) OptedOut() bool { return g.out.Load() }

type pending struct{ done chan struct{} }

func (p *pending) Done() <-chan struct{} { return p.done }

// recorder captures dispatched batches. When hold is set every send stays
// in flight until release is called.
type recorder struct {
	mu      sync.Mutex
	batches [][]event.Event
	hold    bool
	open    []*pending
}

func (r *recorder) dispatch(events []event.Event) Pending {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, events)
	if !r.hold {
		return nil
	}
	p := &pending{done: make(chan struct{})}
	r.open = append(r.open, p)
	return p
}

func (r *recorder) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.open {
		close(p.done)
	}
	r.open = nil
}

func (r *recorder) sent() [][]event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]event.Event(nil), r.batches...)
}

func ev(n int) event.Event {
	return event.Event{EventID: fmt.Sprintf("e%d", n), Type: event.TypeCustom, Name: fmt.Sprintf("n%d", n)}
}

func ids(events []event.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.EventID
	}
	return out
}

var testConfig = Config{BatchSize: 3, FlushInterval: 5 * time.Second, FollowUpDelay: time.Second}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestQueue_SizeTriggerFlushesSynchronously(t *testing.T) {
	mClock := quartz.NewMock(t)
	rec := &recorder{}
	q := New(testConfig, nil, rec.dispatch, WithClock(mClock))

	require.True(t, q.Enqueue(ev(1)))
	require.True(t, q.Enqueue(ev(2)))
	assert.Empty(t, rec.sent())

	require.True(t, q.Enqueue(ev(3)))
	sent := rec.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"e1", "e2", "e3"}, ids(sent[0]))
	assert.Equal(t, 0, q.Len())

	// The interval timer armed by e1 was disarmed by the flush.
	_, ok := mClock.Peek()
	assert.False(t, ok)
}

func TestQueue_IntervalFromFirstEvent(t *testing.T) {
	ctx := testContext(t)
	mClock := quartz.NewMock(t)
	rec := &recorder{}
	q := New(testConfig, nil, rec.dispatch, WithClock(mClock))

	q.Enqueue(ev(1))
	mClock.Advance(3 * time.Second).MustWait(ctx)
	q.Enqueue(ev(2))

	// The timer is not pushed back by the second event.
	mClock.Advance(2 * time.Second).MustWait(ctx)

	sent := rec.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"e1", "e2"}, ids(sent[0]))
	assert.Equal(t, 0, q.Len())

	// The next event arms a fresh interval.
	q.Enqueue(ev(3))
	d, ok := mClock.Peek()
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, d)
}

func TestQueue_FlushEmptySendsNothing(t *testing.T) {
	rec := &recorder{}
	q := New(testConfig, nil, rec.dispatch, WithClock(quartz.NewMock(t)))
	q.Flush()
	assert.Empty(t, rec.sent())
}

func TestQueue_ManualFlush(t *testing.T) {
	mClock := quartz.NewMock(t)
	rec := &recorder{}
	q := New(testConfig, nil, rec.dispatch, WithClock(mClock))

	q.Enqueue(ev(1))
	q.Flush()

	sent := rec.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"e1"}, ids(sent[0]))
	_, ok := mClock.Peek()
	assert.False(t, ok)
}

func TestQueue_OptedOutIsNoop(t *testing.T) {
	gate := &fakeGate{}
	rec := &recorder{}
	q := New(testConfig, gate, rec.dispatch, WithClock(quartz.NewMock(t)))

	q.Enqueue(ev(1))
	gate.out.Store(true)

	before := testutil.ToFloat64(metrics.EventsDropped.WithLabelValues(metrics.ReasonOptedOut))
	assert.False(t, q.Enqueue(ev(2)))
	assert.False(t, q.Enqueue(ev(3)))
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.EventsDropped.WithLabelValues(metrics.ReasonOptedOut)))
	assert.Empty(t, rec.sent())
}

func TestQueue_FollowUpAfterSend(t *testing.T) {
	ctx := testContext(t)
	mClock := quartz.NewMock(t)
	rec := &recorder{hold: true}
	q := New(testConfig, nil, rec.dispatch, WithClock(mClock))

	trap := mClock.Trap().AfterFunc("queue", TriggerFollowUp)
	defer trap.Close()

	q.Enqueue(ev(1))
	q.Flush()
	require.Len(t, rec.sent(), 1)
	assert.Equal(t, 1, q.InFlight())

	// Arrives while the first batch is in flight.
	q.Enqueue(ev(2))
	rec.release()

	call := trap.MustWait(ctx)
	call.MustRelease(ctx)
	assert.Equal(t, time.Second, call.Duration)

	mClock.Advance(time.Second).MustWait(ctx)

	sent := rec.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, []string{"e2"}, ids(sent[1]))

	rec.release()
	require.Eventually(t, func() bool { return q.InFlight() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestQueue_NoFollowUpWhenEmpty(t *testing.T) {
	mClock := quartz.NewMock(t)
	rec := &recorder{hold: true}
	q := New(testConfig, nil, rec.dispatch, WithClock(mClock))

	q.Enqueue(ev(1))
	q.Flush()
	rec.release()

	require.Eventually(t, func() bool { return q.InFlight() == 0 }, 5*time.Second, 10*time.Millisecond)
	_, ok := mClock.Peek()
	assert.False(t, ok)
}

func TestQueue_Drain(t *testing.T) {
	mClock := quartz.NewMock(t)
	rec := &recorder{}
	q := New(testConfig, nil, rec.dispatch, WithClock(mClock))

	assert.Nil(t, q.Drain())

	q.Enqueue(ev(1))
	q.Enqueue(ev(2))
	drained := q.Drain()
	assert.Equal(t, []string{"e1", "e2"}, ids(drained))
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, rec.sent())

	_, ok := mClock.Peek()
	assert.False(t, ok, "drain disarms the flush timer")
}

func TestQueue_Clear(t *testing.T) {
	q := New(testConfig, nil, (&recorder{}).dispatch, WithClock(quartz.NewMock(t)))
	q.Enqueue(ev(1))
	q.Enqueue(ev(2))

	assert.Equal(t, 2, q.Clear())
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.QueueDepth))
}

func TestQueue_DrainWith(t *testing.T) {
	q := New(Config{BatchSize: 10, FlushInterval: time.Second}, nil, (&recorder{}).dispatch, WithClock(quartz.NewMock(t)))
	q.Enqueue(ev(1))
	q.Enqueue(event.Event{EventID: "e2", Engagement: &event.Engagement{TimeOnPageSeconds: 3}})

	drained := q.DrainWith(func(e *event.Event) {
		if e.Engagement == nil {
			e.Engagement = &event.Engagement{TimeOnPageSeconds: 12}
		}
	})
	require.Len(t, drained, 2)
	assert.Equal(t, 12.0, drained[0].Engagement.TimeOnPageSeconds)
	assert.Equal(t, 3.0, drained[1].Engagement.TimeOnPageSeconds, "existing engagement is kept")
	assert.Equal(t, 0, q.Len())

	called := false
	assert.Nil(t, q.DrainWith(func(*event.Event) { called = true }))
	assert.False(t, called)
}

func TestQueue_UpdateLast(t *testing.T) {
	q := New(Config{BatchSize: 10, FlushInterval: time.Second}, nil, (&recorder{}).dispatch, WithClock(quartz.NewMock(t)))

	pv1 := event.Event{EventID: "pv1", Type: event.TypePageView}
	pv2 := event.Event{EventID: "pv2", Type: event.TypePageView, Performance: &event.Performance{LoadMs: 1}}
	q.Enqueue(pv1)
	q.Enqueue(pv2)
	q.Enqueue(ev(3))

	attach := func(e *event.Event) bool {
		if e.Performance != nil {
			return false
		}
		e.Performance = &event.Performance{LoadMs: 900}
		return true
	}

	// pv2 already has performance so pv1 is the most recent candidate.
	assert.True(t, q.UpdateLast(event.TypePageView, attach))
	assert.False(t, q.UpdateLast(event.TypePageView, attach))

	events := q.Drain()
	require.Len(t, events, 3)
	assert.Equal(t, 900.0, events[0].Performance.LoadMs)
	assert.Equal(t, 1.0, events[1].Performance.LoadMs)
	assert.Nil(t, events[2].Performance)
}

func TestQueue_Stop(t *testing.T) {
	mClock := quartz.NewMock(t)
	rec := &recorder{}
	q := New(testConfig, nil, rec.dispatch, WithClock(mClock))

	q.Enqueue(ev(1))
	q.Stop()
	q.Stop()

	_, ok := mClock.Peek()
	assert.False(t, ok)
	assert.False(t, q.Enqueue(ev(2)))
	assert.Equal(t, []string{"e1"}, ids(q.Drain()))
}

func TestQueue_ConcurrentEnqueue(t *testing.T) {
	rec := &recorder{}
	q := New(Config{BatchSize: 7, FlushInterval: time.Hour, FollowUpDelay: time.Second}, nil, rec.dispatch, WithClock(quartz.NewMock(t)))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Enqueue(ev(i))
		}(i)
	}
	wg.Wait()
	q.Flush()

	seen := make(map[string]int)
	for _, b := range rec.sent() {
		assert.LessOrEqual(t, len(b), 7)
		for _, e := range b {
			seen[e.EventID]++
		}
	}
	assert.Len(t, seen, 100)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}
