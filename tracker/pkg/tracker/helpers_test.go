package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/pulse/tracker/pkg/event"
	"github.com/telhawk-systems/pulse/tracker/pkg/host"
)

const testTrackingID = "site-123"

// collector is a test collection endpoint accepting every batch.
type collector struct {
	mu       sync.Mutex
	batches  []event.Batch
	requests atomic.Int32
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.requests.Add(1)
	var b event.Batch
	_ = json.NewDecoder(r.Body).Decode(&b)
	c.mu.Lock()
	c.batches = append(c.batches, b)
	c.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(event.Response{Success: true, Accepted: len(b.Events)})
}

func (c *collector) received() []event.Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]event.Batch(nil), c.batches...)
}

// fakeBeacon records exit payloads.
type fakeBeacon struct {
	mu       sync.Mutex
	payloads []BeaconPayload
	refuse   bool
}

func (b *fakeBeacon) Name() string { return "fake" }

func (b *fakeBeacon) Send(p BeaconPayload) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refuse {
		return false
	}
	b.payloads = append(b.payloads, p)
	return true
}

func (b *fakeBeacon) batches(t *testing.T) []event.Batch {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]event.Batch, len(b.payloads))
	for i, p := range b.payloads {
		require.NoError(t, json.Unmarshal(p.Body, &out[i]))
	}
	return out
}

type harness struct {
	engine    *Engine
	window    *host.Simulated
	clock     *quartz.Mock
	collector *collector
	beacon    *fakeBeacon
}

func newHarness(t *testing.T, w *host.Simulated, mutate func(*Config), opts ...Option) *harness {
	t.Helper()
	if w == nil {
		w = host.NewSimulated("https://shop.example.com/pricing?plan=pro")
	}
	coll := &collector{}
	srv := httptest.NewServer(coll)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig(testTrackingID)
	cfg.Endpoint = srv.URL
	if mutate != nil {
		mutate(&cfg)
	}

	mClock := quartz.NewMock(t)
	beacon := &fakeBeacon{}
	opts = append([]Option{WithClock(mClock), WithBeacon(beacon)}, opts...)
	e, err := New(cfg, w, opts...)
	require.NoError(t, err)
	t.Cleanup(e.Stop)

	return &harness{engine: e, window: w, clock: mClock, collector: coll, beacon: beacon}
}

// flushed flushes the engine and returns the batch the collector received.
func (h *harness) flushed(t *testing.T) event.Batch {
	t.Helper()
	before := len(h.collector.received())
	h.engine.Flush()
	require.Eventually(t, func() bool {
		return len(h.collector.received()) > before
	}, 2*time.Second, 10*time.Millisecond)
	return h.collector.received()[before]
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// advance moves the mock clock forward by d one event at a time, so every
// timer and ticker due on the way fires in order.
func advance(ctx context.Context, mClock *quartz.Mock, d time.Duration) {
	for d > 0 {
		next, ok := mClock.Peek()
		if !ok || next > d {
			mClock.Advance(d).MustWait(ctx)
			return
		}
		mClock.Advance(next).MustWait(ctx)
		d -= next
	}
}
