// Package tracker is the embeddable telemetry engine. An embedder constructs
// an Engine against a host.Window, calls Init, and uses the Track methods or
// a CommandQueue to record events. Collection, batching and delivery run in
// the background.
package tracker

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/telhawk-systems/pulse/common/logging"
	"github.com/telhawk-systems/pulse/tracker/internal/delivery"
	"github.com/telhawk-systems/pulse/tracker/internal/envinfo"
	"github.com/telhawk-systems/pulse/tracker/internal/identity"
	"github.com/telhawk-systems/pulse/tracker/internal/instrument"
	"github.com/telhawk-systems/pulse/tracker/internal/privacy"
	"github.com/telhawk-systems/pulse/tracker/internal/queue"
	"github.com/telhawk-systems/pulse/tracker/pkg/event"
	"github.com/telhawk-systems/pulse/tracker/pkg/host"
)

// ErrNoWindow is returned by New without a host window.
var ErrNoWindow = errors.New("host window is required")

// Beacon is an exit-path transport. See WithBeacon.
type Beacon = delivery.Beacon

// BeaconPayload is an encoded exit batch handed to a Beacon.
type BeaconPayload = delivery.Payload

type options struct {
	clock    quartz.Clock
	logger   *logging.Logger
	http     *http.Client
	beacon   Beacon
	commands *CommandQueue
}

// Option configures an Engine.
type Option func(*options)

// WithClock sets the clock driving every timer. Tests pass a quartz mock.
func WithClock(c quartz.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the engine logger. The default discards everything.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHTTPClient sets the client used for batch posts.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.http = hc }
}

// WithBeacon sets the exit-path transport. The default posts to the
// collector endpoint in the background.
func WithBeacon(b Beacon) Option {
	return func(o *options) { o.beacon = b }
}

// WithCommandQueue replays the commands pushed before the engine existed
// and routes later pushes to the engine.
func WithCommandQueue(q *CommandQueue) Option {
	return func(o *options) { o.commands = q }
}

// Engine wires identity, privacy, instrumentation, queueing and delivery
// together behind the public command surface. Public methods never panic
// and never return errors; failures are logged at debug level.
type Engine struct {
	cfg    Config
	window host.Window
	clock  quartz.Clock
	logger *logging.Logger

	identity *identity.Store
	journey  *identity.Journey
	gate     *privacy.Gate
	env      *envinfo.Collector
	queue    *queue.Queue
	client   *delivery.Client
	commands *CommandQueue

	pageViews   *instrument.PageViews
	activity    *instrument.Activity
	performance *instrument.Performance
	modules     []instrument.Module

	mu        sync.Mutex
	tasks     []*delivery.Task
	globals   event.Props
	installed bool
	stopped   bool
	removers  []func()
}

// New builds an engine. It fails only on invalid configuration. Commands
// already pushed to a WithCommandQueue queue are replayed before New
// returns.
func New(cfg Config, w host.Window, opts ...Option) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if w == nil {
		return nil, ErrNoWindow
	}

	o := options{clock: quartz.NewReal(), logger: logging.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With(logging.TrackingID(cfg.TrackingID))

	e := &Engine{
		cfg:      cfg,
		window:   w,
		clock:    o.clock,
		logger:   logger,
		identity: identity.New(w.LocalStorage(), w.SessionStorage(), identity.WithLogger(logger)),
		journey:  identity.LoadJourney(w.SessionStorage(), logger),
		gate:     privacy.NewGate(w.LocalStorage(), logger),
		env:      envinfo.NewCollector(cfg.TrackingID),
		commands: o.commands,
	}

	clientOpts := []delivery.Option{
		delivery.WithGate(e.gate),
		delivery.WithClock(o.clock),
		delivery.WithLogger(logger),
		delivery.WithHTTPClient(o.http),
	}
	if o.beacon != nil {
		clientOpts = append(clientOpts, delivery.WithBeacon(o.beacon))
	}
	e.client = delivery.NewClient(delivery.Config{
		Endpoint:   cfg.Endpoint,
		TrackingID: cfg.TrackingID,
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.BaseDelay,
		Timeout:    cfg.RequestTimeout,
		Debug:      cfg.Debug,
	}, clientOpts...)

	e.queue = queue.New(queue.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		FollowUpDelay: cfg.FollowUpDelay,
	}, e.gate, e.dispatch, queue.WithClock(o.clock), queue.WithLogger(logger))

	emit := instrument.EmitterFunc(e.emit)
	e.pageViews = instrument.NewPageViews(emit, gatedJourney{e.journey, e.gate}, cfg.HashRouting)
	e.performance = instrument.NewPerformance(o.clock, cfg.SettleDelay, e.attachPerformance)
	e.activity = instrument.NewActivity(o.clock, cfg.PollInterval, cfg.IdleThreshold)
	e.modules = []instrument.Module{
		e.pageViews,
		instrument.NewOutbound(emit),
		instrument.NewAttributes(emit),
		instrument.NewScroll(emit, o.clock, cfg.ScrollThreshold, cfg.ScrollDebounce),
		e.performance,
		e.activity,
	}

	if e.commands != nil {
		e.commands.attach(e.Dispatch)
	}
	return e, nil
}

// Init installs the instrumentation modules and the exit handlers. It is
// idempotent and does nothing while the visitor is opted out.
func (e *Engine) Init() {
	defer e.guard("init")

	if e.gate.OptedOut() {
		e.logger.Debug("init skipped, visitor opted out")
		return
	}

	e.mu.Lock()
	if e.installed || e.stopped {
		e.mu.Unlock()
		return
	}
	e.installed = true
	e.mu.Unlock()

	var removers []func()
	for _, m := range e.modules {
		removers = append(removers, m.Install(e.window)...)
	}
	removers = append(removers,
		e.window.AddListener(host.SignalVisibilityChange, e.onVisibilityChange),
		e.window.AddListener(host.SignalPageHide, func(host.Signal) { e.exitFlush() }),
	)

	e.mu.Lock()
	e.removers = append(e.removers, removers...)
	e.mu.Unlock()

	e.logger.Debug("engine initialised",
		logging.SessionID(e.identity.SessionID()),
		"modules", len(e.modules))
}

// Stop removes every listener, disarms timers and cancels in-flight
// retries. Events still queued are discarded; call Shutdown to deliver
// them first. The engine cannot be restarted.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	removers := e.removers
	e.removers = nil
	e.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
	if e.commands != nil {
		e.commands.detach()
	}
	e.queue.Stop()
	if err := e.client.Close(); err != nil {
		e.logger.Debug("closing delivery client", logging.Error(err))
	}
}

// Shutdown flushes the queue, waits for outstanding deliveries (including
// their retries) to settle or for ctx to end, then stops the engine.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.Flush()

	var err error
wait:
	for _, t := range e.outstanding() {
		select {
		case <-t.Done():
		case <-ctx.Done():
			err = ctx.Err()
			break wait
		}
	}
	e.Stop()
	return err
}

// outstanding returns the deliveries that have not settled yet.
func (e *Engine) outstanding() []*delivery.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pruneTasksLocked()
	return append([]*delivery.Task(nil), e.tasks...)
}

func (e *Engine) pruneTasksLocked() {
	live := e.tasks[:0]
	for _, t := range e.tasks {
		if !t.State().Terminal() {
			live = append(live, t)
		}
	}
	clear(e.tasks[len(live):])
	e.tasks = live
}

// QueueLen returns the number of events waiting to be flushed.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// UserID returns the anonymous visitor identifier.
func (e *Engine) UserID() string {
	return e.identity.UserID()
}

// SessionID returns the current session identifier.
func (e *Engine) SessionID() string {
	return e.identity.SessionID()
}

// Journey returns the paths visited in this session.
func (e *Engine) Journey() []string {
	return e.journey.Paths()
}

func (e *Engine) emit(d instrument.Draft) {
	if e.gate.OptedOut() {
		return
	}
	e.queue.Enqueue(e.build(d))
}

// build completes a draft with the identity, environment and privacy
// snapshots valid now.
func (e *Engine) build(d instrument.Draft) event.Event {
	nav := e.window.Navigator()
	ps := e.gate.Snapshot(nav)

	e.mu.Lock()
	globals := e.globals
	e.mu.Unlock()

	return event.Event{
		EventID:    uuid.New().String(),
		Timestamp:  e.clock.Now().UTC(),
		Type:       d.Type,
		Name:       d.Name,
		Properties: globals.Merge(d.Props),
		UserID:     e.identity.UserID(),
		SessionID:  e.identity.SessionID(),
		Device:     e.env.Device(e.window),
		Location:   envinfo.Location(e.window),
		Network:    envinfo.Network(nav),
		Context:    e.env.Context(nav),
		Privacy: event.Privacy{
			DoNotTrack:           ps.DoNotTrack,
			GlobalPrivacyControl: ps.GlobalPrivacyControl,
			OptedOut:             ps.OptedOut,
		},
		UserJourney: e.journey.Paths(),
		Performance: d.Performance,
	}
}

func (e *Engine) newBatch(events []event.Event, unload bool) event.Batch {
	return event.NewBatch(e.cfg.TrackingID, events, event.Metadata{
		ClientTimestamp: e.clock.Now().UTC(),
		ClientTimezone:  e.window.Navigator().Timezone,
		BatchID:         uuid.New().String(),
		Unload:          unload,
	})
}

// dispatch is the queue's normal delivery path.
func (e *Engine) dispatch(events []event.Event) queue.Pending {
	task := e.client.Post(e.newBatch(events, false))
	e.mu.Lock()
	e.pruneTasksLocked()
	e.tasks = append(e.tasks, task)
	e.mu.Unlock()
	return task
}

// attachPerformance puts navigation metrics on the most recent queued page
// view when it does not carry any yet.
func (e *Engine) attachPerformance(p event.Performance) bool {
	attached := false
	e.queue.UpdateLast(event.TypePageView, func(ev *event.Event) bool {
		if ev.Performance == nil {
			perf := p
			ev.Performance = &perf
			attached = true
		}
		return true
	})
	if !attached {
		e.logger.Debug("performance metrics dropped, no queued page view")
	}
	return attached
}

func (e *Engine) onVisibilityChange(host.Signal) {
	if e.window.Document().Hidden {
		e.exitFlush()
	}
}

// exitFlush sends everything queued through the beacon transport with the
// engagement snapshot filled in. The queue hands each event to exactly one
// batch, so a concurrent normal flush never duplicates events.
func (e *Engine) exitFlush() {
	defer e.guard("exit")

	if e.gate.OptedOut() {
		return
	}
	snap := e.activity.Snapshot()
	events := e.queue.DrainWith(func(ev *event.Event) {
		if ev.Engagement == nil {
			eng := snap
			ev.Engagement = &eng
		}
	})
	if len(events) == 0 {
		return
	}

	batch := e.newBatch(events, true)
	if !e.client.SendFinal(batch) {
		e.logger.Debug("exit batch not sent", logging.BatchID(batch.Metadata.BatchID), logging.Events(len(events)))
	}
}

// gatedJourney leaves the journey untouched while the visitor is opted out.
type gatedJourney struct {
	journey *identity.Journey
	gate    *privacy.Gate
}

func (g gatedJourney) Append(path string) bool {
	if g.gate.OptedOut() {
		return false
	}
	return g.journey.Append(path)
}

// guard recovers a panic raised behind the public API.
func (e *Engine) guard(op string) {
	if r := recover(); r != nil {
		e.logger.Debug("recovered panic", "op", op, "panic", r)
	}
}
