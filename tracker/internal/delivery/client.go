// Package delivery ships batches to the collection endpoint: retried HTTP
// posts on the normal path and fire-and-forget beacons on the exit path.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"

	"github.com/telhawk-systems/pulse/common/logging"
	"github.com/telhawk-systems/pulse/tracker/internal/metrics"
	"github.com/telhawk-systems/pulse/tracker/pkg/event"
)

// HeaderTrackingID carries the tracking identifier on every request.
const HeaderTrackingID = "X-Pulse-Tracking-Id"

const maxResponseBytes = 1 << 20

// Gate is the opt-out predicate consulted before every attempt.
type Gate interface {
	OptedOut() bool
}

// Config holds delivery parameters.
type Config struct {
	Endpoint   string
	TrackingID string
	MaxRetries int
	BaseDelay  time.Duration
	Timeout    time.Duration
	// Debug logs dropped batches.
	Debug bool
}

// Client delivers batches. Requests run detached from the caller; Close
// cancels outstanding retries.
type Client struct {
	cfg    Config
	http   *http.Client
	gate   Gate
	beacon Beacon
	clock  quartz.Clock
	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the keep-alive HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithGate sets the privacy gate.
func WithGate(g Gate) Option {
	return func(c *Client) { c.gate = g }
}

// WithBeacon sets the exit-path transport.
func WithBeacon(b Beacon) Option {
	return func(c *Client) { c.beacon = b }
}

// WithClock sets the clock used for retry waits.
func WithClock(clk quartz.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithLogger sets the client logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a delivery client. Without WithBeacon the exit path
// uses an HTTPBeacon on the same endpoint.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:    cfg,
		http:   NewHTTPClient(),
		clock:  quartz.NewReal(),
		logger: logging.Discard(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.beacon == nil {
		c.beacon = NewHTTPBeacon(cfg.Endpoint, c.http)
	}
	return c
}

// NewHTTPClient returns an HTTP client tuned for small, frequent posts
// over a kept-alive connection.
func NewHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 4
	transport.IdleConnTimeout = 90 * time.Second
	return &http.Client{Transport: transport}
}

// Post starts delivering batch in the background and returns its Task.
func (c *Client) Post(batch event.Batch) *Task {
	t := newTask(batch)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(t)
	}()
	return t
}

func (c *Client) run(t *Task) {
	batch := t.batch
	batchID := batch.Metadata.BatchID
	ctx := logging.WithBatchID(c.ctx, batchID)

	var (
		body       []byte
		lastStatus int
		ack        *Ack
	)

	op := func() error {
		if c.gate != nil && c.gate.OptedOut() {
			return backoff.Permanent(ErrOptedOut)
		}
		if body == nil {
			raw, err := json.Marshal(batch)
			if err != nil {
				return backoff.Permanent(fmt.Errorf("marshal batch: %w", err))
			}
			body = raw
		}

		t.setState(StateSending)
		n := int(t.attempts.Add(1))

		resp, status, err := c.attempt(ctx, body)
		lastStatus = status
		if err != nil {
			metrics.DeliveryAttempts.WithLabelValues("failure").Inc()
			c.logger.DebugContext(ctx, "delivery attempt failed", logging.Attempt(n), logging.Status(status), logging.Error(err))
			return err
		}
		metrics.DeliveryAttempts.WithLabelValues("success").Inc()
		ack = &Ack{
			BatchID:  batchID,
			Status:   status,
			Accepted: resp.Accepted,
			Attempts: n,
			Message:  resp.Message,
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		t.setState(StateRetrying)
		c.logger.DebugContext(ctx, "retrying batch", "wait", wait.String(), logging.Attempt(t.Attempts()))
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.cfg.MaxRetries)), c.ctx)
	err := backoff.RetryNotifyWithTimer(op, b, notify, newClockTimer(c.clock))
	if err == nil {
		metrics.Batches.WithLabelValues(metrics.PathNormal, metrics.OutcomeSuccess).Inc()
		t.succeed(ack)
		return
	}

	derr := &DeliveryError{
		BatchID:  batchID,
		Attempts: t.Attempts(),
		Status:   lastStatus,
		Err:      err,
	}
	reason := metrics.ReasonRetries
	switch {
	case errors.Is(err, ErrOptedOut):
		reason = metrics.ReasonOptedOut
	case t.Attempts() == 0 || errors.Is(err, context.Canceled):
		reason = metrics.ReasonPermanent
	}
	metrics.Batches.WithLabelValues(metrics.PathNormal, metrics.OutcomeDropped).Inc()
	metrics.EventsDropped.WithLabelValues(reason).Add(float64(len(batch.Events)))
	if c.cfg.Debug {
		c.logger.WarnContext(ctx, "batch dropped",
			logging.Events(len(batch.Events)),
			logging.Attempt(derr.Attempts),
			logging.Error(err),
		)
	}
	t.drop(derr)
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = maxInterval(c.cfg.BaseDelay, c.cfg.MaxRetries)
	b.MaxElapsedTime = 0
	return b
}

// maxInterval is the longest wait of the schedule, capped at an hour.
func maxInterval(base time.Duration, retries int) time.Duration {
	d := base
	for i := 0; i < retries && d < time.Hour; i++ {
		d *= 2
	}
	return d
}

// attempt performs one POST and returns the decoded response and status.
func (c *Client) attempt(ctx context.Context, body []byte) (*event.Response, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := c.clock.Now()
	defer func() {
		metrics.DeliveryDuration.Observe(c.clock.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTrackingID, c.cfg.TrackingID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	var out event.Response
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, &statusError{
			status: resp.StatusCode,
			err:    fmt.Errorf("collector response status %d: %w", resp.StatusCode, ErrRejected),
		}
	}
	if decodeErr != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode response: %w", decodeErr)
	}
	if !out.Success {
		return nil, resp.StatusCode, fmt.Errorf("%w: %s", ErrRejected, out.Message)
	}
	return &out, resp.StatusCode, nil
}

// SendFinal hands batch to the beacon transport without waiting. When the
// beacon refuses it, a single keep-alive POST is fired and not awaited. It
// reports whether the batch left through either transport.
func (c *Client) SendFinal(batch event.Batch) bool {
	if len(batch.Events) == 0 {
		return false
	}
	if c.gate != nil && c.gate.OptedOut() {
		metrics.Batches.WithLabelValues(metrics.PathExit, metrics.OutcomeSkipped).Inc()
		return false
	}

	body, err := json.Marshal(batch)
	if err != nil {
		c.logger.Debug("cannot encode exit batch", logging.BatchID(batch.Metadata.BatchID), logging.Error(err))
		metrics.Batches.WithLabelValues(metrics.PathExit, metrics.OutcomeDropped).Inc()
		return false
	}

	payload := Payload{
		TrackingID: batch.TrackingID,
		BatchID:    batch.Metadata.BatchID,
		Body:       body,
	}
	if c.beacon.Send(payload) {
		metrics.BeaconSends.WithLabelValues(c.beacon.Name(), "accepted").Inc()
		metrics.Batches.WithLabelValues(metrics.PathExit, metrics.OutcomeSent).Inc()
		return true
	}
	metrics.BeaconSends.WithLabelValues(c.beacon.Name(), "refused").Inc()
	metrics.Batches.WithLabelValues(metrics.PathExit, metrics.OutcomeFallback).Inc()

	// The fallback outlives Close like a keep-alive request outlives the
	// page; attempt bounds it by the request timeout.
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx := logging.WithBatchID(context.WithoutCancel(c.ctx), payload.BatchID)
		if _, status, err := c.attempt(ctx, body); err != nil {
			c.logger.DebugContext(ctx, "keep-alive fallback failed", logging.Status(status), logging.Error(err))
		}
	}()
	return true
}

// Close cancels pending retries and waits for background sends, including
// an exit fallback still in flight, to stop.
func (c *Client) Close() error {
	c.cancel()
	c.wg.Wait()
	if closer, ok := c.beacon.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
