package delivery

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/telhawk-systems/pulse/common/logging"
	"github.com/telhawk-systems/pulse/common/messaging"
)

// MaxBeaconPayload is the largest body an HTTPBeacon accepts, matching the
// limit browsers apply to beacons.
const MaxBeaconPayload = 64 << 10

// Payload is an encoded exit batch.
type Payload struct {
	TrackingID string
	BatchID    string
	Body       []byte
}

// Beacon is a non-blocking exit transport. Send reports whether the payload
// was accepted for transmission; it never reads a response.
type Beacon interface {
	Name() string
	Send(p Payload) bool
}

// HTTPBeacon posts payloads on a background goroutine and discards the
// response.
type HTTPBeacon struct {
	endpoint   string
	client     *http.Client
	maxPayload int
	timeout    time.Duration

	wg sync.WaitGroup
}

// NewHTTPBeacon creates a beacon posting to endpoint.
func NewHTTPBeacon(endpoint string, client *http.Client) *HTTPBeacon {
	if client == nil {
		client = NewHTTPClient()
	}
	return &HTTPBeacon{
		endpoint:   endpoint,
		client:     client,
		maxPayload: MaxBeaconPayload,
		timeout:    5 * time.Second,
	}
}

// Name implements Beacon.
func (b *HTTPBeacon) Name() string { return "http" }

// Send implements Beacon. Payloads over the size limit are refused.
func (b *HTTPBeacon) Send(p Payload) bool {
	if len(p.Body) > b.maxPayload || b.endpoint == "" {
		return false
	}
	req, err := http.NewRequest(http.MethodPost, b.endpoint, bytes.NewReader(p.Body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTrackingID, p.TrackingID)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		resp, err := b.client.Do(req.WithContext(ctx))
		if err != nil {
			return
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	return true
}

// Close waits for in-flight sends. Each is bounded by the send timeout.
func (b *HTTPBeacon) Close() error {
	b.wg.Wait()
	return nil
}

// NATSBeacon publishes payloads to a per-site beacon subject through a
// messaging.Publisher.
type NATSBeacon struct {
	pub    messaging.Publisher
	prefix string
	logger *logging.Logger
}

// NewNATSBeacon creates a beacon publishing under prefix (default
// pulse.beacon).
func NewNATSBeacon(pub messaging.Publisher, prefix string, logger *logging.Logger) *NATSBeacon {
	if logger == nil {
		logger = logging.Discard()
	}
	return &NATSBeacon{pub: pub, prefix: prefix, logger: logger}
}

// Name implements Beacon.
func (b *NATSBeacon) Name() string { return "nats" }

// Send implements Beacon.
func (b *NATSBeacon) Send(p Payload) bool {
	if b.pub == nil {
		return false
	}
	msg := messaging.NewBeaconMessage(b.prefix, p.TrackingID, p.BatchID, p.Body)
	if err := b.pub.PublishMsg(context.Background(), msg); err != nil {
		b.logger.Debug("beacon publish failed", logging.BatchID(p.BatchID), logging.Error(err))
		return false
	}
	return true
}

// Close closes the publisher.
func (b *NATSBeacon) Close() error {
	if b.pub == nil {
		return nil
	}
	return b.pub.Close()
}
