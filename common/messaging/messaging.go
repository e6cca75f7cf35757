// Package messaging carries exit-time beacon batches over a message broker.
// Producers and consumers see only Message, Publisher and Subscriber, so the
// broker behind them can change.
package messaging

import (
	"context"
	"time"
)

// Message is one batch on the bus.
type Message struct {
	Subject string
	Data    []byte
	Header  map[string]string

	// Timestamp is set when the message is built; it is not transmitted.
	Timestamp time.Time
}

// TrackingID returns the tracking id header, if any.
func (m *Message) TrackingID() string { return m.Header[HeaderTrackingID] }

// BatchID returns the batch id header, if any.
func (m *Message) BatchID() string { return m.Header[HeaderBatchID] }

// Publisher sends messages without waiting for a reply.
type Publisher interface {
	PublishMsg(ctx context.Context, msg *Message) error
	Close() error
}

// Handler consumes one delivered message.
type Handler func(msg *Message)

// Subscriber delivers messages matching a subject pattern to a Handler
// until the returned function is called.
type Subscriber interface {
	Subscribe(subject string, h Handler) (unsubscribe func() error, err error)
}

// NewBeaconMessage addresses body to the beacon subject of trackingID under
// prefix and stamps the identifying headers.
func NewBeaconMessage(prefix, trackingID, batchID string, body []byte) *Message {
	header := map[string]string{HeaderTrackingID: trackingID}
	if batchID != "" {
		header[HeaderBatchID] = batchID
	}
	return &Message{
		Subject:   BeaconSubject(prefix, trackingID),
		Data:      body,
		Header:    header,
		Timestamp: time.Now(),
	}
}
