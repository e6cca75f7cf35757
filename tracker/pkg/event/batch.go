package event

import "time"

// ProtocolVersion is the batch wire format version.
const ProtocolVersion = "1"

// Batch is an immutable group of events dispatched together.
type Batch struct {
	TrackingID string   `json:"trackingId"`
	Events     []Event  `json:"events"`
	Metadata   Metadata `json:"metadata"`
}

// Metadata describes the batch itself.
type Metadata struct {
	ClientTimestamp time.Time `json:"clientTimestamp"`
	ClientTimezone  string    `json:"clientTimezone"`
	BatchID         string    `json:"batchId"`
	ProtocolVersion string    `json:"protocolVersion"`
	Unload          bool      `json:"unload,omitempty"`
}

// NewBatch copies events into a new batch so later changes to the source
// cannot reach it.
func NewBatch(trackingID string, events []Event, meta Metadata) Batch {
	copied := make([]Event, len(events))
	for i := range events {
		copied[i] = events[i].Clone()
	}
	if meta.ProtocolVersion == "" {
		meta.ProtocolVersion = ProtocolVersion
	}
	return Batch{
		TrackingID: trackingID,
		Events:     copied,
		Metadata:   meta,
	}
}

// Response is the collection endpoint's reply envelope.
type Response struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Accepted int    `json:"accepted,omitempty"`
}
