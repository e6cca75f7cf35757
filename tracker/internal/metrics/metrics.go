// Package metrics defines the Prometheus collectors of the engine and the
// development sink.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons.
const (
	ReasonOptedOut  = "opted_out"
	ReasonCleared   = "cleared"
	ReasonStopped   = "stopped"
	ReasonRetries   = "retries_exhausted"
	ReasonPermanent = "permanent"
)

// Batch paths and outcomes.
const (
	PathNormal = "normal"
	PathExit   = "exit"

	OutcomeSuccess  = "success"
	OutcomeDropped  = "dropped"
	OutcomeSent     = "sent"
	OutcomeFallback = "fallback"
	OutcomeSkipped  = "skipped"
)

var (
	// Collection metrics
	EventsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_events_enqueued_total",
			Help: "Total number of events accepted into the queue",
		},
		[]string{"type"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_events_dropped_total",
			Help: "Total number of events discarded before delivery",
		},
		[]string{"reason"},
	)

	PropsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulse_props_rejected_total",
			Help: "Total number of event properties rejected by validation",
		},
	)

	// Queue metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulse_queue_depth",
			Help: "Current number of events waiting in the queue",
		},
	)

	Flushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_queue_flushes_total",
			Help: "Total number of queue flushes by trigger",
		},
		[]string{"trigger"},
	)

	// Delivery metrics
	Batches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_batches_total",
			Help: "Total number of batches by delivery path and outcome",
		},
		[]string{"path", "outcome"},
	)

	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_delivery_attempts_total",
			Help: "Total number of HTTP delivery attempts",
		},
		[]string{"result"},
	)

	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pulse_delivery_duration_seconds",
			Help:    "Duration of a single delivery attempt in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	BeaconSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_beacon_sends_total",
			Help: "Total number of exit-path beacon sends by transport and result",
		},
		[]string{"transport", "result"},
	)

	// Sink metrics
	SinkBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_sink_batches_total",
			Help: "Total number of batches received by the development sink",
		},
		[]string{"status"},
	)

	SinkEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_sink_events_total",
			Help: "Total number of events received by the development sink",
		},
		[]string{"type"},
	)
)
