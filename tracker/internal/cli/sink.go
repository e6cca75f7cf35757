package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/pulse/common/httputil"
	"github.com/telhawk-systems/pulse/common/logging"
	"github.com/telhawk-systems/pulse/common/messaging"
	natsclient "github.com/telhawk-systems/pulse/common/messaging/nats"
	"github.com/telhawk-systems/pulse/common/middleware"
	"github.com/telhawk-systems/pulse/tracker/internal/delivery"
	"github.com/telhawk-systems/pulse/tracker/internal/metrics"
	"github.com/telhawk-systems/pulse/tracker/pkg/event"
)

const (
	collectPath   = "/api/v1/collect"
	maxBatchBytes = 1 << 20

	sinkAccepted = "accepted"
	sinkRejected = "rejected"
	sinkFailed   = "failed"
)

// sink is a development collection endpoint. It validates and logs what
// it receives and stores nothing.
type sink struct {
	logger   *logging.Logger
	failRate float64
	roll     func() float64

	batches atomic.Int64
	events  atomic.Int64
}

func newSink(logger *logging.Logger, failRate float64) *sink {
	return &sink{logger: logger, failRate: failRate, roll: rand.Float64}
}

func (s *sink) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+collectPath, s.handleCollect)
	mux.HandleFunc("GET /healthz", s.health)
	mux.Handle("GET /metrics", promhttp.Handler())

	cors := middleware.CORS(middleware.CORSConfig{
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", delivery.HeaderTrackingID, middleware.HeaderRequestID},
		MaxAge:         600,
	})
	return middleware.RequestID(cors(mux))
}

func (s *sink) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"batches": s.batches.Load(),
		"events":  s.events.Load(),
	})
}

func (s *sink) handleCollect(w http.ResponseWriter, r *http.Request) {
	log := s.logger.With(
		"request_id", middleware.GetRequestID(r.Context()),
		"client_ip", httputil.GetClientIP(r),
	)

	if s.failRate > 0 && s.roll() < s.failRate {
		metrics.SinkBatches.WithLabelValues(sinkFailed).Inc()
		log.Info("injected failure")
		httputil.WriteJSON(w, http.StatusServiceUnavailable, event.Response{Message: "injected failure"})
		return
	}

	var batch event.Batch
	if err := httputil.DecodeJSON(r, maxBatchBytes, &batch); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, httputil.ErrBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		s.reject(w, log, status, err.Error())
		return
	}
	if err := validateBatch(batch, r.Header.Get(delivery.HeaderTrackingID)); err != nil {
		s.reject(w, log, http.StatusBadRequest, err.Error())
		return
	}

	s.accept(batch, log.With("transport", "http"))
	httputil.WriteJSON(w, http.StatusOK, event.Response{Success: true, Accepted: len(batch.Events)})
}

// handleBeacon consumes an exit batch published on the message bus. There is
// no one to answer, so rejected batches are only logged.
func (s *sink) handleBeacon(msg *messaging.Message) {
	log := s.logger.With("transport", "nats", "subject", msg.Subject)

	if len(msg.Data) > maxBatchBytes {
		s.drop(log, fmt.Sprintf("beacon of %d bytes is too large", len(msg.Data)))
		return
	}
	var batch event.Batch
	if err := json.Unmarshal(msg.Data, &batch); err != nil {
		s.drop(log, fmt.Sprintf("decode beacon: %v", err))
		return
	}
	if err := validateBatch(batch, msg.TrackingID()); err != nil {
		s.drop(log, err.Error())
		return
	}
	s.accept(batch, log)
}

func (s *sink) accept(batch event.Batch, log *logging.Logger) {
	counts := make(map[event.Type]int)
	for _, ev := range batch.Events {
		counts[ev.Type]++
		metrics.SinkEvents.WithLabelValues(string(ev.Type)).Inc()
		log.Debug("event received",
			logging.EventID(ev.EventID),
			logging.EventType(string(ev.Type)),
			logging.SessionID(ev.SessionID),
			logging.Path(ev.Location.Path),
			"name", ev.Name,
		)
	}
	metrics.SinkBatches.WithLabelValues(sinkAccepted).Inc()
	s.batches.Add(1)
	s.events.Add(int64(len(batch.Events)))

	log.Info("batch received",
		logging.TrackingID(batch.TrackingID),
		logging.BatchID(batch.Metadata.BatchID),
		logging.Events(len(batch.Events)),
		"unload", batch.Metadata.Unload,
		"types", counts,
	)
}

func (s *sink) drop(log *logging.Logger, msg string) {
	metrics.SinkBatches.WithLabelValues(sinkRejected).Inc()
	log.Warn("beacon rejected", "reason", msg)
}

func (s *sink) reject(w http.ResponseWriter, log *logging.Logger, status int, msg string) {
	metrics.SinkBatches.WithLabelValues(sinkRejected).Inc()
	log.Warn("batch rejected", logging.Status(status), "reason", msg)
	httputil.WriteJSON(w, status, event.Response{Message: msg})
}

// validateBatch checks the envelope and every event type. headerID is the
// tracking id sent alongside the body; it must agree when present.
func validateBatch(b event.Batch, headerID string) error {
	if b.TrackingID == "" {
		return errors.New("batch has no tracking id")
	}
	if headerID != "" && headerID != b.TrackingID {
		return fmt.Errorf("tracking id header %q does not match batch %q", headerID, b.TrackingID)
	}
	if b.Metadata.BatchID == "" {
		return errors.New("batch has no batch id")
	}
	if len(b.Events) == 0 {
		return errors.New("batch has no events")
	}
	for i, ev := range b.Events {
		if !ev.Type.Valid() {
			return fmt.Errorf("event %d: unknown type %q", i, ev.Type)
		}
		if ev.EventID == "" {
			return fmt.Errorf("event %d: missing event id", i)
		}
	}
	return nil
}

func newSinkCommand(a *app) *cobra.Command {
	var (
		addr     string
		failRate float64
		useNATS  bool
	)

	cmd := &cobra.Command{
		Use:   "sink",
		Short: "Run a local collection endpoint",
		Long: `Run a development collection endpoint on sink.addr.

Batches posted to ` + collectPath + ` are validated and logged, then
acknowledged. Nothing is stored. Prometheus metrics are served on /metrics.

With --nats the sink also consumes exit batches published under
nats.subject_prefix, for engines configured with beacon.transport=nats.

Examples:
  # Listen on the configured address
  pulse sink

  # Fail a third of the batches to exercise retries
  pulse sink --fail-rate 0.33

  # Also consume beacons from the local NATS server
  pulse sink --nats`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Sink.Addr = addr
			}
			if failRate < 0 || failRate > 1 {
				return fmt.Errorf("fail-rate must be within [0,1], got %v", failRate)
			}
			s := newSink(a.logger, failRate)

			if useNATS {
				natsCfg := natsclient.DefaultConfig()
				natsCfg.URL = a.cfg.NATS.URL
				natsCfg.Name = "pulse-sink"
				natsCfg.Logger = a.logger
				client, err := natsclient.NewClient(natsCfg)
				if err != nil {
					return err
				}
				defer func() {
					if err := client.Drain(); err != nil {
						a.logger.Debug("draining nats connection", logging.Error(err))
					}
				}()
				if err := s.consume(client, a.cfg.NATS.SubjectPrefix); err != nil {
					return err
				}
			}

			ln, err := net.Listen("tcp", a.cfg.Sink.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", a.cfg.Sink.Addr, err)
			}
			return serveSink(cmd.Context(), ln, s, a.logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: sink.addr)")
	cmd.Flags().Float64Var(&failRate, "fail-rate", 0, "fraction of HTTP batches answered with 503")
	cmd.Flags().BoolVar(&useNATS, "nats", false, "also consume beacon batches from nats.url")
	return cmd
}

// consume subscribes the sink to every beacon subject under prefix.
func (s *sink) consume(sub messaging.Subscriber, prefix string) error {
	subject := messaging.BeaconWildcard(prefix)
	if _, err := sub.Subscribe(subject, s.handleBeacon); err != nil {
		return err
	}
	s.logger.Info("consuming beacons", "subject", subject)
	return nil
}

// serveSink serves s on ln until ctx ends, then shuts down gracefully.
func serveSink(ctx context.Context, ln net.Listener, s *sink, logger *logging.Logger) error {
	srv := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sink listening", "addr", ln.Addr().String(), "collect_path", collectPath, "fail_rate", s.failRate)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("sink server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down sink", "batches", s.batches.Load(), logging.Events(int(s.events.Load())))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("sink shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
