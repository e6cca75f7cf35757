package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/pulse/common/logging"
	natsclient "github.com/telhawk-systems/pulse/common/messaging/nats"
	"github.com/telhawk-systems/pulse/tracker/internal/config"
	"github.com/telhawk-systems/pulse/tracker/internal/delivery"
	"github.com/telhawk-systems/pulse/tracker/internal/scenario"
	"github.com/telhawk-systems/pulse/tracker/pkg/storage"
	"github.com/telhawk-systems/pulse/tracker/pkg/tracker"
)

type simulateOptions struct {
	file       string
	fake       int
	seed       int64
	baseURL    string
	trackingID string
	endpoint   string
	maxWait    time.Duration
	timeout    time.Duration
	dump       bool
}

var _ scenario.Engine = (*tracker.Engine)(nil)

// sharedBeacon hides the transport's Close from the per-visit engines so
// one connection serves the whole run.
type sharedBeacon struct {
	delivery.Beacon
}

func newSimulateCommand(a *app) *cobra.Command {
	var opts simulateOptions

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive the engine with scripted or synthetic visits",
		Long: `Play page visits against a simulated browser window with a live engine
that delivers to the configured collection endpoint.

Visits come from a YAML scenario file (--scenario) or are generated
(--fake N). Each visit gets its own engine; the visitor identity is kept
in the configured storage backend, so a durable backend makes every
visit a returning visitor.

Examples:
  # Play a scenario file against a local sink
  pulse simulate --scenario checkout.yaml --tracking-id site-1

  # Fifty synthetic visits, waits capped at 2s
  pulse simulate --fake 50 --max-wait 2s

  # Print generated scenarios instead of playing them
  pulse simulate --fake 3 --seed 7 --dump`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("tracking-id") {
				a.cfg.Tracking.ID = opts.trackingID
			}
			if cmd.Flags().Changed("endpoint") {
				a.cfg.Tracking.Endpoint = opts.endpoint
			}
			if !cmd.Flags().Changed("seed") {
				opts.seed = time.Now().UnixNano()
			}
			return a.simulate(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "scenario", "f", "", "YAML scenario file")
	cmd.Flags().IntVar(&opts.fake, "fake", 0, "number of synthetic visits to generate")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "seed for synthetic visits (default: random)")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "https://www.example.com/", "site URL for synthetic visits")
	cmd.Flags().StringVar(&opts.trackingID, "tracking-id", "", "override tracking.id")
	cmd.Flags().StringVar(&opts.endpoint, "endpoint", "", "override tracking.endpoint")
	cmd.Flags().DurationVar(&opts.maxWait, "max-wait", 0, "cap every wait step (0 plays waits as written)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "time allowed per visit to deliver queued events")
	cmd.Flags().BoolVar(&opts.dump, "dump", false, "print the scenarios as YAML and exit")
	cmd.MarkFlagsMutuallyExclusive("scenario", "fake")
	cmd.MarkFlagsOneRequired("scenario", "fake")
	return cmd
}

func (a *app) simulate(cmd *cobra.Command, opts simulateOptions) error {
	scenarios, err := a.scenarios(opts)
	if err != nil {
		return err
	}
	if opts.dump {
		return scenario.Encode(cmd.OutOrStdout(), scenarios)
	}

	if err := a.cfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	store, closeStore, err := a.openStorage(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	beacon, closeBeacon, err := a.openBeacon()
	if err != nil {
		return err
	}
	defer closeBeacon()

	player := scenario.NewPlayer(nil)
	player.MaxWait = opts.maxWait

	var failed int
	for _, s := range scenarios {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.visit(ctx, player, s, store, beacon, opts.timeout); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			failed++
			a.logger.Warn("visit failed", "scenario", s.Name, logging.Error(err))
		}
	}

	a.logger.Info("simulation finished", "visits", len(scenarios), "failed", failed)
	fmt.Fprintf(cmd.OutOrStdout(), "played %d visits (%d failed)\n", len(scenarios), failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d visits failed", failed, len(scenarios))
	}
	return nil
}

func (a *app) scenarios(opts simulateOptions) ([]scenario.Scenario, error) {
	if opts.file != "" {
		return scenario.LoadFile(a.fs, opts.file)
	}
	if opts.fake <= 0 {
		return nil, errors.New("--fake must be positive")
	}
	return scenario.Synthesize(gofakeit.New(opts.seed), opts.fake, opts.baseURL)
}

// visit plays one scenario with a fresh engine and waits for its
// deliveries to settle.
func (a *app) visit(ctx context.Context, player *scenario.Player, s scenario.Scenario, store storage.Store, beacon delivery.Beacon, timeout time.Duration) error {
	w, err := scenario.NewWindow(s)
	if err != nil {
		return err
	}
	if store != nil {
		w.SetLocalStorage(store)
	}

	logger := a.logger.With("scenario", s.Name)
	opts := []tracker.Option{tracker.WithLogger(logger)}
	if beacon != nil {
		opts = append(opts, tracker.WithBeacon(beacon))
	}
	e, err := tracker.New(a.cfg.Tracker(), w, opts...)
	if err != nil {
		return err
	}
	defer e.Stop()

	e.Init()
	playErr := player.Play(ctx, s, w, e)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("deliveries still pending at shutdown", logging.Error(err))
	}
	if playErr != nil {
		return playErr
	}

	logger.Info("visit played",
		logging.SessionID(e.SessionID()),
		"user_id", e.UserID(),
		"journey", e.Journey(),
		"steps", len(s.Steps),
	)
	return nil
}

// openStorage returns the durable store shared by every visit, or nil for
// the memory backend where each visit gets fresh storage.
func (a *app) openStorage(ctx context.Context) (storage.Store, func(), error) {
	nop := func() {}
	switch a.cfg.Storage.Backend {
	case config.BackendFile:
		path := a.cfg.Storage.Path
		if path == "" {
			path = storage.DefaultPath()
		}
		a.logger.Debug("using file storage", logging.Path(path))
		return storage.NewFile(a.fs, path), nop, nil
	case config.BackendRedis:
		r, err := storage.DialRedis(ctx, a.cfg.Redis.URL, a.cfg.Storage.Namespace)
		if err != nil {
			return nil, nop, fmt.Errorf("failed to open redis storage: %w", err)
		}
		return r, func() {
			if err := r.Close(); err != nil {
				a.logger.Debug("closing redis storage", logging.Error(err))
			}
		}, nil
	default:
		return nil, nop, nil
	}
}

// openBeacon returns the exit transport shared by every visit. The HTTP
// transport is the engine default, so it returns nil for it.
func (a *app) openBeacon() (delivery.Beacon, func(), error) {
	nop := func() {}
	if a.cfg.Beacon.Transport != config.TransportNATS {
		return nil, nop, nil
	}

	natsCfg := natsclient.DefaultConfig()
	natsCfg.URL = a.cfg.NATS.URL
	natsCfg.Name = "pulse-simulate"
	natsCfg.Logger = a.logger
	client, err := natsclient.NewClient(natsCfg)
	if err != nil {
		return nil, nop, err
	}

	b := delivery.NewNATSBeacon(client, a.cfg.NATS.SubjectPrefix, a.logger)
	return sharedBeacon{b}, func() {
		if err := client.Drain(); err != nil {
			a.logger.Debug("draining nats connection", logging.Error(err))
		}
	}, nil
}
