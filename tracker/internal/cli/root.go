// Package cli implements the pulse command line: a scenario simulator
// that drives the engine against a simulated page, and a development
// collection sink.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/pulse/common/logging"
	"github.com/telhawk-systems/pulse/tracker/internal/config"
)

// app is the state shared by every command of one invocation.
type app struct {
	cfgFile string
	fs      afero.Fs
	cfg     *config.Config
	logger  *logging.Logger
}

// NewRootCommand builds the pulse command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{fs: afero.NewOsFs()})
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pulse",
		Short: "Pulse telemetry engine tooling",
		Long: `pulse drives the telemetry engine against simulated page visits and
runs a local collection endpoint to receive what it sends.

Configuration is read from --config, ./pulse.yaml or /etc/pulse/pulse.yaml,
and every key can be overridden with a PULSE_ environment variable
(for example PULSE_TRACKING_ID).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd.ErrOrStderr())
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default: ./pulse.yaml or /etc/pulse/pulse.yaml)")

	rootCmd.AddCommand(newSimulateCommand(a))
	rootCmd.AddCommand(newSinkCommand(a))
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func (a *app) load(logOut io.Writer) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.cfg = cfg
	a.logger = logging.NewWithWriter(logOut, logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format).
		With(logging.Service("pulse"))
	return nil
}

// Execute runs the command line with ctx.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}
