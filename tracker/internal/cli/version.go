package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/pulse/tracker/internal/envinfo"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the engine version",
		Args:  cobra.NoArgs,
		// Needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s %s/%s)\n",
				envinfo.LibraryName, envinfo.LibraryVersion,
				runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
