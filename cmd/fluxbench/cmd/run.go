package cmd

import (
	"github.com/spf13/cobra"

	"github.com/G-Research/fluxbench/internal/common/app"
	"github.com/G-Research/fluxbench/internal/common/logging"
	"github.com/G-Research/fluxbench/internal/fluxbench"
)

// Run the simulated population until the configured duration elapses or the process is interrupted.
// Prints the report on exit.
func runCmd(a *fluxbench.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test against a broker.",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureLogging()
			return initParams(cmd, a)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.AddPrometheusHook()
			_, err := a.Run(app.CreateContextWithShutdown())
			return err
		},
	}

	cmd.Flags().Int("users", 0, "Total number of simulated users, split between publishers and subscribers by weight.")
	cmd.Flags().Duration("duration", 0, "How long to run for, e.g. 5m. Zero runs until interrupted.")
	cmd.Flags().Int64("seed", 0, "Seed for topic and think time sampling. Zero seeds from the clock.")
	cmd.Flags().String("publishEndpoint", "", "URL of the broker's ingestion endpoint.")
	cmd.Flags().String("subscribeEndpoint", "", "URL of the broker's websocket subscription endpoint.")

	return cmd
}
