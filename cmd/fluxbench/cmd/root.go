package cmd

import (
	"github.com/spf13/cobra"

	"github.com/G-Research/fluxbench/internal/common"
	"github.com/G-Research/fluxbench/internal/common/logging"
	"github.com/G-Research/fluxbench/internal/fluxbench"
)

const (
	CustomConfigLocation = "config"
	defaultConfigPath    = "./config/fluxbench"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fluxbench",
		Short: "fluxbench load tests a publish/subscribe broker.",
		Long: `fluxbench load tests a publish/subscribe broker.

A weighted population of simulated publishers and subscribers is run against the broker's
ingestion and subscription endpoints, and the latency and size of every operation is reported.

Defaults are read from ./config/fluxbench/config.yaml. Further config files can be layered on
top with --config, and any key can be overridden with a FLUXBENCH_ environment variable,
e.g. FLUXBENCH_SUBSCRIBER_HANDSHAKETIMEOUT=5s.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")

	cmd.AddCommand(
		versionCmd(fluxbench.New()),
		runCmd(fluxbench.New()),
	)

	return cmd
}

func initParams(cmd *cobra.Command, app *fluxbench.App) error {
	configs, err := cmd.Flags().GetStringSlice(CustomConfigLocation)
	if err != nil {
		return err
	}
	if _, err := common.ReadConfigWithFlags(&app.Params.Config, defaultConfigPath, configs, cmd.Flags()); err != nil {
		return err
	}
	return logging.SetLevel(app.Params.Config.Logging.Level)
}
