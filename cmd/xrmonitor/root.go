package main

import (
	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree. Running the root without a
// subcommand starts the server.
func newRootCmd() *cobra.Command {
	var configFlag string

	root := &cobra.Command{
		Use:           "xrmonitor",
		Short:         "Personal monitor mixes for the Behringer XR18",
		Long:          `XR Monitor Core keeps a live model of an XR18's monitor sends and serves it over REST and WebSocket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), getConfigPath(configFlag))
		},
	}
	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "",
		"config file (default $"+configEnvVar+" or "+defaultConfigPath+")")

	root.AddCommand(
		newServeCmd(&configFlag),
		newMigrateCmd(&configFlag),
		newVersionCmd(),
	)
	return root
}

func newServeCmd(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to the mixer and serve the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), getConfigPath(*configFlag))
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("xrmonitor %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
