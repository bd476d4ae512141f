package main

import (
	"github.com/spf13/cobra"

	"github.com/zephyr-ci/zephyr/internal/logger"
)

type rootFlags struct {
	verbose bool
}

func newRootCmd(log *logger.Logger) *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "zephyrd",
		Short:         "zephyrd runs and serves self-hosted CI pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(newServeCmd(flags, log))
	cmd.AddCommand(newRunCmd(flags, log))

	return cmd
}
