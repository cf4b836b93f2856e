package main

import (
	"github.com/spf13/cobra"
)

const appName = "reviewctl"

func newRootCommand() *cobra.Command {
	ctx := newCommandContext()

	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "Review pipeline operator CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.load(cmd)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	// server flags are shared so the CLI points at the same store and oracle
	rootCmd.PersistentFlags().AddGoFlagSet(ctx.fs)

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newIngestCommand(ctx))
	rootCmd.AddCommand(newAskCommand(ctx))

	return rootCmd
}
