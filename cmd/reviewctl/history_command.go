package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lynN18he/reviewops/internal/app"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 {
				return errors.New("limit must be positive")
			}
			store, closeStore, err := app.OpenStore(cmd.Context(), &ctx.appCfg, ctx.logger)
			if err != nil {
				return err
			}
			defer closeStore()

			entries, err := store.History(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No records stored")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(entryHeaders, entryRows(entries), entryAligns))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum records to list")
	return cmd
}
