package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lynN18he/reviewops/internal/app"
)

func newAskCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the ingested product manual",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.validatePipeline(); err != nil {
				return err
			}
			pipe, err := app.New(cmd.Context(), &ctx.appCfg, nil, ctx.logger)
			if err != nil {
				return err
			}
			defer pipe.Close()

			ans, err := pipe.Assistant.Ask(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ans.Text)
			if len(ans.Sources) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderTable(sourceHeaders, sourceRows(ans.Sources), sourceAligns))
			}
			return nil
		},
	}
}
