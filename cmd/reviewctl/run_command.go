package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lynN18he/reviewops/internal/app"
	"github.com/lynN18he/reviewops/internal/pipeline"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once and print the action plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := ctx.validatePipeline(); err != nil {
				return err
			}
			pipe, err := app.New(cmd.Context(), &ctx.appCfg, nil, ctx.logger)
			if err != nil {
				return err
			}
			defer pipe.Close()

			out := cmd.OutOrStdout()
			st, err := pipe.Service.Run(cmd.Context(), stagePrinter(out))
			if err != nil {
				return fmt.Errorf("pipeline run: %w", err)
			}
			printSummary(out, st)
			return nil
		},
	}
}

// stagePrinter writes the log lines each stage appended, prefixed with the
// stage name.
func stagePrinter(w io.Writer) pipeline.UpdateFunc {
	printed := 0
	return func(stage pipeline.Stage, st *pipeline.State) {
		for _, line := range st.LogLines[printed:] {
			fmt.Fprintf(w, "[%s] %s\n", stage, line)
		}
		printed = len(st.LogLines)
	}
}

func printSummary(w io.Writer, st *pipeline.State) {
	fmt.Fprintf(w, "\nRun %s: %d new, %d critical, %d action plans\n",
		st.RunID, len(st.NewRecords), len(st.CriticalRecords), len(st.Actions))
	if len(st.Actions) == 0 {
		return
	}
	fmt.Fprintln(w, renderTable(actionHeaders, actionRows(st.Actions), nil))
}
