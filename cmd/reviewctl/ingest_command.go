package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lynN18he/reviewops/internal/app"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>",
		Short: "Split, embed and store a product manual for evidence retrieval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.validateIngest(); err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read manual: %w", err)
			}

			vs, err := app.NewVectorStore(&ctx.appCfg, ctx.logger)
			if err != nil {
				return err
			}
			if err := vs.EnsureClass(cmd.Context()); err != nil {
				return fmt.Errorf("ensure class: %w", err)
			}

			source := filepath.Base(args[0])
			n, err := vs.Ingest(cmd.Context(), source, string(data))
			if err != nil {
				return fmt.Errorf("ingest %s: %w", source, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d chunks from %s into %s\n", n, source, ctx.appCfg.WeaviateClass)
			return nil
		},
	}
}
