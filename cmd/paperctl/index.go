package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"paperqa/internal/app"
)

var errNotFlat = errors.New("rebuild requires the flat vector backend")

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Compact the flat index, dropping deleted rows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if a.Flat == nil {
				return errNotFlat
			}
			res, err := a.Flat.Rebuild(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, res)
			}
			cmd.Printf("Rebuilt index: %d rows before, %d after\n", res.RowsBefore, res.RowsAfter)
			return nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog and index coverage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			stats, err := a.Ingest.CoverageStats(ctx, a.Config.EmbeddingModelName)
			if err != nil {
				return err
			}
			return printJSON(cmd, stats)
		})
	},
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(statsCmd)
}
