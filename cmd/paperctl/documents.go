package main

import (
	"context"

	"github.com/spf13/cobra"

	"paperqa/internal/app"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingested papers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			docs, err := a.Documents.List(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, docs)
			}
			if len(docs) == 0 {
				cmd.Println("No papers ingested.")
				return nil
			}
			for _, d := range docs {
				cmd.Printf("%s  %-7s  %4d passages  %s\n", shortID(d.ID), d.Status, d.ChunkCount, d.Title)
			}
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [document-id]",
	Short: "Remove a paper from the index and the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Ingest.DeleteDocument(ctx, args[0]); err != nil {
				return err
			}
			cmd.Printf("Deleted: %s\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
