package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"paperqa/internal/app"
	"paperqa/internal/extract"
	"paperqa/internal/indexer"
	"paperqa/internal/library"
)

var ingestTitle string

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Ingest a paper file or a directory of papers",
	Long: `Extracts, chunks and indexes .md, .markdown and .txt papers.

A directory is scanned recursively. Papers whose content is already indexed are
skipped. The command fails if any paper could not be ingested.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestTitle, "title", "t", "", "Title for a single paper (default: recovered from the text)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := args[0]
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if info.IsDir() {
			return ingestDirectory(ctx, cmd, a, path)
		}
		return ingestFile(ctx, cmd, a, path)
	})
}

func ingestFile(ctx context.Context, cmd *cobra.Command, a *app.App, path string) error {
	pages, err := extract.File(path)
	if err != nil {
		return err
	}
	res, err := a.Ingest.Ingest(ctx, indexer.IngestRequest{
		Filename: path,
		Title:    ingestTitle,
		Pages:    pages,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd, res)
	}
	if res.Skipped {
		cmd.Printf("Already indexed: %s (%s)\n", res.Title, res.DocumentID)
		return nil
	}
	cmd.Printf("Indexed: %s\n", res.Title)
	cmd.Printf("  ID:       %s\n", res.DocumentID)
	cmd.Printf("  Pages:    %d\n", res.Pages)
	cmd.Printf("  Passages: %d\n", res.Passages)
	cmd.Printf("  Tokens:   min %d, max %d, mean %.1f, p95 %d\n",
		res.TokenStats.Min, res.TokenStats.Max, res.TokenStats.Mean, res.TokenStats.P95)
	return nil
}

func ingestDirectory(ctx context.Context, cmd *cobra.Command, a *app.App, dir string) error {
	lib, err := library.New(dir)
	if err != nil {
		return err
	}
	res, runErr := a.Ingest.IngestDirectory(ctx, lib)

	if jsonOutput {
		if err := printJSON(cmd, res); err != nil {
			return err
		}
	} else {
		cmd.Printf("Files: %d, indexed: %d, skipped: %d, failed: %d\n", res.Files, res.Indexed, res.Skipped, res.Failed)
	}
	return runErr
}
