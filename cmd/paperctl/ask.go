package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"paperqa/internal/app"
	"paperqa/internal/rag"
)

var (
	askDocuments []string
	askTopK      int
	askProvider  string
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the indexed papers",
	Long: `Retrieves evidence for the question, drafts a cited answer and checks each
claim against the evidence. The answer is printed with its confidence and the
passages it cites.`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringSliceVarP(&askDocuments, "doc", "d", nil, "Restrict retrieval to these document IDs")
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "Number of evidence passages (default from config)")
	askCmd.Flags().StringVar(&askProvider, "provider", "", "Preferred LLM provider")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(args[0])
	if question == "" {
		return rag.ErrEmptyQuestion
	}
	if askTopK < 0 {
		return fmt.Errorf("top-k must not be negative")
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		answer, err := a.Engine.Ask(ctx, rag.Query{
			Question:          question,
			DocumentIDs:       askDocuments,
			TopK:              askTopK,
			PreferredProvider: askProvider,
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(cmd, answer)
		}
		printAnswer(cmd, answer)
		return nil
	})
}

func printAnswer(cmd *cobra.Command, answer rag.Answer) {
	cmd.Println(answer.Answer)
	if answer.Error != "" {
		cmd.Printf("\nError: %s\n", answer.Error)
		return
	}
	cmd.Printf("\nConfidence: %.2f\n", answer.Confidence)
	if len(answer.UnsupportedSpans) > 0 {
		cmd.Println("Unsupported claims:")
		for _, span := range answer.UnsupportedSpans {
			if span.Reason != "" {
				cmd.Printf("  - %s (%s)\n", span.Text, span.Reason)
			} else {
				cmd.Printf("  - %s\n", span.Text)
			}
		}
	}
	if len(answer.Citations) == 0 {
		return
	}
	cmd.Println("Citations:")
	for _, c := range answer.Citations {
		title := c.Title
		if title == "" {
			title = c.DocumentID
		}
		cmd.Printf("  [%s] %s, page %d (%s, score %.3f)\n", c.Handle, title, c.PageNumber, c.Section, c.Score)
	}
}
