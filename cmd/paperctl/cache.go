package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"paperqa/internal/app"
)

var errNoCache = errors.New("response cache is not configured (set REDIS_URL)")

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the LLM response cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached completion",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if a.Cache == nil {
				return errNoCache
			}
			deleted, err := a.Cache.Clear(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("Cleared %d cached responses\n", deleted)
			return nil
		})
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
