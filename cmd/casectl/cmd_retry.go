package main

import (
	"github.com/spf13/cobra"

	"github.com/kirillkom/caseindex/internal/bootstrap"
	"github.com/kirillkom/caseindex/internal/config"
	"github.com/kirillkom/caseindex/internal/core/ports"
)

var retryFlags struct {
	batchLimit int
	dryRun     bool
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Replay one batch of queued backend writes",
	RunE:  runRetry,
}

var deadLettersFlags struct {
	limit int
}

var deadLettersCmd = &cobra.Command{
	Use:   "dead-letters",
	Short: "List entries dropped after exhausting their attempts",
	RunE:  runDeadLetters,
}

func init() {
	f := retryCmd.Flags()
	f.IntVar(&retryFlags.batchLimit, "batch-limit", 0, "Entries to claim (default RETRY_BATCH_LIMIT)")
	f.BoolVar(&retryFlags.dryRun, "dry-run", false, "Report eligible entries without claiming them")

	deadLettersCmd.Flags().IntVar(&deadLettersFlags.limit, "limit", 50, "Maximum entries to list")
	retryCmd.AddCommand(deadLettersCmd)
}

func runRetry(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), func(_ config.Config, app *bootstrap.App) error {
		report, err := app.RetryUC.Drain(cmd.Context(), ports.RetryRequest{
			BatchLimit: retryFlags.batchLimit,
			DryRun:     retryFlags.dryRun,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	})
}

func runDeadLetters(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), func(_ config.Config, app *bootstrap.App) error {
		limit := deadLettersFlags.limit
		if limit <= 0 {
			limit = 50
		}
		letters, err := app.RetryQueue.ListDeadLetters(cmd.Context(), limit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), letters)
	})
}
