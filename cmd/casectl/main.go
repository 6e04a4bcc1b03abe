// casectl runs the batch side of caseindex from a shell or a cron job.
//
// Usage:
//
//	casectl ingest --dataset=<name> [--file=<path|->] [--backends=structured,document,search] [--batch-limit=N] [--dry-run]
//	casectl retry [--batch-limit=N] [--dry-run]
//	casectl retry dead-letters [--limit=N]
//	casectl runs show <run_id>
//	casectl runs latest --dataset=<name>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "casectl",
	Short: "Ingest fraud cases and manage the retry queue",
	Long:  "casectl loads case payloads into the structured, document and search backends,\nreplays queued writes and inspects ingestion runs.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.Version = version
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
