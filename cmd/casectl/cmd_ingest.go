package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/caseindex/internal/bootstrap"
	"github.com/kirillkom/caseindex/internal/config"
	"github.com/kirillkom/caseindex/internal/core/domain"
	"github.com/kirillkom/caseindex/internal/core/ports"
	"github.com/kirillkom/caseindex/internal/infrastructure/source/jsonl"
)

var ingestFlags struct {
	dataset    string
	file       string
	backends   string
	batchLimit int
	dryRun     bool
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a JSONL file of case payloads as one run",
	RunE:  runIngest,
}

func init() {
	f := ingestCmd.Flags()
	f.StringVar(&ingestFlags.dataset, "dataset", "", "Dataset name the cases belong to (required)")
	f.StringVarP(&ingestFlags.file, "file", "f", "-", "JSONL payload file, - for stdin")
	f.StringVar(&ingestFlags.backends, "backends", "", "Comma separated backends (default INGEST_BACKENDS)")
	f.IntVar(&ingestFlags.batchLimit, "batch-limit", 0, "Stop after this many payloads (default INGEST_BATCH_LIMIT, 0 = all)")
	f.BoolVar(&ingestFlags.dryRun, "dry-run", false, "Normalize only, write nothing")

	_ = ingestCmd.MarkFlagRequired("dataset")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), func(cfg config.Config, app *bootstrap.App) error {
		rawBackends := ingestFlags.backends
		if rawBackends == "" {
			rawBackends = cfg.IngestBackends
		}
		backends, err := domain.ParseBackends(rawBackends)
		if err != nil {
			return err
		}
		batchLimit := ingestFlags.batchLimit
		if !cmd.Flags().Changed("batch-limit") {
			batchLimit = cfg.IngestBatchLimit
		}

		var src *jsonl.Source
		if ingestFlags.file == "-" {
			src = jsonl.NewReader(cmd.InOrStdin())
		} else {
			src, err = jsonl.Open(ingestFlags.file)
			if err != nil {
				return fmt.Errorf("open payloads: %w", err)
			}
		}
		defer src.Close()

		run, err := app.IngestUC.Ingest(cmd.Context(), ports.IngestRequest{
			Dataset:    ingestFlags.dataset,
			Source:     src,
			Backends:   backends,
			BatchLimit: batchLimit,
			DryRun:     ingestFlags.dryRun,
		})
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), run); err != nil {
			return err
		}
		if run.Status == domain.RunFailed {
			return fmt.Errorf("run %s failed: %s", run.RunID, run.LastError)
		}
		return nil
	})
}
