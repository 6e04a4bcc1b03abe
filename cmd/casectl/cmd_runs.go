package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/caseindex/internal/bootstrap"
	"github.com/kirillkom/caseindex/internal/config"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect ingestion runs",
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run_id>",
	Short: "Print one run and its counters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(_ config.Config, app *bootstrap.App) error {
			run, err := app.Runs.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), run)
		})
	},
}

var runsLatestFlags struct {
	dataset string
}

var runsLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Print the most recent run of a dataset",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if runsLatestFlags.dataset == "" {
			return fmt.Errorf("--dataset is required")
		}
		return withApp(cmd.Context(), func(_ config.Config, app *bootstrap.App) error {
			run, err := app.Runs.LatestRun(cmd.Context(), runsLatestFlags.dataset)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), run)
		})
	},
}

func init() {
	runsLatestCmd.Flags().StringVar(&runsLatestFlags.dataset, "dataset", "", "Dataset name")
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsLatestCmd)
}
