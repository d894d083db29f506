package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"english-eval-go/internal/app"
	"english-eval-go/internal/dataset"
)

var (
	exportOut   string
	exportLimit int
)

func newExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write evaluated reports to an Excel workbook",
		RunE:  exportE,
	}

	cmd.Flags().StringVar(&exportOut, "out", "reports.xlsx", "Output workbook")
	cmd.Flags().IntVar(&exportLimit, "limit", 1000, "Maximum number of reports, oldest first")

	return cmd
}

func exportE(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Build(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.Store.ListEvaluated(cmd.Context(), exportLimit)
	if err != nil {
		return fmt.Errorf("listing reports: %w", err)
	}
	sum, err := dataset.ExportReports(exportOut, records, cfg.Location())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d report(s) to %s (average overall %.1f)\n", sum.Total, exportOut, sum.AverageOverall)
	return nil
}
