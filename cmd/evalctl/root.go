package main

import (
	"github.com/spf13/cobra"

	"english-eval-go/internal/config"
	"english-eval-go/internal/logger"
)

var configFile string

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evalctl",
		Short: "Operate the English evaluation pipeline from the command line",
		Long: `evalctl drives the same evaluation pipeline as the HTTP service.

Use "batch" to evaluate the recordings listed in an Excel manifest and
"export" to write evaluated reports to an Excel workbook.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to english-eval.yaml (default: search ., ./configs, /etc/english-eval)")

	cmd.AddCommand(newBatchCommand())
	cmd.AddCommand(newExportCommand())

	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.App.Environment, cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}
