package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"english-eval-go/internal/app"
	"english-eval-go/internal/auth"
	"english-eval-go/internal/dataset"
	"english-eval-go/internal/evalerr"
	"english-eval-go/internal/logger"
	"english-eval-go/internal/pipeline"
	"english-eval-go/internal/types"
)

var (
	manifestPath string
	stopOnError  bool
)

func newBatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Evaluate every recording listed in an Excel manifest",
		Long: `Evaluate the recordings listed in the first sheet of an Excel manifest.

The sheet needs an employee id column and an audio path column; a language
column is optional. Relative audio paths are resolved against the manifest's
directory. Rows run one after another through the evaluation pipeline.`,
		RunE: batchE,
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Excel manifest listing employee ids and audio files")
	cmd.Flags().BoolVar(&stopOnError, "stop-on-error", false, "Stop at the first failed row")
	_ = cmd.MarkFlagRequired("manifest")

	return cmd
}

func batchE(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rows, err := dataset.LoadManifest(manifestPath)
	if err != nil {
		return fmt.Errorf("loading manifest: %w", err)
	}

	a, err := app.Build(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	b := batch{
		runner:    a.Pipeline,
		directory: a.Directory,
		baseDir:   filepath.Dir(manifestPath),
		out:       cmd.OutOrStdout(),
		maxBytes:  cfg.Upload.MaxBytes(),
	}
	failed := b.run(cmd.Context(), rows)
	if failed > 0 {
		return fmt.Errorf("%d of %d row(s) failed", failed, len(rows))
	}
	return nil
}

type runner interface {
	Run(ctx context.Context, sub types.Submission) (pipeline.Outcome, error)
}

type batch struct {
	runner    runner
	directory auth.Directory
	baseDir   string
	out       io.Writer
	maxBytes  int64
}

// run evaluates rows in order and returns the number that failed.
func (b batch) run(ctx context.Context, rows []dataset.ManifestRow) int {
	log := logger.Component("evalctl.batch")
	failed := 0
	for _, row := range rows {
		rlog := log.WithField("row", row.Row).WithField("employee_id", row.EmployeeID)
		out, err := b.one(ctx, row)
		if err != nil {
			failed++
			rlog.WithError(err).WithField("kind", evalerr.KindOf(err)).Warn("row failed")
			fmt.Fprintf(b.out, "row %d: FAILED (%s) %s\n", row.Row, evalerr.KindOf(err), evalerr.PublicMessage(err))
			if stopOnError {
				break
			}
			continue
		}
		rlog.WithField("evaluation_id", out.EvaluationID).WithField("overall_score", out.Report.OverallScore).Info("row evaluated")
		fmt.Fprintf(b.out, "row %d: %s overall=%d (%s)\n", row.Row, out.EvaluationID, out.Report.OverallScore, out.OverallBand)
	}
	return failed
}

func (b batch) one(ctx context.Context, row dataset.ManifestRow) (pipeline.Outcome, error) {
	emp, err := b.directory.ActiveByID(ctx, row.EmployeeID)
	if err != nil {
		return pipeline.Outcome{}, evalerr.Auth("employee is not active", err)
	}

	path := row.AudioPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(b.baseDir, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return pipeline.Outcome{}, fmt.Errorf("audio file: %w", err)
	}
	sub := types.Submission{
		Employee: emp,
		Filename: filepath.Base(path),
		Size:     info.Size(),
		Options:  types.DefaultOptions(),
	}
	if row.LanguageCode != "" {
		sub.Options.LanguageCode = row.LanguageCode
	}
	// Oversized files go to the pipeline unread so they are rejected the
	// same way an oversized upload is.
	if b.maxBytes <= 0 || info.Size() <= b.maxBytes {
		if sub.Audio, err = os.ReadFile(path); err != nil {
			return pipeline.Outcome{}, fmt.Errorf("reading audio: %w", err)
		}
	}
	return b.runner.Run(ctx, sub)
}
