package dataset

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"english-eval-go/internal/actionable"
	"english-eval-go/internal/logger"
	"english-eval-go/internal/store"
	"english-eval-go/internal/types"
)

const (
	reportsSheet = "Reports"
	summarySheet = "Summary"
)

// Summary aggregates a set of evaluated reports.
type Summary struct {
	Total          int                         `json:"total"`
	AverageOverall float64                     `json:"average_overall"`
	ByBand         map[actionable.Band]int     `json:"by_band"`
	DimensionMeans map[types.Dimension]float64 `json:"dimension_means"`
}

func Summarize(records []store.Record) Summary {
	s := Summary{
		ByBand:         map[actionable.Band]int{},
		DimensionMeans: map[types.Dimension]float64{},
	}
	sumOverall := 0
	for _, rec := range records {
		if rec.Report == nil {
			continue
		}
		s.Total++
		sumOverall += rec.Report.OverallScore
		s.ByBand[actionable.BandFor(rec.Report.OverallScore)]++
		for _, d := range types.Dimensions {
			s.DimensionMeans[d] += float64(rec.Report.DimensionScores[d].Score)
		}
	}
	if s.Total == 0 {
		return s
	}
	s.AverageOverall = round1(float64(sumOverall) / float64(s.Total))
	for _, d := range types.Dimensions {
		s.DimensionMeans[d] = round1(s.DimensionMeans[d] / float64(s.Total))
	}
	return s
}

// ExportReports writes one row per evaluated report plus a summary sheet.
func ExportReports(path string, records []store.Record, loc *time.Location) (Summary, error) {
	log := logger.Component("dataset.export").WithField("path", path)
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), reportsSheet); err != nil {
		return Summary{}, fmt.Errorf("rename sheet: %w", err)
	}
	header := []any{"evaluation_id", "report_id", "employee_id", "filename", "evaluated_at", "overall_score", "band"}
	for _, d := range types.Dimensions {
		header = append(header, string(d))
	}
	header = append(header, "summary", "strengths", "improvements", "focus")
	if err := f.SetSheetRow(reportsSheet, "A1", &header); err != nil {
		return Summary{}, fmt.Errorf("write header: %w", err)
	}

	row := 2
	for _, rec := range records {
		if rec.Report == nil {
			continue
		}
		r := rec.Report
		vals := []any{
			rec.Evaluation.ID.String(),
			r.ID.String(),
			rec.Evaluation.Employee.ID,
			rec.Evaluation.Audio.Filename,
			rec.Evaluation.UpdatedAt.In(loc).Format(time.RFC3339),
			r.OverallScore,
			string(actionable.BandFor(r.OverallScore)),
		}
		for _, d := range types.Dimensions {
			vals = append(vals, r.DimensionScores[d].Score)
		}
		vals = append(vals, r.Summary, strings.Join(r.Strengths, "; "), strings.Join(r.Improvements, "; "), actionable.Generate(*r).Insight)

		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return Summary{}, err
		}
		if err := f.SetSheetRow(reportsSheet, cell, &vals); err != nil {
			return Summary{}, fmt.Errorf("write row %d: %w", row, err)
		}
		row++
	}

	sum := Summarize(records)
	if _, err := f.NewSheet(summarySheet); err != nil {
		return Summary{}, fmt.Errorf("add summary sheet: %w", err)
	}
	lines := [][]any{
		{"total_reports", sum.Total},
		{"average_overall", sum.AverageOverall},
	}
	for _, b := range []actionable.Band{actionable.BandPoor, actionable.BandAverage, actionable.BandGood, actionable.BandExcellent} {
		lines = append(lines, []any{"band_" + strings.ToLower(string(b)), sum.ByBand[b]})
	}
	for _, d := range types.Dimensions {
		lines = append(lines, []any{"mean_" + string(d), sum.DimensionMeans[d]})
	}
	for i, l := range lines {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &l); err != nil {
			return Summary{}, fmt.Errorf("write summary: %w", err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return Summary{}, fmt.Errorf("save workbook: %w", err)
	}
	log.WithField("reports", sum.Total).WithField("average_overall", sum.AverageOverall).Info("reports exported")
	return sum, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
