// Package dataset reads batch manifests from and writes evaluation
// reports to Excel workbooks.
package dataset

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"english-eval-go/internal/logger"
)

// ManifestRow is one recording to evaluate in a batch.
type ManifestRow struct {
	Row          int // 1-based sheet row, for error reports
	EmployeeID   int64
	AudioPath    string
	LanguageCode string
}

// LoadManifest reads the first sheet. Columns are found by header name:
// employee id, audio path and an optional language code. Rows without a
// numeric employee id or an audio path are skipped with a warning.
func LoadManifest(path string) ([]ManifestRow, error) {
	log := logger.Component("dataset.manifest").WithField("path", path)

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, fmt.Errorf("no data rows")
	}

	employeeIdx, audioIdx, langIdx := -1, -1, -1
	for i, h := range rows[0] {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "employee") || l == "emp_id":
			if employeeIdx == -1 {
				employeeIdx = i
			}
		case strings.Contains(l, "audio") || strings.Contains(l, "path") || strings.Contains(l, "file"):
			if audioIdx == -1 {
				audioIdx = i
			}
		case strings.Contains(l, "lang"):
			langIdx = i
		}
	}
	if employeeIdx == -1 || audioIdx == -1 {
		return nil, fmt.Errorf("manifest needs employee id and audio path columns, got %v", rows[0])
	}

	var out []ManifestRow
	for i, r := range rows[1:] {
		rowNum := i + 2
		rec := ManifestRow{Row: rowNum}
		if employeeIdx < len(r) {
			rec.EmployeeID, err = strconv.ParseInt(strings.TrimSpace(r[employeeIdx]), 10, 64)
			if err != nil {
				log.WithField("row", rowNum).Warn("skipping row without numeric employee id")
				continue
			}
		}
		if audioIdx < len(r) {
			rec.AudioPath = strings.TrimSpace(r[audioIdx])
		}
		if langIdx >= 0 && langIdx < len(r) {
			rec.LanguageCode = strings.TrimSpace(r[langIdx])
		}
		if rec.EmployeeID == 0 || rec.AudioPath == "" {
			log.WithField("row", rowNum).Warn("skipping incomplete row")
			continue
		}
		out = append(out, rec)
	}
	log.WithField("rows", len(out)).Info("manifest loaded")
	return out, nil
}
