// Package store persists evaluations and their reports. Write failures
// surface as persistence errors; nothing here retries.
package store

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"english-eval-go/internal/types"
)

var (
	ErrNotFound = errors.New("evaluation not found")
	// ErrStatusConflict means the evaluation was not in the status the write expects.
	ErrStatusConflict = errors.New("evaluation status conflict")
)

// Record is an evaluation with its report, if it has one.
type Record struct {
	Evaluation types.Evaluation
	Report     *types.Report
}

// Store is the persistence capability used by the pipeline and the read path.
//
// Status moves forward only. CreateEvaluation writes a pending row,
// MarkTranscribed moves pending to transcribed, SaveEvaluated moves
// transcribed to evaluated and inserts the report in one transaction,
// and MarkFailed ends any non-terminal evaluation.
type Store interface {
	CreateEvaluation(ctx context.Context, ev types.Evaluation) error
	MarkTranscribed(ctx context.Context, id uuid.UUID, transcript string, at time.Time) error
	SaveEvaluated(ctx context.Context, id uuid.UUID, transcript string, report types.Report, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, f Failure, at time.Time) error
	GetEvaluation(ctx context.Context, id uuid.UUID) (Record, error)
	ListEvaluated(ctx context.Context, limit int) ([]Record, error)
}

// Failure is what gets recorded on an evaluation that did not finish.
type Failure struct {
	Stage  string
	Kind   string
	Reason string
}

const maxReasonLen = 1000

// truncateReason caps s at maxReasonLen bytes without splitting a rune.
func truncateReason(s string) string {
	if len(s) <= maxReasonLen {
		return s
	}
	n := maxReasonLen
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
