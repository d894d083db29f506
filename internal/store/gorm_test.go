package store

import (
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"english-eval-go/internal/evalerr"
	"english-eval-go/internal/types"
)

// gormHarness runs GormStore against a file backed sqlite database. The
// report insert can be made to fail through a create callback.
type gormHarness struct {
	db         *gorm.DB
	store      *GormStore
	failReport atomic.Bool
}

func newGormHarness(t *testing.T) *gormHarness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "eval.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&evaluationRow{}, &reportRow{}))

	h := &gormHarness{db: db, store: NewGormStore(db, time.UTC)}
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:fail_report_insert", func(tx *gorm.DB) {
		if h.failReport.Load() && tx.Statement.Table == (reportRow{}).TableName() {
			_ = tx.AddError(errors.New("disk full"))
		}
	}))
	return h
}

func (h *gormHarness) pending(t *testing.T) types.Evaluation {
	t.Helper()
	ev := types.NewEvaluation(
		types.EmployeeRef{ID: 7, Email: "asha@example.com"},
		types.AudioMetadata{Filename: "a.mp3", ContentType: "audio/mpeg", SizeBytes: 2 << 20, LanguageCode: "eng", Diarize: true},
		time.Now(), time.UTC)
	require.NoError(t, h.store.CreateEvaluation(t.Context(), ev))
	return ev
}

func (h *gormHarness) reportRows(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(&reportRow{}).Count(&n).Error)
	return n
}

func TestGormStore_HappyPath(t *testing.T) {
	h := newGormHarness(t)
	ctx := t.Context()
	ev := h.pending(t)

	rec, err := h.store.GetEvaluation(ctx, ev.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusPending, rec.Evaluation.Status)
	require.Nil(t, rec.Evaluation.Transcription)
	require.Nil(t, rec.Report)

	require.NoError(t, h.store.MarkTranscribed(ctx, ev.ID, "Hello, my name is Asha.", time.Now()))
	report := sampleReport(ev.ID)
	report.RawProviderPayload = []byte(`{"overall_score":75}`)
	require.NoError(t, h.store.SaveEvaluated(ctx, ev.ID, "Hello, my name is Asha.", report, time.Now()))

	rec, err = h.store.GetEvaluation(ctx, ev.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusEvaluated, rec.Evaluation.Status)
	require.Equal(t, "Hello, my name is Asha.", *rec.Evaluation.Transcription)
	require.Equal(t, int64(7), rec.Evaluation.Employee.ID)
	require.NotNil(t, rec.Report)
	require.Equal(t, types.ReportID(ev.ID), rec.Report.ID)
	require.Equal(t, 75, rec.Report.OverallScore)
	require.Equal(t, report.DimensionScores, rec.Report.DimensionScores)
	require.Equal(t, []string{"clear"}, rec.Report.Strengths)
	require.Equal(t, report.ActionPlan, rec.Report.ActionPlan)
	require.JSONEq(t, `{"overall_score":75}`, string(rec.Report.RawProviderPayload))

	list, err := h.store.ListEvaluated(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].Report)
}

func TestGormStore_ReportInsertFailureRollsBack(t *testing.T) {
	h := newGormHarness(t)
	ctx := t.Context()
	ev := h.pending(t)
	require.NoError(t, h.store.MarkTranscribed(ctx, ev.ID, "text", time.Now()))

	h.failReport.Store(true)
	err := h.store.SaveEvaluated(ctx, ev.ID, "text", sampleReport(ev.ID), time.Now())
	require.Error(t, err)
	require.Equal(t, evalerr.KindPersistence, evalerr.KindOf(err))
	require.ErrorContains(t, err, "disk full")

	// the status update inside the transaction was rolled back with the insert
	rec, err := h.store.GetEvaluation(ctx, ev.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusTranscribed, rec.Evaluation.Status)
	require.Nil(t, rec.Report)
	require.Zero(t, h.reportRows(t))

	h.failReport.Store(false)
	require.NoError(t, h.store.SaveEvaluated(ctx, ev.ID, "text", sampleReport(ev.ID), time.Now()))
	err = h.store.SaveEvaluated(ctx, ev.ID, "text", sampleReport(ev.ID), time.Now())
	require.ErrorIs(t, err, ErrStatusConflict)
	require.Equal(t, int64(1), h.reportRows(t))
}

func TestGormStore_StatusNeverRegresses(t *testing.T) {
	h := newGormHarness(t)
	ctx := t.Context()
	ev := h.pending(t)

	// pending cannot jump to evaluated
	require.ErrorIs(t, h.store.SaveEvaluated(ctx, ev.ID, "text", sampleReport(ev.ID), time.Now()), ErrStatusConflict)
	require.Zero(t, h.reportRows(t))

	require.NoError(t, h.store.MarkFailed(ctx, ev.ID, Failure{Stage: "transcribing", Kind: "transcription", Reason: "timeout"}, time.Now()))
	require.ErrorIs(t, h.store.MarkTranscribed(ctx, ev.ID, "late", time.Now()), ErrStatusConflict)
	require.ErrorIs(t, h.store.MarkFailed(ctx, ev.ID, Failure{Stage: "extracting"}, time.Now()), ErrStatusConflict)
	require.ErrorIs(t, h.store.SaveEvaluated(ctx, ev.ID, "late", sampleReport(ev.ID), time.Now()), ErrStatusConflict)

	rec, err := h.store.GetEvaluation(ctx, ev.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusFailed, rec.Evaluation.Status)
	require.Equal(t, "transcribing", rec.Evaluation.FailureStage)
	require.Equal(t, "transcription", rec.Evaluation.FailureKind)
	require.Nil(t, rec.Evaluation.Transcription)
	require.Zero(t, h.reportRows(t))
}

func TestGormStore_EvaluatedIsTerminal(t *testing.T) {
	h := newGormHarness(t)
	ctx := t.Context()
	ev := h.pending(t)
	require.NoError(t, h.store.MarkTranscribed(ctx, ev.ID, "text", time.Now()))
	require.NoError(t, h.store.SaveEvaluated(ctx, ev.ID, "text", sampleReport(ev.ID), time.Now()))

	require.ErrorIs(t, h.store.MarkFailed(ctx, ev.ID, Failure{Stage: "persisting"}, time.Now()), ErrStatusConflict)
	require.ErrorIs(t, h.store.MarkTranscribed(ctx, ev.ID, "again", time.Now()), ErrStatusConflict)

	rec, err := h.store.GetEvaluation(ctx, ev.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusEvaluated, rec.Evaluation.Status)
	require.Equal(t, "text", *rec.Evaluation.Transcription)
}

func TestGormStore_NotFound(t *testing.T) {
	h := newGormHarness(t)
	_, err := h.store.GetEvaluation(t.Context(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, h.store.SaveEvaluated(t.Context(), uuid.New(), "x", sampleReport(uuid.New()), time.Now()), ErrNotFound)
}

func TestGormStore_ListEvaluatedSkipsUnfinished(t *testing.T) {
	h := newGormHarness(t)
	ctx := t.Context()

	done := h.pending(t)
	require.NoError(t, h.store.MarkTranscribed(ctx, done.ID, "text", time.Now()))
	require.NoError(t, h.store.SaveEvaluated(ctx, done.ID, "text", sampleReport(done.ID), time.Now()))

	failed := h.pending(t)
	require.NoError(t, h.store.MarkFailed(ctx, failed.ID, Failure{Stage: "transcribing"}, time.Now()))
	h.pending(t)

	list, err := h.store.ListEvaluated(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, done.ID, list[0].Evaluation.ID)
}
