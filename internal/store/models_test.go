package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"english-eval-go/internal/types"
)

func TestReportRowKeepsPayloadAndAudit(t *testing.T) {
	evID := uuid.New()
	rep := sampleReport(evID)
	rep.RawProviderPayload = []byte(`{"overall_score":75,"overall_band":"Good"}`)

	row, err := toReportRow(rep, 42)
	require.NoError(t, err)
	require.Equal(t, int64(42), row.CreatedBy)
	require.JSONEq(t, `{"overall_score":75,"overall_band":"Good"}`, string(row.RawProviderPayload))

	ist := time.FixedZone("IST", 5*3600+1800)
	back, err := row.toReport(ist)
	require.NoError(t, err)
	require.Equal(t, rep.DimensionScores, back.DimensionScores)
	require.Equal(t, rep.ActionPlan, back.ActionPlan)
	require.Equal(t, ist, back.CreatedAt.Location())
}

func TestEvaluationRowAuditColumns(t *testing.T) {
	ev := types.NewEvaluation(types.EmployeeRef{ID: 9}, types.AudioMetadata{Filename: "x.wav"}, time.Now(), time.UTC)
	row := toEvaluationRow(ev)
	require.Equal(t, int64(9), row.CreatedBy)
	require.Equal(t, int64(9), row.UpdatedBy)
	require.Equal(t, "pending", row.Status)
	require.Equal(t, "employee_evaluation", row.TableName())
	require.Equal(t, "employee_evaluation_reports", reportRow{}.TableName())
}
