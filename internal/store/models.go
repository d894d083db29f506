package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"english-eval-go/internal/types"
)

// evaluationRow maps the employee_evaluation table. employee_id points at
// the externally owned employee table and carries no constraint here.
type evaluationRow struct {
	ID             uuid.UUID  `gorm:"type:char(36);primaryKey"`
	EmployeeID     int64      `gorm:"not null;index"`
	Filename       string     `gorm:"column:original_filename;size:255;not null"`
	ContentType    string     `gorm:"size:100;not null"`
	FileSizeBytes  int64      `gorm:"not null"`
	LanguageCode   string     `gorm:"size:10;not null;default:'eng'"`
	Diarize        bool       `gorm:"not null;default:true"`
	TagAudioEvents bool       `gorm:"not null;default:true"`
	Transcription  *string    `gorm:"type:longtext"`
	Status         string     `gorm:"size:20;not null;index;default:'pending'"`
	FailureStage   string     `gorm:"size:20"`
	FailureKind    string     `gorm:"size:20"`
	FailureReason  string     `gorm:"type:text"`
	CreatedAt      time.Time  `gorm:"not null"`
	UpdatedAt      time.Time  `gorm:"not null"`
	CreatedBy      int64      `gorm:"not null"`
	UpdatedBy      int64      `gorm:"not null"`
	Report         *reportRow `gorm:"foreignKey:EvaluationID;references:ID;constraint:OnDelete:CASCADE"`
}

func (evaluationRow) TableName() string { return "employee_evaluation" }

type reportRow struct {
	ID                 uuid.UUID      `gorm:"type:char(36);primaryKey"`
	EvaluationID       uuid.UUID      `gorm:"type:char(36);not null;uniqueIndex"`
	OverallScore       int            `gorm:"not null"`
	DimensionScores    datatypes.JSON `gorm:"not null"`
	Summary            string         `gorm:"type:text;not null"`
	Strengths          datatypes.JSON `gorm:"not null"`
	Improvements       datatypes.JSON `gorm:"not null"`
	ActionPlan         datatypes.JSON `gorm:"not null"`
	RawProviderPayload datatypes.JSON
	CreatedAt          time.Time `gorm:"not null"`
	CreatedBy          int64     `gorm:"not null"`
}

func (reportRow) TableName() string { return "employee_evaluation_reports" }

func toEvaluationRow(ev types.Evaluation) evaluationRow {
	return evaluationRow{
		ID:             ev.ID,
		EmployeeID:     ev.Employee.ID,
		Filename:       ev.Audio.Filename,
		ContentType:    ev.Audio.ContentType,
		FileSizeBytes:  ev.Audio.SizeBytes,
		LanguageCode:   ev.Audio.LanguageCode,
		Diarize:        ev.Audio.Diarize,
		TagAudioEvents: ev.Audio.TagAudioEvents,
		Transcription:  ev.Transcription,
		Status:         string(ev.Status),
		FailureStage:   ev.FailureStage,
		FailureKind:    ev.FailureKind,
		FailureReason:  ev.FailureReason,
		CreatedAt:      ev.CreatedAt,
		UpdatedAt:      ev.UpdatedAt,
		CreatedBy:      ev.Employee.ID,
		UpdatedBy:      ev.Employee.ID,
	}
}

func (r evaluationRow) toEvaluation(loc *time.Location) types.Evaluation {
	return types.Evaluation{
		ID:       r.ID,
		Employee: types.EmployeeRef{ID: r.EmployeeID},
		Audio: types.AudioMetadata{
			Filename:       r.Filename,
			ContentType:    r.ContentType,
			SizeBytes:      r.FileSizeBytes,
			LanguageCode:   r.LanguageCode,
			Diarize:        r.Diarize,
			TagAudioEvents: r.TagAudioEvents,
		},
		Transcription: r.Transcription,
		Status:        types.Status(r.Status),
		FailureStage:  r.FailureStage,
		FailureKind:   r.FailureKind,
		FailureReason: r.FailureReason,
		CreatedAt:     r.CreatedAt.In(loc),
		UpdatedAt:     r.UpdatedAt.In(loc),
	}
}

func toReportRow(r types.Report, createdBy int64) (reportRow, error) {
	dims, err := json.Marshal(r.DimensionScores)
	if err != nil {
		return reportRow{}, fmt.Errorf("encoding dimension scores: %w", err)
	}
	strengths, err := json.Marshal(r.Strengths)
	if err != nil {
		return reportRow{}, fmt.Errorf("encoding strengths: %w", err)
	}
	improvements, err := json.Marshal(r.Improvements)
	if err != nil {
		return reportRow{}, fmt.Errorf("encoding improvements: %w", err)
	}
	plan, err := json.Marshal(r.ActionPlan)
	if err != nil {
		return reportRow{}, fmt.Errorf("encoding action plan: %w", err)
	}
	row := reportRow{
		ID:              r.ID,
		EvaluationID:    r.EvaluationID,
		OverallScore:    r.OverallScore,
		DimensionScores: datatypes.JSON(dims),
		Summary:         r.Summary,
		Strengths:       datatypes.JSON(strengths),
		Improvements:    datatypes.JSON(improvements),
		ActionPlan:      datatypes.JSON(plan),
		CreatedAt:       r.CreatedAt,
		CreatedBy:       createdBy,
	}
	if len(r.RawProviderPayload) > 0 {
		row.RawProviderPayload = datatypes.JSON(r.RawProviderPayload)
	}
	return row, nil
}

func (r reportRow) toReport(loc *time.Location) (types.Report, error) {
	rep := types.Report{
		ID:                 r.ID,
		EvaluationID:       r.EvaluationID,
		OverallScore:       r.OverallScore,
		Summary:            r.Summary,
		RawProviderPayload: json.RawMessage(r.RawProviderPayload),
		CreatedAt:          r.CreatedAt.In(loc),
	}
	if err := json.Unmarshal(r.DimensionScores, &rep.DimensionScores); err != nil {
		return types.Report{}, fmt.Errorf("decoding dimension scores: %w", err)
	}
	if err := json.Unmarshal(r.Strengths, &rep.Strengths); err != nil {
		return types.Report{}, fmt.Errorf("decoding strengths: %w", err)
	}
	if err := json.Unmarshal(r.Improvements, &rep.Improvements); err != nil {
		return types.Report{}, fmt.Errorf("decoding improvements: %w", err)
	}
	if err := json.Unmarshal(r.ActionPlan, &rep.ActionPlan); err != nil {
		return types.Report{}, fmt.Errorf("decoding action plan: %w", err)
	}
	return rep, nil
}
