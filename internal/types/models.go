package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusTranscribed Status = "transcribed"
	StatusEvaluated   Status = "evaluated"
	StatusFailed      Status = "failed"
)

// CanAdvanceTo reports whether moving from s to next keeps the status
// monotonic: pending -> transcribed -> evaluated, or any non-terminal -> failed.
func (s Status) CanAdvanceTo(next Status) bool {
	switch next {
	case StatusTranscribed:
		return s == StatusPending
	case StatusEvaluated:
		return s == StatusTranscribed
	case StatusFailed:
		return s == StatusPending || s == StatusTranscribed
	}
	return false
}

// Terminal is true for evaluated and failed.
func (s Status) Terminal() bool {
	return s == StatusEvaluated || s == StatusFailed
}

// EmployeeRef points at a row of the externally owned employee table.
// This service reads it and never writes it.
type EmployeeRef struct {
	ID    int64  `json:"id"`
	Email string `json:"email,omitempty"`
}

type AudioMetadata struct {
	Filename       string `json:"filename"`
	ContentType    string `json:"content_type"`
	SizeBytes      int64  `json:"size_bytes"`
	LanguageCode   string `json:"language_code"`
	Diarize        bool   `json:"diarize"`
	TagAudioEvents bool   `json:"tag_audio_events"`
}

type Evaluation struct {
	ID            uuid.UUID     `json:"id"`
	Employee      EmployeeRef   `json:"employee"`
	Audio         AudioMetadata `json:"audio"`
	Transcription *string       `json:"transcription,omitempty"`
	Status        Status        `json:"status"`
	FailureStage  string        `json:"failure_stage,omitempty"`
	FailureKind   string        `json:"failure_kind,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// NewEvaluation builds a pending evaluation stamped in loc.
func NewEvaluation(employee EmployeeRef, audio AudioMetadata, now time.Time, loc *time.Location) Evaluation {
	ts := now.In(loc)
	return Evaluation{
		ID:        uuid.New(),
		Employee:  employee,
		Audio:     audio,
		Status:    StatusPending,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

type Dimension string

const (
	Fluency       Dimension = "fluency"
	Grammar       Dimension = "grammar"
	Pronunciation Dimension = "pronunciation"
	Vocabulary    Dimension = "vocabulary"
	Structure     Dimension = "structure"
)

// Dimensions is the fixed scoring set, in report order.
var Dimensions = []Dimension{Fluency, Grammar, Pronunciation, Vocabulary, Structure}

// IsDimension reports whether name is one of the five fixed dimensions.
func IsDimension(name string) bool {
	for _, d := range Dimensions {
		if string(d) == name {
			return true
		}
	}
	return false
}

type DimensionScore struct {
	Score int    `json:"score"`
	Notes string `json:"notes"`
}

type ActionItem struct {
	Item string `json:"item"`
	Why  string `json:"why"`
	How  string `json:"how"`
}

type Report struct {
	ID                 uuid.UUID                    `json:"id"`
	EvaluationID       uuid.UUID                    `json:"evaluation_id"`
	OverallScore       int                          `json:"overall_score"`
	DimensionScores    map[Dimension]DimensionScore `json:"dimension_scores"`
	Summary            string                       `json:"summary"`
	Strengths          []string                     `json:"strengths"`
	Improvements       []string                     `json:"improvements"`
	ActionPlan         []ActionItem                 `json:"action_plan"`
	RawProviderPayload json.RawMessage              `json:"raw_provider_payload,omitempty"`
	CreatedAt          time.Time                    `json:"created_at"`
}

// reportNamespace seeds report ids derived from their evaluation id.
var reportNamespace = uuid.MustParse("6f1c9a52-3a53-4d7c-9d0e-2b7f64c1e8a4")

// ReportID is the idempotency key for an evaluation's report: the same
// evaluation always yields the same report id.
func ReportID(evaluationID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(reportNamespace, evaluationID[:])
}

// CheckComplete verifies every fixed dimension is present with a score in [0,100].
func (r *Report) CheckComplete() error {
	for _, d := range Dimensions {
		ds, ok := r.DimensionScores[d]
		if !ok {
			return fmt.Errorf("dimension %s missing", d)
		}
		if ds.Score < 0 || ds.Score > 100 {
			return fmt.Errorf("dimension %s score %d out of range", d, ds.Score)
		}
	}
	if r.OverallScore < 0 || r.OverallScore > 100 {
		return fmt.Errorf("overall score %d out of range", r.OverallScore)
	}
	return nil
}

// Options are the caller supplied transcription hints.
type Options struct {
	LanguageCode   string `json:"language_code"`
	Diarize        bool   `json:"diarize"`
	TagAudioEvents bool   `json:"tag_audio_events"`
}

func DefaultOptions() Options {
	return Options{LanguageCode: "eng", Diarize: true, TagAudioEvents: true}
}

// Submission is one recording handed to the pipeline.
type Submission struct {
	Employee    EmployeeRef
	Filename    string
	ContentType string
	Size        int64
	Audio       []byte
	Options     Options
}

// Segment is provider specific per-speaker output, passed through untouched.
type Segment = json.RawMessage

type Transcript struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
}

// Result is what the pipeline returns on success.
type Result struct {
	EvaluationID  uuid.UUID `json:"evaluation_id"`
	ReportID      uuid.UUID `json:"report_id"`
	Transcription string    `json:"transcription"`
	Report        Report    `json:"report"`
}
