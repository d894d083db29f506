// Package evalerr is the failure taxonomy shared by every pipeline stage.
// An error keeps its Kind and Stage from the point it is raised to the
// HTTP response; nothing downstream re-wraps it into another kind.
package evalerr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuth          Kind = "auth"
	KindTranscription Kind = "transcription"
	KindEvaluation    Kind = "evaluation"
	KindPersistence   Kind = "persistence"
	KindInternal      Kind = "internal"
)

// Stage names the pipeline step an error originated in.
type Stage string

const (
	StageValidating   Stage = "validating"
	StageTranscribing Stage = "transcribing"
	StageExtracting   Stage = "extracting"
	StagePersisting   Stage = "persisting"
	StageAuth         Stage = "authenticating"
)

// Constraints reported by ValidationError.
const (
	ConstraintSize        = "size"
	ConstraintContentType = "content_type"
	ConstraintEmpty       = "empty"
	ConstraintOptions     = "options"
)

type Error struct {
	Kind    Kind
	Stage   Stage
	Field   string // violated constraint for validation errors
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + " error"
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: KindAuth}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Field == "" || t.Field == e.Field)
}

func Validation(constraint, format string, args ...any) *Error {
	return &Error{
		Kind:    KindValidation,
		Stage:   StageValidating,
		Field:   constraint,
		Message: fmt.Sprintf(format, args...),
	}
}

func Auth(message string, err error) *Error {
	return &Error{Kind: KindAuth, Stage: StageAuth, Message: message, Err: err}
}

// Transcription wraps the last provider error after retries ran out.
func Transcription(message string, last error) *Error {
	return &Error{Kind: KindTranscription, Stage: StageTranscribing, Message: message, Err: last}
}

func Evaluation(message string, last error) *Error {
	return &Error{Kind: KindEvaluation, Stage: StageExtracting, Message: message, Err: last}
}

func Persistence(message string, err error) *Error {
	return &Error{Kind: KindPersistence, Stage: StagePersisting, Message: message, Err: err}
}

func Internal(stage Stage, message string, err error) *Error {
	return &Error{Kind: KindInternal, Stage: stage, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// StageOf returns the originating stage, or "" for unclassified errors.
func StageOf(err error) Stage {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

// HTTPStatus maps an error to the status code surfaced to callers.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindAuth:
		return http.StatusUnauthorized
	case KindTranscription, KindEvaluation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the caller-facing text; internal causes are not exposed.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) || e.Kind == KindInternal || e.Kind == KindPersistence {
		return "internal server error"
	}
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind) + " failed"
}
