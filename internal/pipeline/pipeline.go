// Package pipeline runs one recording through validation, transcription,
// report extraction and persistence, recording where it stopped if it
// does not finish.
package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"english-eval-go/internal/actionable"
	"english-eval-go/internal/evalerr"
	"english-eval-go/internal/events"
	"english-eval-go/internal/extractor"
	"english-eval-go/internal/intake"
	"english-eval-go/internal/logger"
	"english-eval-go/internal/store"
	"english-eval-go/internal/transcription"
	"english-eval-go/internal/types"
)

type Transcriber interface {
	Transcribe(ctx context.Context, req transcription.Request) (types.Transcript, error)
}

type ReportExtractor interface {
	Extract(ctx context.Context, prompt extractor.Prompt) (types.Report, error)
}

// Outcome is a successful run plus the derived band and focus card.
type Outcome struct {
	types.Result
	OverallBand actionable.Band       `json:"overall_band"`
	Focus       actionable.ActionCard `json:"focus"`
	Segments    []types.Segment       `json:"segments,omitempty"`
	DurationMs  int64                 `json:"duration_ms"`
}

type Deps struct {
	Validator   *intake.Validator
	Transcriber Transcriber
	Prompts     *extractor.PromptBuilder
	Extractor   ReportExtractor
	Store       store.Store
	Events      events.Publisher
	Location    *time.Location
	Now         func() time.Time
}

type Orchestrator struct {
	validator   *intake.Validator
	transcriber Transcriber
	prompts     *extractor.PromptBuilder
	extractor   ReportExtractor
	store       store.Store
	events      events.Publisher
	loc         *time.Location
	now         func() time.Time
}

func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		validator:   d.Validator,
		transcriber: d.Transcriber,
		prompts:     d.Prompts,
		extractor:   d.Extractor,
		store:       d.Store,
		events:      d.Events,
		loc:         d.Location,
		now:         d.Now,
	}
	if o.events == nil {
		o.events = events.Noop{}
	}
	if o.loc == nil {
		o.loc = time.UTC
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.prompts == nil {
		o.prompts = extractor.NewPromptBuilder(nil)
	}
	return o
}

// run carries the per-request state through the stages.
type run struct {
	o     *Orchestrator
	ev    types.Evaluation
	stage evalerr.Stage
	log   *logrus.Entry
	start time.Time
}

// Run evaluates one submission. Stages run strictly in order; a failing
// stage marks the evaluation failed and its error is returned unchanged.
// Cancelling ctx does not abort provider calls already started, they
// finish or hit their own timeouts.
func (o *Orchestrator) Run(ctx context.Context, sub types.Submission) (Outcome, error) {
	start := o.now()
	log := logger.Component("pipeline").WithFields(logrus.Fields{
		"employee_id": sub.Employee.ID,
		"filename":    sub.Filename,
	})

	// Validating
	size := sub.Size
	if size == 0 {
		size = int64(len(sub.Audio))
	}
	contentType, err := o.validator.Validate(size, intake.ResolveContentType(sub.ContentType, head(sub.Audio)))
	if err != nil {
		log.WithField("stage", evalerr.StageValidating).WithField("error", err.Error()).Warn("submission rejected")
		return Outcome{}, err
	}

	ctx = context.WithoutCancel(ctx)

	opts := sub.Options
	if opts.LanguageCode == "" {
		opts.LanguageCode = types.DefaultOptions().LanguageCode
	}
	ev := types.NewEvaluation(sub.Employee, types.AudioMetadata{
		Filename:       sub.Filename,
		ContentType:    contentType,
		SizeBytes:      size,
		LanguageCode:   opts.LanguageCode,
		Diarize:        opts.Diarize,
		TagAudioEvents: opts.TagAudioEvents,
	}, start, o.loc)
	if err := o.store.CreateEvaluation(ctx, ev); err != nil {
		log.WithField("error", err.Error()).Error("could not create evaluation")
		return Outcome{}, err
	}

	r := &run{o: o, ev: ev, start: start, log: log.WithField("evaluation_id", ev.ID.String())}
	r.log.Info("evaluation created")

	// Transcribing
	r.enter(evalerr.StageTranscribing)
	transcript, err := o.transcriber.Transcribe(ctx, transcription.Request{
		Filename:    sub.Filename,
		ContentType: contentType,
		Audio:       sub.Audio,
		Options:     opts,
	})
	if err != nil {
		return Outcome{}, r.fail(ctx, err)
	}
	if err := o.store.MarkTranscribed(ctx, ev.ID, transcript.Text, o.now().In(o.loc)); err != nil {
		return Outcome{}, r.fail(ctx, err)
	}
	r.ev.Status = types.StatusTranscribed
	r.log.WithField("transcript_length", len(transcript.Text)).Info("transcribed")
	r.log.WithField("transcript", transcript.Text).Debug("transcript text")

	// Extracting
	r.enter(evalerr.StageExtracting)
	report, err := o.extractor.Extract(ctx, o.prompts.Build(transcript.Text))
	if err != nil {
		return Outcome{}, r.fail(ctx, err)
	}
	report.ID = types.ReportID(ev.ID)
	report.EvaluationID = ev.ID
	report.CreatedAt = o.now().In(o.loc)

	// Persisting
	r.enter(evalerr.StagePersisting)
	if err := o.store.SaveEvaluated(ctx, ev.ID, transcript.Text, report, report.CreatedAt); err != nil {
		return Outcome{}, r.fail(ctx, err)
	}
	r.ev.Status = types.StatusEvaluated

	r.publish(ctx, events.Evaluated(r.ev, report, report.CreatedAt))

	out := Outcome{
		Result: types.Result{
			EvaluationID:  ev.ID,
			ReportID:      report.ID,
			Transcription: transcript.Text,
			Report:        report,
		},
		OverallBand: actionable.BandFor(report.OverallScore),
		Focus:       actionable.Generate(report),
		Segments:    transcript.Segments,
		DurationMs:  o.now().Sub(start).Milliseconds(),
	}
	r.log.WithFields(logrus.Fields{
		"report_id":     report.ID.String(),
		"overall_score": report.OverallScore,
		"duration_ms":   out.DurationMs,
	}).Info("evaluation completed")
	return out, nil
}

func (r *run) enter(stage evalerr.Stage) {
	r.stage = stage
	r.log.WithField("stage", stage).WithField("elapsed_ms", r.o.now().Sub(r.start).Milliseconds()).Debug("entering stage")
}

// fail records the failing stage and error kind on the evaluation and
// returns err as is. A failure to record is logged, not returned, so the
// caller still sees the original error.
func (r *run) fail(ctx context.Context, err error) error {
	kind := evalerr.KindOf(err)
	at := r.o.now().In(r.o.loc)

	entry := r.log.WithFields(logrus.Fields{
		"stage":      r.stage,
		"error_kind": kind,
		"error":      err.Error(),
	})
	entry.Error("evaluation failed")

	f := store.Failure{Stage: string(r.stage), Kind: string(kind), Reason: err.Error()}
	if markErr := r.o.store.MarkFailed(ctx, r.ev.ID, f, at); markErr != nil {
		entry.WithField("mark_error", markErr.Error()).Error("could not record failure on evaluation")
	} else {
		r.ev.Status = types.StatusFailed
	}

	r.publish(ctx, events.Failed(r.ev, string(r.stage), string(kind), at))
	return err
}

func (r *run) publish(ctx context.Context, e events.Event) {
	if err := r.o.events.Publish(ctx, e); err != nil {
		r.log.WithField("event", e.Type).WithField("error", err.Error()).Warn("could not publish event")
	}
}

func head(b []byte) []byte {
	if len(b) > 512 {
		return b[:512]
	}
	return b
}
