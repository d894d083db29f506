package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"english-eval-go/internal/aggregator"
	"english-eval-go/internal/config"
	"english-eval-go/internal/evalerr"
	"english-eval-go/internal/events"
	"english-eval-go/internal/extractor"
	"english-eval-go/internal/intake"
	"english-eval-go/internal/store"
	"english-eval-go/internal/transcription"
	"english-eval-go/internal/types"
)

const mb = 1024 * 1024

const reportJSON = `{
  "overall_score": 75,
  "summary": "Clear and organised, with recurring article errors.",
  "strengths": ["Clear articulation", "Logical flow"],
  "improvements": ["Article usage"],
  "fluency": {"score": 80, "notes": "Few hesitations."},
  "grammar": {"score": 65, "notes": "Drops articles."},
  "pronunciation": {"score": 78, "notes": "Intelligible."},
  "vocabulary": {"score": 82, "notes": "Varied."},
  "structure": {"score": 70, "notes": "Weak close."},
  "action_plan": [{"item": "Article drills", "why": "Credibility", "how": "Daily workbook"}]
}`

// providers stands up fake ElevenLabs and chat completion endpoints.
type providers struct {
	stt, chat           *httptest.Server
	sttCalls, chatCalls atomic.Int32
}

func newProviders(t *testing.T, stt http.HandlerFunc, chatContent func(call int32) string) *providers {
	t.Helper()
	p := &providers{}
	p.stt = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.sttCalls.Add(1)
		stt(w, r)
	}))
	p.chat = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := p.chatCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      fmt.Sprintf("chatcmpl-%d", n),
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": chatContent(n)}, "finish_reason": "stop"}},
		})
	}))
	t.Cleanup(p.stt.Close)
	t.Cleanup(p.chat.Close)
	return p
}

func helloTranscript(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte(`{"language_code":"eng","text":"Hello, my name is Asha and I lead the payments team.","words":[{"text":"Hello","speaker_id":"speaker_0"}]}`))
}

type harness struct {
	orch   *Orchestrator
	store  *store.MemoryStore
	events *events.Recorder
}

func newHarness(t *testing.T, p *providers, sttTimeout time.Duration) *harness {
	t.Helper()
	scoring := config.ScoringConfig{
		BaseURL: p.chat.URL, APIKey: "sk-test", Model: "gpt-4o", Timeout: time.Second,
		MaxAttempts: 2, RetryDelay: time.Millisecond, MaxCorrections: 2,
		ScorePolicy: "reject", OverallPolicy: "derive", OverallTolerance: 1,
	}
	prompts := extractor.NewPromptBuilder(nil)
	h := &harness{store: store.NewMemoryStore(), events: &events.Recorder{}}
	h.orch = New(Deps{
		Validator: intake.New(25*mb, config.DefaultContentTypes),
		Transcriber: transcription.New(config.TranscriptionConfig{
			BaseURL: p.stt.URL, APIKey: "xi-test", ModelID: "scribe_v1",
			Timeout: sttTimeout, MaxAttempts: 3, RetryDelay: time.Millisecond,
		}),
		Prompts:   prompts,
		Extractor: extractor.NewExtractor(extractor.NewOpenAIProvider(scoring), prompts, aggregator.Rule{Method: aggregator.MethodMean}, scoring),
		Store:     h.store,
		Events:    h.events,
		Location:  time.FixedZone("IST", 5*3600+1800),
	})
	return h
}

func mp3Submission(size int) types.Submission {
	audio := make([]byte, size)
	copy(audio, "ID3")
	return types.Submission{
		Employee:    types.EmployeeRef{ID: 7, Email: "asha@example.com"},
		Filename:    "standup.mp3",
		ContentType: "audio/mpeg",
		Size:        int64(size),
		Audio:       audio,
		Options:     types.Options{LanguageCode: "eng", Diarize: true, TagAudioEvents: true},
	}
}

func TestRun_EndToEnd(t *testing.T) {
	p := newProviders(t, helloTranscript, func(int32) string { return "```json\n" + reportJSON + "\n```" })
	h := newHarness(t, p, time.Second)

	out, err := h.orch.Run(t.Context(), mp3Submission(2*mb))
	require.NoError(t, err)

	require.NotZero(t, out.EvaluationID)
	require.Equal(t, types.ReportID(out.EvaluationID), out.ReportID)
	require.True(t, strings.HasPrefix(out.Transcription, "Hello, my name is"))
	require.Equal(t, 75, out.Report.OverallScore)
	require.Equal(t, "Good", string(out.OverallBand))
	require.Contains(t, out.Focus.Insight, "grammar")
	require.Len(t, out.Segments, 1)
	require.Equal(t, int32(1), p.sttCalls.Load())
	require.Equal(t, int32(1), p.chatCalls.Load())

	rec, err := h.store.GetEvaluation(t.Context(), out.EvaluationID)
	require.NoError(t, err)
	require.Equal(t, types.StatusEvaluated, rec.Evaluation.Status)
	require.Equal(t, out.Transcription, *rec.Evaluation.Transcription)
	require.Equal(t, "IST", rec.Evaluation.CreatedAt.Location().String())
	require.NotNil(t, rec.Report)
	require.Equal(t, 75, rec.Report.OverallScore)
	require.NoError(t, rec.Report.CheckComplete())
	require.JSONEq(t, reportJSON, string(rec.Report.RawProviderPayload))

	evs := h.events.Events()
	require.Len(t, evs, 1)
	require.Equal(t, events.TypeEvaluated, evs[0].Type)
}

func TestRun_OversizedRejectedBeforeAnyCall(t *testing.T) {
	p := newProviders(t, helloTranscript, func(int32) string { return reportJSON })
	h := newHarness(t, p, time.Second)

	sub := mp3Submission(16)
	sub.Size = 40 * mb

	_, err := h.orch.Run(t.Context(), sub)
	require.Error(t, err)
	require.Equal(t, evalerr.KindValidation, evalerr.KindOf(err))
	require.ErrorIs(t, err, &evalerr.Error{Kind: evalerr.KindValidation, Field: evalerr.ConstraintSize})
	require.Equal(t, http.StatusUnprocessableEntity, evalerr.HTTPStatus(err))

	evals, reports := h.store.Count()
	require.Zero(t, evals)
	require.Zero(t, reports)
	require.Zero(t, p.sttCalls.Load())
	require.Zero(t, p.chatCalls.Load())
	require.Empty(t, h.events.Events())
}

func TestRun_UnsupportedContentType(t *testing.T) {
	p := newProviders(t, helloTranscript, func(int32) string { return reportJSON })
	h := newHarness(t, p, time.Second)

	sub := mp3Submission(1024)
	sub.ContentType = "text/plain"
	_, err := h.orch.Run(t.Context(), sub)
	require.ErrorIs(t, err, &evalerr.Error{Kind: evalerr.KindValidation, Field: evalerr.ConstraintContentType})
	require.Zero(t, p.sttCalls.Load())
}

func TestRun_TranscriptionTimeoutNeverScores(t *testing.T) {
	release := make(chan struct{})
	p := newProviders(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}, func(int32) string { return reportJSON })
	t.Cleanup(func() { close(release) })
	h := newHarness(t, p, 20*time.Millisecond)

	_, err := h.orch.Run(t.Context(), mp3Submission(2*mb))
	require.Error(t, err)
	require.Equal(t, evalerr.KindTranscription, evalerr.KindOf(err))
	require.Equal(t, http.StatusBadGateway, evalerr.HTTPStatus(err))
	require.Equal(t, int32(3), p.sttCalls.Load())
	require.Zero(t, p.chatCalls.Load())

	rec := onlyEvaluation(t, h.store)
	require.Equal(t, types.StatusFailed, rec.Evaluation.Status)
	require.Nil(t, rec.Evaluation.Transcription)
	require.Equal(t, "transcribing", rec.Evaluation.FailureStage)
	require.Equal(t, "transcription", rec.Evaluation.FailureKind)
	require.Nil(t, rec.Report)

	evs := h.events.Events()
	require.Len(t, evs, 1)
	require.Equal(t, events.TypeFailed, evs[0].Type)
}

func TestRun_MissingFieldFailsEvaluation(t *testing.T) {
	broken := strings.Replace(reportJSON, `"summary": "Clear and organised, with recurring article errors.",`, "", 1)
	p := newProviders(t, helloTranscript, func(int32) string { return broken })
	h := newHarness(t, p, time.Second)

	_, err := h.orch.Run(t.Context(), mp3Submission(2*mb))
	require.Error(t, err)
	require.Equal(t, evalerr.KindEvaluation, evalerr.KindOf(err))
	require.Contains(t, err.Error(), "summary")
	require.Equal(t, int32(3), p.chatCalls.Load()) // first try plus two corrections

	rec := onlyEvaluation(t, h.store)
	require.Equal(t, types.StatusFailed, rec.Evaluation.Status)
	require.Equal(t, "extracting", rec.Evaluation.FailureStage)
	require.NotNil(t, rec.Evaluation.Transcription)
	require.Nil(t, rec.Report)
	_, reports := h.store.Count()
	require.Zero(t, reports)
}

func TestRun_PersistenceFailureIsNotRetried(t *testing.T) {
	p := newProviders(t, helloTranscript, func(int32) string { return reportJSON })
	h := newHarness(t, p, time.Second)
	h.store.FailOn(store.OpInsertReport, errors.New("lock wait timeout"))

	_, err := h.orch.Run(t.Context(), mp3Submission(2*mb))
	require.Error(t, err)
	require.Equal(t, evalerr.KindPersistence, evalerr.KindOf(err))
	require.Equal(t, http.StatusInternalServerError, evalerr.HTTPStatus(err))
	require.Equal(t, int32(1), p.chatCalls.Load())

	rec := onlyEvaluation(t, h.store)
	require.Equal(t, types.StatusFailed, rec.Evaluation.Status)
	require.Equal(t, "persisting", rec.Evaluation.FailureStage)
	require.Nil(t, rec.Report)
}

func TestRun_CallerCancellationDoesNotAbortProviders(t *testing.T) {
	p := newProviders(t, helloTranscript, func(int32) string { return reportJSON })
	h := newHarness(t, p, time.Second)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	out, err := h.orch.Run(ctx, mp3Submission(2*mb))
	require.NoError(t, err)
	require.Equal(t, 75, out.Report.OverallScore)
}

type stubTranscriber struct{ err error }

func (s stubTranscriber) Transcribe(context.Context, transcription.Request) (types.Transcript, error) {
	return types.Transcript{Text: "hello"}, s.err
}

type stubExtractor struct{ err error }

func (s stubExtractor) Extract(context.Context, extractor.Prompt) (types.Report, error) {
	return types.Report{}, s.err
}

func TestRun_UnclassifiedErrorRecordedAsInternal(t *testing.T) {
	st := store.NewMemoryStore()
	o := New(Deps{
		Validator:   intake.New(25*mb, config.DefaultContentTypes),
		Transcriber: stubTranscriber{},
		Extractor:   stubExtractor{err: errors.New("nil map write")},
		Store:       st,
	})

	_, err := o.Run(t.Context(), mp3Submission(1024))
	require.Error(t, err)
	require.Equal(t, http.StatusInternalServerError, evalerr.HTTPStatus(err))

	rec := onlyEvaluation(t, st)
	require.Equal(t, types.StatusFailed, rec.Evaluation.Status)
	require.Equal(t, "extracting", rec.Evaluation.FailureStage)
	require.Equal(t, "internal", rec.Evaluation.FailureKind)
}

func TestRun_CreateFailureLeavesNoRecord(t *testing.T) {
	st := store.NewMemoryStore()
	st.FailOn(store.OpCreate, errors.New("connection refused"))
	o := New(Deps{
		Validator:   intake.New(25*mb, config.DefaultContentTypes),
		Transcriber: stubTranscriber{err: errors.New("must not be called")},
		Extractor:   stubExtractor{},
		Store:       st,
	})

	_, err := o.Run(t.Context(), mp3Submission(1024))
	require.Equal(t, evalerr.KindPersistence, evalerr.KindOf(err))
	evals, _ := st.Count()
	require.Zero(t, evals)
}

func onlyEvaluation(t *testing.T, s *store.MemoryStore) store.Record {
	t.Helper()
	evals, _ := s.Count()
	require.Equal(t, 1, evals)
	rec, err := s.GetEvaluation(t.Context(), s.IDs()[0])
	require.NoError(t, err)
	return rec
}
