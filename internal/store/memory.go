package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"english-eval-go/internal/evalerr"
	"english-eval-go/internal/types"
)

// Op names a MemoryStore write step for fault injection.
type Op string

const (
	OpCreate          Op = "create"
	OpMarkTranscribed Op = "mark_transcribed"
	OpUpdateEvaluated Op = "update_evaluated"
	OpInsertReport    Op = "insert_report"
	OpMarkFailed      Op = "mark_failed"
)

// MemoryStore keeps evaluations in process with the same status rules
// and all-or-nothing report write as GormStore. It backs local runs and
// tests.
type MemoryStore struct {
	mu          sync.RWMutex
	evaluations map[uuid.UUID]types.Evaluation
	reports     map[uuid.UUID]types.Report // by evaluation id
	reportIDs   map[uuid.UUID]struct{}
	faults      map[Op]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		evaluations: make(map[uuid.UUID]types.Evaluation),
		reports:     make(map[uuid.UUID]types.Report),
		reportIDs:   make(map[uuid.UUID]struct{}),
		faults:      make(map[Op]error),
	}
}

// FailOn makes every later op step fail with err. A nil err clears it.
func (s *MemoryStore) FailOn(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

func (s *MemoryStore) CreateEvaluation(_ context.Context, ev types.Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.faults[OpCreate]; err != nil {
		return evalerr.Persistence("creating evaluation", err)
	}
	if _, ok := s.evaluations[ev.ID]; ok {
		return evalerr.Persistence("creating evaluation", fmt.Errorf("duplicate evaluation id %s", ev.ID))
	}
	s.evaluations[ev.ID] = ev
	return nil
}

func (s *MemoryStore) MarkTranscribed(_ context.Context, id uuid.UUID, transcript string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.faults[OpMarkTranscribed]; err != nil {
		return evalerr.Persistence("marking evaluation transcribed", err)
	}
	ev, err := s.advance(id, types.StatusTranscribed)
	if err != nil {
		return evalerr.Persistence("marking evaluation transcribed", err)
	}
	ev.Transcription = &transcript
	ev.UpdatedAt = at
	s.evaluations[id] = ev
	return nil
}

// SaveEvaluated stages the evaluation update and the report insert on
// copies and publishes both only when every step succeeded.
func (s *MemoryStore) SaveEvaluated(_ context.Context, id uuid.UUID, transcript string, report types.Report, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, err := s.advance(id, types.StatusEvaluated)
	if err != nil {
		return evalerr.Persistence("saving evaluated report", err)
	}
	if err := s.faults[OpUpdateEvaluated]; err != nil {
		return evalerr.Persistence("saving evaluated report", fmt.Errorf("updating evaluation: %w", err))
	}
	ev.Transcription = &transcript
	ev.UpdatedAt = at

	if err := s.faults[OpInsertReport]; err != nil {
		return evalerr.Persistence("saving evaluated report", fmt.Errorf("inserting report: %w", err))
	}
	if _, dup := s.reportIDs[report.ID]; dup {
		return evalerr.Persistence("saving evaluated report", fmt.Errorf("inserting report: duplicate report id %s", report.ID))
	}
	if _, dup := s.reports[id]; dup {
		return evalerr.Persistence("saving evaluated report", fmt.Errorf("inserting report: evaluation %s already has a report", id))
	}

	s.evaluations[id] = ev
	s.reports[id] = report
	s.reportIDs[report.ID] = struct{}{}
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, f Failure, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.faults[OpMarkFailed]; err != nil {
		return evalerr.Persistence("marking evaluation failed", err)
	}
	ev, err := s.advance(id, types.StatusFailed)
	if err != nil {
		return evalerr.Persistence("marking evaluation failed", err)
	}
	ev.FailureStage = f.Stage
	ev.FailureKind = f.Kind
	ev.FailureReason = truncateReason(f.Reason)
	ev.UpdatedAt = at
	s.evaluations[id] = ev
	return nil
}

func (s *MemoryStore) GetEvaluation(_ context.Context, id uuid.UUID) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.evaluations[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return s.record(ev), nil
}

func (s *MemoryStore) ListEvaluated(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, ev := range s.evaluations {
		if ev.Status == types.StatusEvaluated {
			out = append(out, s.record(ev))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Evaluation.CreatedAt.Before(out[j].Evaluation.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of stored evaluations and reports.
func (s *MemoryStore) Count() (evaluations, reports int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.evaluations), len(s.reports)
}

// IDs lists every stored evaluation id, oldest first.
func (s *MemoryStore) IDs() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evs := make([]types.Evaluation, 0, len(s.evaluations))
	for _, ev := range s.evaluations {
		evs = append(evs, ev)
	}
	sort.Slice(evs, func(i, j int) bool { return evs[i].CreatedAt.Before(evs[j].CreatedAt) })
	ids := make([]uuid.UUID, len(evs))
	for i, ev := range evs {
		ids[i] = ev.ID
	}
	return ids
}

// advance returns a copy of the evaluation if it may move to next.
func (s *MemoryStore) advance(id uuid.UUID, next types.Status) (types.Evaluation, error) {
	ev, ok := s.evaluations[id]
	if !ok {
		return types.Evaluation{}, ErrNotFound
	}
	if !ev.Status.CanAdvanceTo(next) {
		return types.Evaluation{}, fmt.Errorf("%w: %s -> %s", ErrStatusConflict, ev.Status, next)
	}
	ev.Status = next
	return ev, nil
}

func (s *MemoryStore) record(ev types.Evaluation) Record {
	rec := Record{Evaluation: ev}
	if r, ok := s.reports[ev.ID]; ok {
		rec.Report = &r
	}
	return rec
}
