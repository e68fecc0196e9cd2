package runstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xiaohan0616/acpd/internal/domain"
)

// MemoryStore is the in-memory run store. One mutex guards all four maps so
// that check-then-act sequences cannot interleave; no call ever holds the
// lock across external work.
type MemoryStore struct {
	mu       sync.Mutex
	runs     map[string]*domain.Run
	events   map[string][]domain.Event
	cancels  map[string]context.CancelFunc
	awaiting map[string]domain.AwaitMetadata
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:     make(map[string]*domain.Run),
		events:   make(map[string][]domain.Event),
		cancels:  make(map[string]context.CancelFunc),
		awaiting: make(map[string]domain.AwaitMetadata),
	}
}

func (s *MemoryStore) Create(_ context.Context, run *domain.Run, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *run
	s.runs[run.RunID] = &stored
	s.events[run.RunID] = []domain.Event{}
	s.cancels[run.RunID] = cancel
	s.evictCompleted()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, runID string) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	snapshot := *run
	return &snapshot, nil
}

func (s *MemoryStore) GetStatus(_ context.Context, runID string) (domain.RunStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return "", ErrNotFound
	}
	return run.Status, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, runID string, status domain.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run, ok := s.runs[runID]; ok {
		run.Status = status
	}
	return nil
}

func (s *MemoryStore) SetAwaiting(_ context.Context, runID string, req domain.AwaitRequest, meta domain.AwaitMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run, ok := s.runs[runID]; ok {
		run.Status = domain.RunStatusAwaiting
		run.AwaitRequest = &req
	}
	s.awaiting[runID] = meta
	return nil
}

func (s *MemoryStore) TakeAwaitIfAwaiting(_ context.Context, runID string) (domain.AwaitMetadata, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, false, ErrNotFound
	}
	if run.Status != domain.RunStatusAwaiting {
		return nil, false, nil
	}
	meta, ok := s.awaiting[runID]
	if !ok {
		return nil, false, nil
	}
	delete(s.awaiting, runID)
	return meta, true, nil
}

func (s *MemoryStore) ClearAwait(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run, ok := s.runs[runID]; ok {
		run.AwaitRequest = nil
	}
	return nil
}

func (s *MemoryStore) Finish(_ context.Context, runID string, status domain.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run, ok := s.runs[runID]; ok {
		now := time.Now()
		run.Status = status
		run.FinishedAt = &now
	}
	return nil
}

func (s *MemoryStore) SetError(_ context.Context, runID string, runErr domain.RunError) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run, ok := s.runs[runID]; ok {
		run.Error = &runErr
	}
	return nil
}

func (s *MemoryStore) AppendOutput(_ context.Context, runID string, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run, ok := s.runs[runID]; ok {
		run.Output = append(run.Output, msg)
	}
	return nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, runID string, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log, ok := s.events[runID]; ok {
		s.events[runID] = append(log, event)
	}
	return nil
}

func (s *MemoryStore) GetEvents(_ context.Context, runID string) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.events[runID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]domain.Event, len(log))
	copy(out, log)
	return out, nil
}

func (s *MemoryStore) Cancel(_ context.Context, runID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancel, ok := s.cancels[runID]
	if !ok {
		return false, nil
	}
	cancel()
	return true, nil
}

func (s *MemoryStore) List(_ context.Context, limit, offset int) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Sorted by run id: stable across calls so pagination is coherent, but
	// deliberately not chronological.
	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if offset >= len(ids) {
		return []domain.Run{}, nil
	}
	ids = ids[offset:]
	if limit < len(ids) {
		ids = ids[:limit]
	}

	out := make([]domain.Run, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.runs[id])
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// evictCompleted deletes the oldest-finished terminal runs beyond the cap,
// together with their events, handles, and await metadata. Non-terminal runs
// are never evicted. Caller holds the lock.
func (s *MemoryStore) evictCompleted() {
	type finished struct {
		id string
		at time.Time
	}
	var terminal []finished
	for id, run := range s.runs {
		if run.Status.IsTerminal() {
			var at time.Time
			if run.FinishedAt != nil {
				at = *run.FinishedAt
			}
			terminal = append(terminal, finished{id: id, at: at})
		}
	}
	if len(terminal) <= MaxCompletedRuns {
		return
	}

	sort.Slice(terminal, func(i, j int) bool { return terminal[i].at.Before(terminal[j].at) })
	for _, f := range terminal[:len(terminal)-MaxCompletedRuns] {
		delete(s.runs, f.id)
		delete(s.events, f.id)
		delete(s.cancels, f.id)
		delete(s.awaiting, f.id)
	}
}
