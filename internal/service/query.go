package service

import (
	"context"
	"fmt"
	"log"

	"github.com/xiaohan0616/acpd/internal/domain"
	"github.com/xiaohan0616/acpd/internal/runstore"
)

// DefaultListLimit bounds a list page when the caller does not.
const DefaultListLimit = 100

// GetRun returns the current run record.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	return s.store.Get(ctx, runID)
}

// GetEvents returns the run's full event log in append order.
func (s *Service) GetEvents(ctx context.Context, runID string) ([]domain.Event, error) {
	return s.store.GetEvents(ctx, runID)
}

// ListRuns returns a page of runs. The order is stable across calls but is
// not chronological.
func (s *Service) ListRuns(ctx context.Context, limit, offset int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, limit, offset)
}

// CancelRun signals a non-terminal run's cancellation handle. The status is
// untouched here; the run's driver observes the signal and performs the
// single terminal transition, so exactly one run.cancelled event is emitted.
func (s *Service) CancelRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := s.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, fmt.Errorf("run %s is already %s: %w", runID, run.Status, runstore.ErrConflict)
	}

	signalled, err := s.store.Cancel(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !signalled {
		log.Printf("WARN: run %s has no cancellation handle", runID)
	}
	return run, nil
}
