// Package service implements the run engine: run creation, the three
// execution drivers, the await/resume protocol and cancellation. Transport
// layers stay thin; every lifecycle rule lives here.
package service

import (
	"context"
	"log"

	"github.com/xiaohan0616/acpd/internal/agent"
	"github.com/xiaohan0616/acpd/internal/domain"
	"github.com/xiaohan0616/acpd/internal/elicit"
	"github.com/xiaohan0616/acpd/internal/hub"
	"github.com/xiaohan0616/acpd/internal/runstore"
	"github.com/xiaohan0616/acpd/policy"
)

// EventSink receives live protocol events during a streamed run.
type EventSink func(domain.Event)

type Service struct {
	store    runstore.Store
	registry *agent.Registry
	elicits  *elicit.Manager
	policy   *policy.Engine
	hub      *hub.Hub
}

// New wires the run engine. policyEngine and h may be nil; policy checks and
// WebSocket fan-out are then skipped.
func New(store runstore.Store, registry *agent.Registry, elicits *elicit.Manager, policyEngine *policy.Engine, h *hub.Hub) *Service {
	return &Service{
		store:    store,
		registry: registry,
		elicits:  elicits,
		policy:   policyEngine,
		hub:      h,
	}
}

// record appends an event to the run's log, then forwards it to the live
// sink and any attached watchers. Recording happens in every mode so replay
// and streaming observe the same sequence.
func (s *Service) record(runID string, ev domain.Event, sink EventSink) {
	if err := s.store.AppendEvent(context.Background(), runID, ev); err != nil {
		log.Printf("ERROR: failed to record event for run %s: %v", runID, err)
	}
	if sink != nil {
		sink(ev)
	}
	if s.hub != nil {
		s.hub.Publish(runID, ev)
	}
}

// snapshot fetches the current run record for embedding in lifecycle events.
func (s *Service) snapshot(runID string) *domain.Run {
	run, err := s.store.Get(context.Background(), runID)
	if err != nil {
		log.Printf("ERROR: failed to snapshot run %s: %v", runID, err)
		return &domain.Run{RunID: runID}
	}
	return run
}
