package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/xiaohan0616/acpd/internal/agent"
	"github.com/xiaohan0616/acpd/internal/domain"
	"github.com/xiaohan0616/acpd/internal/translate"
)

// createRun validates the request, inserts the created record with its
// cancellation handle, and records run.created. The returned context is the
// run's own lifetime, detached from the request so async runs survive it.
func (s *Service) createRun(req domain.RunCreateRequest, sink EventSink) (*domain.Run, context.Context, error) {
	if !req.Mode.Valid() {
		return nil, nil, fmt.Errorf("invalid mode %q", req.Mode)
	}
	if req.AgentName == "" {
		return nil, nil, fmt.Errorf("agent_name is required")
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "acp-" + uuid.New().String()
	}

	run := &domain.Run{
		RunID:     "run_" + uuid.New().String(),
		AgentName: req.AgentName,
		Status:    domain.RunStatusCreated,
		SessionID: sessionID,
		CreatedAt: time.Now().UTC(),
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if err := s.store.Create(context.Background(), run, cancel); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to create run: %w", err)
	}

	log.Printf("INFO: run %s created (agent=%s mode=%s session=%s)", run.RunID, req.AgentName, req.Mode, sessionID)
	s.record(run.RunID, domain.RunEvent(domain.EventTypeRunCreated, run), sink)
	return run, runCtx, nil
}

// RunSync executes a run inline and returns the record as it stands when the
// agent's stream ends. A run paused mid-stream keeps the call blocked until
// it is resumed or cancelled.
func (s *Service) RunSync(ctx context.Context, req domain.RunCreateRequest) (*domain.Run, error) {
	run, runCtx, err := s.createRun(req, nil)
	if err != nil {
		return nil, err
	}
	s.processRun(runCtx, run.RunID, run.SessionID, req, nil)
	return s.store.Get(ctx, run.RunID)
}

// RunAsync starts the run in the background and returns the created record.
func (s *Service) RunAsync(ctx context.Context, req domain.RunCreateRequest) (*domain.Run, error) {
	run, runCtx, err := s.createRun(req, nil)
	if err != nil {
		return nil, err
	}
	go s.processRun(runCtx, run.RunID, run.SessionID, req, nil)
	return run, nil
}

// RunStream executes a run inline, pushing every recorded event to sink as
// it happens. The run.created event is the first delivery.
func (s *Service) RunStream(ctx context.Context, req domain.RunCreateRequest, sink EventSink) error {
	run, runCtx, err := s.createRun(req, sink)
	if err != nil {
		return err
	}
	s.processRun(runCtx, run.RunID, run.SessionID, req, sink)
	return nil
}

// processRun is the unified control loop shared by all three drivers. It
// owns every status transition after created.
func (s *Service) processRun(ctx context.Context, runID, sessionID string, req domain.RunCreateRequest, sink EventSink) {
	s.transition(runID, domain.RunStatusInProgress, domain.EventTypeRunInProgress, sink)

	userMsg, ok := lastUserMessage(req.Input)
	if !ok {
		s.failRun(runID, domain.RunError{
			Code:    domain.ErrCodeInvalidInput,
			Message: "input contains no user message",
		}, sink)
		return
	}

	ag, err := s.registry.Acquire(req.AgentName, sessionID)
	if err != nil {
		s.failRun(runID, domain.RunError{
			Code:    domain.ErrCodeAgentError,
			Message: err.Error(),
		}, sink)
		return
	}

	stream, err := ag.Reply(ctx, translate.ToAgent(userMsg), agent.SessionConfig{ID: sessionID})
	if err != nil {
		s.failRun(runID, domain.RunError{
			Code:    domain.ErrCodeReplyError,
			Message: err.Error(),
		}, sink)
		return
	}

	for {
		select {
		case <-ctx.Done():
			s.finishRun(runID, domain.RunStatusCancelled, domain.EventTypeRunCancelled, sink)
			return

		case res, open := <-stream:
			if !open {
				// The agent drops its stream on cancellation too; the cause
				// decides the terminal status, not which select arm fired.
				if ctx.Err() != nil {
					s.finishRun(runID, domain.RunStatusCancelled, domain.EventTypeRunCancelled, sink)
					return
				}
				s.finishRun(runID, domain.RunStatusCompleted, domain.EventTypeRunCompleted, sink)
				return
			}
			if res.Err != nil {
				s.failRun(runID, domain.RunError{
					Code:    domain.ErrCodeStreamError,
					Message: res.Err.Error(),
				}, sink)
				return
			}
			s.handleAgentEvent(runID, sessionID, res.Event, sink)
		}
	}
}

// handleAgentEvent translates one agent event into protocol events, records
// them, and accumulates output. A message carrying an action-required item
// pauses the run instead: it produces only run.awaiting, never message events
// or output.
func (s *Service) handleAgentEvent(runID, sessionID string, ev agent.Event, sink EventSink) {
	if msgEv, ok := ev.(agent.MessageEvent); ok {
		if awaitReq, meta, paused := translate.ExtractAwaitRequest(msgEv.Message, sessionID); paused {
			if err := s.store.SetAwaiting(context.Background(), runID, awaitReq, meta); err != nil {
				log.Printf("ERROR: failed to pause run %s: %v", runID, err)
				return
			}
			log.Printf("INFO: run %s awaiting %s", runID, awaitReq.RequestType)
			s.record(runID, domain.RunEvent(domain.EventTypeRunAwaiting, s.snapshot(runID)), sink)
			return
		}
	}

	for _, protoEv := range translate.Events(ev) {
		s.record(runID, protoEv, sink)
	}

	if msgEv, ok := ev.(agent.MessageEvent); ok {
		if err := s.store.AppendOutput(context.Background(), runID, translate.ToWire(msgEv.Message)); err != nil {
			log.Printf("ERROR: failed to append output for run %s: %v", runID, err)
		}
	}
}

// transition writes a non-terminal status and records its lifecycle event.
func (s *Service) transition(runID string, status domain.RunStatus, evType domain.EventType, sink EventSink) {
	if err := s.store.UpdateStatus(context.Background(), runID, status); err != nil {
		log.Printf("ERROR: failed to update run %s to %s: %v", runID, status, err)
	}
	s.record(runID, domain.RunEvent(evType, s.snapshot(runID)), sink)
}

// finishRun writes a terminal status and records its lifecycle event.
func (s *Service) finishRun(runID string, status domain.RunStatus, evType domain.EventType, sink EventSink) {
	if err := s.store.Finish(context.Background(), runID, status); err != nil {
		log.Printf("ERROR: failed to finish run %s as %s: %v", runID, status, err)
	}
	log.Printf("INFO: run %s finished: %s", runID, status)
	s.record(runID, domain.RunEvent(evType, s.snapshot(runID)), sink)
}

// failRun attaches the error, fails the run, and records the error event
// before the terminal run.failed event.
func (s *Service) failRun(runID string, runErr domain.RunError, sink EventSink) {
	if err := s.store.SetError(context.Background(), runID, runErr); err != nil {
		log.Printf("ERROR: failed to set error for run %s: %v", runID, err)
	}
	log.Printf("WARN: run %s failed: %s: %s", runID, runErr.Code, runErr.Message)
	s.record(runID, domain.ErrorEvent(runErr), sink)
	s.finishRun(runID, domain.RunStatusFailed, domain.EventTypeRunFailed, sink)
}

// lastUserMessage returns the most recent user message of the input.
func lastUserMessage(input []domain.Message) (domain.Message, bool) {
	for i := len(input) - 1; i >= 0; i-- {
		if input[i].Role == domain.RoleUser {
			return input[i], true
		}
	}
	return domain.Message{}, false
}
