package service

import (
	"context"
	"fmt"
	"log"

	"github.com/xiaohan0616/acpd/internal/domain"
	"github.com/xiaohan0616/acpd/internal/runstore"
	"github.com/xiaohan0616/acpd/policy"
)

// Resume resolves a paused run. The await metadata is consumed atomically so
// concurrent resumes race for a single winner; losers observe a conflict.
// If the resolution cannot be delivered to the agent, the metadata is put
// back and the run stays awaiting.
func (s *Service) Resume(ctx context.Context, runID string, req domain.RunResumeRequest) (*domain.Run, error) {
	meta, ok, err := s.store.TakeAwaitIfAwaiting(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("run %s is not awaiting: %w", runID, runstore.ErrConflict)
	}

	run, err := s.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}

	// Mark the run resumed before delivering the resolution: the agent is
	// still blocked, and a delivery racing a fast agent must not let a
	// terminal status be overwritten afterwards. A failed delivery puts the
	// pause back.
	if err := s.store.ClearAwait(ctx, runID); err != nil {
		log.Printf("ERROR: failed to clear await for run %s: %v", runID, err)
	}
	s.transition(runID, domain.RunStatusInProgress, domain.EventTypeRunInProgress, nil)
	resumed, err := s.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}

	// Dispatch failures below are server errors, not conflicts: the caller
	// did not lose a race, delivery to the agent broke.
	switch m := meta.(type) {
	case domain.ElicitationAwait:
		if err := s.elicits.SubmitResponse(m.RequestID, req.AwaitResume.Data); err != nil {
			s.restoreAwait(ctx, runID, run, meta)
			return nil, fmt.Errorf("failed to deliver elicitation response: %w", err)
		}
		log.Printf("INFO: run %s elicitation %s resolved", runID, m.RequestID)

	case domain.ToolConfirmationAwait:
		permission := domain.ParsePermission(req.AwaitResume.Data)
		permission = s.applyPolicy(ctx, runID, m, permission, req)

		ag, err := s.registry.Acquire(run.AgentName, m.SessionID)
		if err != nil {
			s.restoreAwait(ctx, runID, run, meta)
			return nil, fmt.Errorf("failed to reach agent: %w", err)
		}

		confirmation := domain.PermissionConfirmation{
			PrincipalType: domain.PrincipalTypeTool,
			Permission:    permission,
		}
		if err := ag.HandleConfirmation(ctx, m.RequestID, confirmation); err != nil {
			s.restoreAwait(ctx, runID, run, meta)
			return nil, fmt.Errorf("failed to deliver confirmation: %w", err)
		}
		log.Printf("INFO: run %s confirmation %s resolved: %s", runID, m.RequestID, permission)

	default:
		s.restoreAwait(ctx, runID, run, meta)
		return nil, fmt.Errorf("unknown await metadata for run %s", runID)
	}

	return resumed, nil
}

// applyPolicy runs the confirmation policy and downgrades a blocked decision
// to a one-time denial. The agent still hears an answer either way.
func (s *Service) applyPolicy(ctx context.Context, runID string, m domain.ToolConfirmationAwait, permission domain.Permission, req domain.RunResumeRequest) domain.Permission {
	if s.policy == nil {
		return permission
	}

	decision, err := s.policy.Evaluate(ctx, policy.ConfirmationInput{
		RequestID:  m.RequestID,
		SessionID:  m.SessionID,
		Permission: string(permission),
		Arguments:  req.AwaitResume.Data,
	})
	if err != nil {
		log.Printf("WARN: policy evaluation failed for run %s: %v", runID, err)
		return permission
	}
	if decision == policy.DecisionBlock {
		log.Printf("WARN: policy blocked %s for run %s, denying once", permission, runID)
		return domain.PermissionDenyOnce
	}
	return permission
}

// restoreAwait re-installs consumed metadata after a failed dispatch so the
// run remains resumable, and records run.awaiting again so the event log
// does not end on the run.in-progress written before the dispatch.
func (s *Service) restoreAwait(ctx context.Context, runID string, run *domain.Run, meta domain.AwaitMetadata) {
	if run.AwaitRequest == nil {
		log.Printf("ERROR: run %s has no await request to restore", runID)
		return
	}
	if err := s.store.SetAwaiting(ctx, runID, *run.AwaitRequest, meta); err != nil {
		log.Printf("ERROR: failed to restore await for run %s: %v", runID, err)
		return
	}
	s.record(runID, domain.RunEvent(domain.EventTypeRunAwaiting, s.snapshot(runID)), nil)
}
