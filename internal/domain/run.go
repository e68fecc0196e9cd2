// Package domain defines the core domain models for the ACP run lifecycle.
package domain

import (
	"encoding/json"
	"time"
)

// RunStatus represents the lifecycle status of a run.
type RunStatus string

const (
	RunStatusCreated    RunStatus = "created"
	RunStatusInProgress RunStatus = "in-progress"
	RunStatusAwaiting   RunStatus = "awaiting"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
	RunStatusCancelled  RunStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// Run represents a single execution of an agent against a given input.
//
// Invariants maintained by the run store:
//   - FinishedAt is set exactly when Status is terminal.
//   - AwaitRequest is set exactly when Status is awaiting.
type Run struct {
	RunID        string          `json:"run_id"`
	AgentName    string          `json:"agent_name"`
	Status       RunStatus       `json:"status"`
	SessionID    string          `json:"session_id,omitempty"`
	Output       []Message       `json:"output"`
	AwaitRequest *AwaitRequest   `json:"await_request,omitempty"`
	Error        *RunError       `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// AwaitRequest describes what a paused run is waiting for.
type AwaitRequest struct {
	RequestType string          `json:"request_type"`
	Message     string          `json:"message,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// RunError records a failure attached to a run.
type RunError struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error codes used on RunError and in error events.
const (
	ErrCodeInvalidInput = "invalid_input"
	ErrCodeAgentError   = "agent_error"
	ErrCodeReplyError   = "reply_error"
	ErrCodeStreamError  = "stream_error"
)
