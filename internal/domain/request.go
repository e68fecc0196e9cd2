package domain

import "encoding/json"

// RunMode selects the execution driver for a run.
type RunMode string

const (
	RunModeSync   RunMode = "sync"
	RunModeAsync  RunMode = "async"
	RunModeStream RunMode = "stream"
)

// Valid reports whether the mode is one of the three supported drivers.
func (m RunMode) Valid() bool {
	switch m {
	case RunModeSync, RunModeAsync, RunModeStream:
		return true
	}
	return false
}

// RunCreateRequest is the body of POST /runs.
type RunCreateRequest struct {
	AgentName string    `json:"agent_name"`
	Mode      RunMode   `json:"mode"`
	Input     []Message `json:"input"`
	SessionID string    `json:"session_id,omitempty"`
}

// AwaitResume carries the caller's free-form resume payload.
type AwaitResume struct {
	Data json.RawMessage `json:"data,omitempty"`
}

// RunResumeRequest is the body of POST /runs/{run_id}.
type RunResumeRequest struct {
	AwaitResume AwaitResume `json:"await_resume"`
}
