// Package policy evaluates rego rules against tool-confirmation resolutions.
// The engine sits between the resume endpoint and the agent: a human approval
// still has to clear the policy before it is forwarded.
package policy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decision is the policy verdict for a confirmation resolution.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// ConfirmationInput is the document handed to the rego query.
type ConfirmationInput struct {
	RequestID  string          `json:"request_id"`
	SessionID  string          `json:"session_id"`
	Permission string          `json:"permission"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
}

// Engine is a prepared OPA query over the confirmation policy.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine compiles the given rego module and prepares the decision query.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.confirmation_policy.decision"),
		rego.Module("confirmation_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}
	return &Engine{query: query}, nil
}

// Evaluate returns the policy decision for one confirmation resolution. An
// empty result set falls back to allow so a partial policy cannot wedge
// every paused run.
func (e *Engine) Evaluate(ctx context.Context, input ConfirmationInput) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return DecisionAllow, nil
}

// DefaultPolicy allows every confirmation the human approved. Operators
// override it to fence off approvals that must never reach the agent.
const DefaultPolicy = `
package confirmation_policy

default decision = "allow"

# Example: blanket approvals cannot be granted for unsafe tool calls.
decision = "block" {
	input.permission == "always_allow"
	input.arguments.unsafe == true
}
`
