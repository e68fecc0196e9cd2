package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xiaohan0616/acpd/internal/domain"
	"github.com/xiaohan0616/acpd/internal/elicit"
)

// Step is one instruction in a scripted agent's turn. Closed union.
type Step interface {
	step()
}

// Emit streams one event as-is.
type Emit struct {
	Event Event
}

// PauseElicitation emits an action-required message and blocks until the
// elicitation is answered, then emits the answer back as assistant text.
type PauseElicitation struct {
	ID      string
	Message string
	Schema  json.RawMessage
}

// PauseConfirmation emits an action-required message and blocks until the
// tool call is confirmed or declined.
type PauseConfirmation struct {
	ID        string
	ToolName  string
	Arguments json.RawMessage
	Prompt    string
}

// Fail ends the stream with a mid-stream error.
type Fail struct {
	Err error
}

func (Emit) step()              {}
func (PauseElicitation) step()  {}
func (PauseConfirmation) step() {}
func (Fail) step()              {}

// Scripted is a deterministic agent that replays a fixed script. Each Reply
// call consumes the next turn; pauses block the stream the way a live agent
// blocks on human input.
type Scripted struct {
	elicits *elicit.Manager
	gates   *Gates

	mu    sync.Mutex
	turns [][]Step
	next  int
}

// NewScripted builds a scripted agent. Elicitation pauses resolve through
// mgr; confirmation pauses resolve through HandleConfirmation.
func NewScripted(mgr *elicit.Manager, turns ...[]Step) *Scripted {
	return &Scripted{
		elicits: mgr,
		gates:   NewGates(),
		turns:   turns,
	}
}

// Reply streams the next scripted turn.
func (s *Scripted) Reply(ctx context.Context, _ Message, _ SessionConfig) (<-chan EventResult, error) {
	s.mu.Lock()
	if s.next >= len(s.turns) {
		s.mu.Unlock()
		return nil, fmt.Errorf("script exhausted after %d turns", len(s.turns))
	}
	turn := s.turns[s.next]
	s.next++
	s.mu.Unlock()

	out := make(chan EventResult)
	go func() {
		defer close(out)
		for _, st := range turn {
			if !s.runStep(ctx, st, out) {
				return
			}
		}
	}()
	return out, nil
}

func (s *Scripted) runStep(ctx context.Context, st Step, out chan<- EventResult) bool {
	switch v := st.(type) {
	case Emit:
		return send(ctx, out, EventResult{Event: v.Event})

	case Fail:
		send(ctx, out, EventResult{Err: v.Err})
		return false

	case PauseElicitation:
		answer := s.elicits.Register(v.ID)
		pause := MessageEvent{Message: Message{
			Role: RoleAssistant,
			Content: []Content{ActionRequiredContent{Action: Elicitation{
				ID:              v.ID,
				Message:         v.Message,
				RequestedSchema: v.Schema,
			}}},
		}}
		if !send(ctx, out, EventResult{Event: pause}) {
			return false
		}
		select {
		case data, ok := <-answer:
			if !ok {
				return false
			}
			reply := AssistantText(fmt.Sprintf("received: %s", string(data)))
			return send(ctx, out, EventResult{Event: MessageEvent{Message: reply}})
		case <-ctx.Done():
			s.elicits.Cancel(v.ID)
			return false
		}

	case PauseConfirmation:
		gate := s.gates.Open(v.ID)

		pause := MessageEvent{Message: Message{
			Role: RoleAssistant,
			Content: []Content{ActionRequiredContent{Action: ToolConfirmation{
				ID:        v.ID,
				ToolName:  v.ToolName,
				Arguments: v.Arguments,
				Prompt:    v.Prompt,
			}}},
		}}
		if !send(ctx, out, EventResult{Event: pause}) {
			return false
		}
		select {
		case confirmation := <-gate:
			reply := AssistantText(fmt.Sprintf("tool %s: %s", v.ToolName, confirmation.Permission))
			return send(ctx, out, EventResult{Event: MessageEvent{Message: reply}})
		case <-ctx.Done():
			s.gates.Drop(v.ID)
			return false
		}
	}
	return true
}

// HandleConfirmation resolves a pending confirmation pause by request id.
func (s *Scripted) HandleConfirmation(_ context.Context, requestID string, confirmation domain.PermissionConfirmation) error {
	return s.gates.Resolve(requestID, confirmation)
}

func send(ctx context.Context, out chan<- EventResult, r EventResult) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}
