package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/xiaohan0616/acpd/internal/domain"
)

// Event is one item of an agent's reply stream. Closed union; the run engine
// translates these into wire-level protocol events.
type Event interface {
	agentEvent()
}

// MessageEvent carries a complete agent message.
type MessageEvent struct {
	Message Message
}

// ModelChangeEvent reports a switch of the underlying model.
type ModelChangeEvent struct {
	Model string
	Mode  string
}

// RoutingDecisionEvent reports which agent a request was routed to.
type RoutingDecisionEvent struct {
	AgentName  string
	ModeSlug   string
	Confidence float64
	Reasoning  string
}

// NotificationEvent forwards an upstream notification verbatim.
type NotificationEvent struct {
	RequestID    string
	Notification string
}

// HistoryReplacedEvent signals that the conversation history was rewritten.
type HistoryReplacedEvent struct{}

// ToolAvailabilityEvent reports a change in the advertised tool count.
type ToolAvailabilityEvent struct {
	PreviousCount int
	CurrentCount  int
}

func (MessageEvent) agentEvent()          {}
func (ModelChangeEvent) agentEvent()      {}
func (RoutingDecisionEvent) agentEvent()  {}
func (NotificationEvent) agentEvent()     {}
func (HistoryReplacedEvent) agentEvent()  {}
func (ToolAvailabilityEvent) agentEvent() {}

// EventResult is one delivery on a reply stream: an event or a mid-stream
// error, never both.
type EventResult struct {
	Event Event
	Err   error
}

// SessionConfig scopes one reply to a session.
type SessionConfig struct {
	ID       string
	MaxTurns int
}

// Agent is the external collaborator driven by the run engine.
//
// Reply returns an event stream bound to ctx; cancelling ctx is the run's
// cooperative cancellation signal. The channel is closed when the stream is
// exhausted. An agent that pauses for an action-required condition keeps its
// stream open and blocks internally until resolved.
type Agent interface {
	Reply(ctx context.Context, msg Message, cfg SessionConfig) (<-chan EventResult, error)
	HandleConfirmation(ctx context.Context, requestID string, confirmation domain.PermissionConfirmation) error
}

// Factory constructs a session-bound agent instance.
type Factory func(sessionID string) Agent

// Registry resolves agent names to per-session agent instances. Instances
// are created lazily and cached so that a resume reaches the same agent that
// paused the run.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	sessions  map[string]Agent // keyed by name + "\x00" + session id
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		sessions:  make(map[string]Agent),
	}
}

// Register installs a factory under an agent name.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Acquire returns the session-bound instance for an agent name, constructing
// it on first use.
func (r *Registry) Acquire(name, sessionID string) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := name + "\x00" + sessionID
	if a, ok := r.sessions[key]; ok {
		return a, nil
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", name)
	}
	a := factory(sessionID)
	r.sessions[key] = a
	return a, nil
}
