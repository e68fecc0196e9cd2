package agent

import (
	"fmt"
	"sync"

	"github.com/xiaohan0616/acpd/internal/domain"
)

// Gates tracks the pending tool-confirmation channels of one agent, plus any
// standing per-tool decisions (always_allow / always_deny) that skip the gate
// on later calls.
type Gates struct {
	mu       sync.Mutex
	pending  map[string]chan domain.PermissionConfirmation
	standing map[string]domain.Permission
}

// NewGates creates an empty gate set.
func NewGates() *Gates {
	return &Gates{
		pending:  make(map[string]chan domain.PermissionConfirmation),
		standing: make(map[string]domain.Permission),
	}
}

// Open registers a pending confirmation under requestID and returns the
// channel its resolution will arrive on.
func (g *Gates) Open(requestID string) <-chan domain.PermissionConfirmation {
	ch := make(chan domain.PermissionConfirmation, 1)
	g.mu.Lock()
	g.pending[requestID] = ch
	g.mu.Unlock()
	return ch
}

// Drop abandons a pending confirmation, typically on cancellation.
func (g *Gates) Drop(requestID string) {
	g.mu.Lock()
	delete(g.pending, requestID)
	g.mu.Unlock()
}

// Resolve delivers a confirmation to the agent blocked on requestID.
func (g *Gates) Resolve(requestID string, confirmation domain.PermissionConfirmation) error {
	g.mu.Lock()
	ch, ok := g.pending[requestID]
	if ok {
		delete(g.pending, requestID)
	}
	g.mu.Unlock()

	if !ok {
		return fmt.Errorf("no pending confirmation %q", requestID)
	}
	ch <- confirmation
	return nil
}

// Standing returns the remembered decision for a tool, if any.
func (g *Gates) Standing(toolName string) (domain.Permission, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.standing[toolName]
	return p, ok
}

// Remember records a decision for future calls of the same tool. Only the
// always_* decisions persist.
func (g *Gates) Remember(toolName string, p domain.Permission) {
	if p != domain.PermissionAlwaysAllow && p != domain.PermissionAlwaysDeny {
		return
	}
	g.mu.Lock()
	g.standing[toolName] = p
	g.mu.Unlock()
}
