// Package elicit implements the elicitation resolver: a registry of pending
// in-band requests for structured human input. An agent registers a request
// and blocks on the returned channel; a resume delivers the response exactly
// once.
package elicit

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Manager tracks pending elicitation requests by request id.
type Manager struct {
	mu      sync.Mutex
	pending map[string]chan json.RawMessage
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{pending: make(map[string]chan json.RawMessage)}
}

// Register creates a pending request and returns the channel its response
// will arrive on. The channel is buffered so submission never blocks.
func (m *Manager) Register(requestID string) <-chan json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan json.RawMessage, 1)
	m.pending[requestID] = ch
	return ch
}

// SubmitResponse delivers the response for a pending request and removes it.
// Unknown request ids are an error; a request can be resolved only once.
func (m *Manager) SubmitResponse(requestID string, value json.RawMessage) error {
	m.mu.Lock()
	ch, ok := m.pending[requestID]
	if ok {
		delete(m.pending, requestID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("no pending elicitation for request %q", requestID)
	}
	ch <- value
	close(ch)
	return nil
}

// Cancel removes a pending request without delivering a response. Safe to
// call for unknown ids.
func (m *Manager) Cancel(requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch, ok := m.pending[requestID]; ok {
		delete(m.pending, requestID)
		close(ch)
	}
}
