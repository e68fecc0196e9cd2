// Package hub fans out live protocol events to WebSocket watchers. Watchers
// subscribe per run; the run engine publishes every event it records so a
// watcher sees the same stream the event log replays.
package hub

import (
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xiaohan0616/acpd/internal/domain"
)

// ErrBufferFull is returned when a watcher cannot keep up with the stream.
var ErrBufferFull = errors.New("send buffer full")

// Watcher is one WebSocket subscription to a run's event stream.
type Watcher struct {
	ID    string
	RunID string
	Conn  *websocket.Conn
	Send  chan []byte
	hub   *Hub
	mu    sync.Mutex
}

// Hub tracks watchers per run and routes published events to them.
type Hub struct {
	watchers map[string]*Watcher
	runs     map[string]map[string]bool // run id -> set of watcher ids

	register   chan *Watcher
	unregister chan *Watcher
	publish    chan *runEvent

	mu sync.RWMutex
}

type runEvent struct {
	runID string
	data  []byte
}

// New creates an empty hub. Call Run in a goroutine before publishing.
func New() *Hub {
	return &Hub{
		watchers:   make(map[string]*Watcher),
		runs:       make(map[string]map[string]bool),
		register:   make(chan *Watcher),
		unregister: make(chan *Watcher),
		publish:    make(chan *runEvent, 256),
	}
}

// Run drives the hub's registration and fan-out loop.
func (h *Hub) Run() {
	for {
		select {
		case w := <-h.register:
			h.mu.Lock()
			h.watchers[w.ID] = w
			if h.runs[w.RunID] == nil {
				h.runs[w.RunID] = make(map[string]bool)
			}
			h.runs[w.RunID][w.ID] = true
			h.mu.Unlock()
			log.Printf("INFO: watcher %s attached to run %s", w.ID, w.RunID)

		case w := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.watchers[w.ID]; ok {
				delete(h.watchers, w.ID)
				if set := h.runs[w.RunID]; set != nil {
					delete(set, w.ID)
					if len(set) == 0 {
						delete(h.runs, w.RunID)
					}
				}
				close(w.Send)
			}
			h.mu.Unlock()
			log.Printf("INFO: watcher %s detached from run %s", w.ID, w.RunID)

		case ev := <-h.publish:
			h.mu.RLock()
			for id := range h.runs[ev.runID] {
				w, ok := h.watchers[id]
				if !ok {
					continue
				}
				if err := w.TrySend(ev.data); err != nil {
					log.Printf("WARN: watcher %s fell behind, dropping connection: %v", id, err)
					go h.Unregister(w)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NewWatcher wraps a WebSocket connection as a watcher of one run.
func (h *Hub) NewWatcher(ws *websocket.Conn, runID string) *Watcher {
	return &Watcher{
		ID:    uuid.New().String(),
		RunID: runID,
		Conn:  ws,
		Send:  make(chan []byte, 256),
		hub:   h,
	}
}

// Register adds a watcher to the fan-out loop.
func (h *Hub) Register(w *Watcher) {
	h.register <- w
}

// Unregister removes a watcher and closes its send channel.
func (h *Hub) Unregister(w *Watcher) {
	h.unregister <- w
}

// Publish delivers one protocol event to every watcher of a run. Events for
// runs with no watchers are dropped; the event log is the durable record.
func (h *Hub) Publish(runID string, ev domain.Event) {
	if !h.HasWatchers(runID) {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("ERROR: failed to marshal event for run %s: %v", runID, err)
		return
	}
	h.publish <- &runEvent{runID: runID, data: data}
}

// HasWatchers reports whether any watcher is attached to a run.
func (h *Hub) HasWatchers(runID string) bool {
	if h == nil {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.runs[runID]) > 0
}

// WatcherCount returns the number of attached watchers across all runs.
func (h *Hub) WatcherCount() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers)
}

// TrySend queues data for the watcher without blocking. ErrBufferFull means
// the watcher has fallen behind and should be dropped.
func (w *Watcher) TrySend(data []byte) error {
	select {
	case w.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// WriteMessage writes to the underlying connection with proper locking.
func (w *Watcher) WriteMessage(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Conn.WriteMessage(messageType, data)
}

// Close closes the underlying connection.
func (w *Watcher) Close() error {
	return w.Conn.Close()
}
