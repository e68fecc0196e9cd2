package domain

import "encoding/json"

// EventType tags a protocol event.
type EventType string

const (
	EventTypeRunCreated       EventType = "run.created"
	EventTypeRunInProgress    EventType = "run.in-progress"
	EventTypeRunAwaiting      EventType = "run.awaiting"
	EventTypeRunCompleted     EventType = "run.completed"
	EventTypeRunCancelled     EventType = "run.cancelled"
	EventTypeRunFailed        EventType = "run.failed"
	EventTypeMessageCreated   EventType = "message.created"
	EventTypeMessagePart      EventType = "message.part"
	EventTypeMessageCompleted EventType = "message.completed"
	EventTypeError            EventType = "error"
	EventTypeGeneric          EventType = "generic"
)

// Event is one entry in a run's append-only protocol event log. The same
// shape is used for live streaming and for later replay.
type Event struct {
	Type    EventType       `json:"type"`
	Run     *Run            `json:"run,omitempty"`
	Message *Message        `json:"message,omitempty"`
	Part    *MessagePart    `json:"part,omitempty"`
	Error   *RunError       `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// RunEvent builds a lifecycle event carrying a snapshot of the run.
func RunEvent(t EventType, run *Run) Event {
	snapshot := *run
	return Event{Type: t, Run: &snapshot}
}

// MessageCreatedEvent announces a new output message.
func MessageCreatedEvent(msg Message) Event {
	return Event{Type: EventTypeMessageCreated, Message: &msg}
}

// MessagePartEvent carries one part of an output message.
func MessagePartEvent(part MessagePart) Event {
	return Event{Type: EventTypeMessagePart, Part: &part}
}

// MessageCompletedEvent closes an output message.
func MessageCompletedEvent(msg Message) Event {
	return Event{Type: EventTypeMessageCompleted, Message: &msg}
}

// ErrorEvent carries a protocol-level error.
func ErrorEvent(err RunError) Event {
	return Event{Type: EventTypeError, Error: &err}
}

// GenericEvent wraps a namespaced side-channel payload. The envelope keeps
// the protocol surface stable as the internal event set grows.
func GenericEvent(eventType string, data any) Event {
	payload, _ := json.Marshal(map[string]any{
		"acp_event_type": eventType,
		"data":           data,
	})
	return Event{Type: EventTypeGeneric, Data: payload}
}
