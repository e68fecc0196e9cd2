// Package translate maps internal agent events and messages to wire-level
// protocol events and back. Translation is pure and stateless: callers are
// responsible for persisting or forwarding what it returns.
package translate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xiaohan0616/acpd/internal/agent"
	"github.com/xiaohan0616/acpd/internal/domain"
)

// ToWire converts an agent-native message to its ACP wire form.
func ToWire(msg agent.Message) domain.Message {
	role := domain.RoleAgent
	if msg.Role == agent.RoleUser {
		role = domain.RoleUser
	}

	parts := make([]domain.MessagePart, 0, len(msg.Content))
	for _, c := range msg.Content {
		if part, ok := contentToPart(c); ok {
			parts = append(parts, part)
		}
	}
	return domain.Message{Role: role, Parts: parts}
}

func contentToPart(c agent.Content) (domain.MessagePart, bool) {
	switch v := c.(type) {
	case agent.TextContent:
		return domain.TextPart(v.Text), true

	case agent.ImageContent:
		return domain.ImagePart(v.Data, v.MimeType), true

	case agent.ThinkingContent:
		part := domain.TextPart(v.Thinking)
		part.Metadata = trajectoryMetadata("thinking", "")
		return part, true

	case agent.ToolRequestContent:
		payload, _ := json.Marshal(map[string]any{
			"tool_name": v.ToolName,
			"arguments": v.Arguments,
		})
		return domain.JSONPart(string(payload), trajectoryMetadata("tool_call", v.ID)), true

	case agent.ToolResponseContent:
		payload, _ := json.Marshal(map[string]any{
			"output":   v.Output,
			"is_error": v.IsError,
		})
		return domain.JSONPart(string(payload), trajectoryMetadata("tool_result", v.ID)), true

	case agent.ActionRequiredContent:
		payload, _ := json.Marshal(actionPayload(v.Action))
		return domain.JSONPart(string(payload), json.RawMessage(`{"acp":{"type":"action_required"}}`)), true
	}
	return domain.MessagePart{}, false
}

func trajectoryMetadata(kind, toolCallID string) json.RawMessage {
	traj := map[string]any{"type": kind}
	if toolCallID != "" {
		traj["tool_call_id"] = toolCallID
	}
	md, _ := json.Marshal(map[string]any{"trajectory": traj})
	return md
}

func actionPayload(a agent.ActionRequired) map[string]any {
	switch v := a.(type) {
	case agent.Elicitation:
		return map[string]any{
			"kind":             "elicitation",
			"id":               v.ID,
			"message":          v.Message,
			"requested_schema": v.RequestedSchema,
		}
	case agent.ToolConfirmation:
		return map[string]any{
			"kind":      "tool_confirmation",
			"id":        v.ID,
			"tool_name": v.ToolName,
			"arguments": v.Arguments,
			"prompt":    v.Prompt,
		}
	}
	return nil
}

// ToAgent converts an ACP wire message into the agent-native form. Used to
// turn a create-run request's user input into the message sent to the agent.
func ToAgent(msg domain.Message) agent.Message {
	role := agent.RoleAssistant
	if msg.Role == domain.RoleUser {
		role = agent.RoleUser
	}

	out := agent.Message{Role: role}
	for _, part := range msg.Parts {
		if c, ok := partToContent(part); ok {
			out.Content = append(out.Content, c)
		}
	}
	return out
}

func partToContent(part domain.MessagePart) (agent.Content, bool) {
	var meta struct {
		Trajectory struct {
			Type       string `json:"type"`
			ToolCallID string `json:"tool_call_id"`
		} `json:"trajectory"`
	}
	if part.Metadata != nil {
		_ = json.Unmarshal(part.Metadata, &meta)
	}

	switch meta.Trajectory.Type {
	case "thinking":
		return agent.ThinkingContent{Thinking: part.Content}, true
	case "tool_call":
		var payload struct {
			ToolName  string          `json:"tool_name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(part.Content), &payload); err != nil {
			return nil, false
		}
		return agent.ToolRequestContent{
			ID:        meta.Trajectory.ToolCallID,
			ToolName:  payload.ToolName,
			Arguments: payload.Arguments,
		}, true
	case "tool_result":
		var payload struct {
			Output  string `json:"output"`
			IsError bool   `json:"is_error"`
		}
		if err := json.Unmarshal([]byte(part.Content), &payload); err != nil {
			return nil, false
		}
		return agent.ToolResponseContent{
			ID:      meta.Trajectory.ToolCallID,
			Output:  payload.Output,
			IsError: payload.IsError,
		}, true
	}

	switch {
	case strings.HasPrefix(part.ContentType, "text/"):
		return agent.TextContent{Text: part.Content}, true
	case strings.HasPrefix(part.ContentType, "image/"):
		return agent.ImageContent{Data: part.Content, MimeType: part.ContentType}, true
	case part.ContentType == "application/json":
		return agent.TextContent{Text: part.Content}, true
	}
	return agent.TextContent{Text: fmt.Sprintf("[unsupported content_type: %s]", part.ContentType)}, true
}

// Events converts one internal agent event into zero or more protocol events.
// A message expands to message.created, one message.part per part, and
// message.completed. Side-channel events each map to one generic envelope so
// the protocol surface stays stable as the internal event set grows.
func Events(ev agent.Event) []domain.Event {
	switch v := ev.(type) {
	case agent.MessageEvent:
		msg := ToWire(v.Message)
		events := make([]domain.Event, 0, len(msg.Parts)+2)
		events = append(events, domain.MessageCreatedEvent(msg))
		for _, part := range msg.Parts {
			events = append(events, domain.MessagePartEvent(part))
		}
		events = append(events, domain.MessageCompletedEvent(msg))
		return events

	case agent.ModelChangeEvent:
		return []domain.Event{domain.GenericEvent("model_change", map[string]any{
			"model": v.Model,
			"mode":  v.Mode,
		})}

	case agent.RoutingDecisionEvent:
		return []domain.Event{domain.GenericEvent("routing_decision", map[string]any{
			"agent_name": v.AgentName,
			"mode_slug":  v.ModeSlug,
			"confidence": v.Confidence,
			"reasoning":  v.Reasoning,
		})}

	case agent.NotificationEvent:
		return []domain.Event{domain.GenericEvent("notification", map[string]any{
			"request_id":   v.RequestID,
			"notification": v.Notification,
		})}

	case agent.HistoryReplacedEvent:
		return []domain.Event{domain.GenericEvent("history_replaced", map[string]any{})}

	case agent.ToolAvailabilityEvent:
		return []domain.Event{domain.GenericEvent("tool_availability_change", map[string]any{
			"previous_count": v.PreviousCount,
			"current_count":  v.CurrentCount,
		})}
	}
	return nil
}

// ExtractAwaitRequest inspects a message for an action-required content item
// and, on the first match, builds the outbound await request plus the
// metadata variant linking the pause to its external request.
func ExtractAwaitRequest(msg agent.Message, sessionID string) (domain.AwaitRequest, domain.AwaitMetadata, bool) {
	action, ok := msg.ActionRequiredOf()
	if !ok {
		return domain.AwaitRequest{}, nil, false
	}

	switch v := action.(type) {
	case agent.Elicitation:
		md, _ := json.Marshal(map[string]string{"request_id": v.ID})
		req := domain.AwaitRequest{
			RequestType: "elicitation",
			Message:     v.Message,
			Schema:      v.RequestedSchema,
			Metadata:    md,
		}
		return req, domain.ElicitationAwait{RequestID: v.ID}, true

	case agent.ToolConfirmation:
		schema, _ := json.Marshal(map[string]any{
			"tool_name": v.ToolName,
			"arguments": v.Arguments,
		})
		md, _ := json.Marshal(map[string]string{"request_id": v.ID})
		req := domain.AwaitRequest{
			RequestType: "tool_confirmation",
			Message:     v.Prompt,
			Schema:      schema,
			Metadata:    md,
		}
		return req, domain.ToolConfirmationAwait{RequestID: v.ID, SessionID: sessionID}, true
	}
	return domain.AwaitRequest{}, nil, false
}
