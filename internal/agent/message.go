// Package agent defines the agent collaborator consumed by the run engine:
// the event stream contract, the internal message model, and per-session
// agent acquisition. The engine only ever sees an opaque sequence of events;
// the agent's own reasoning loop lives behind this interface.
package agent

import "encoding/json"

// Role of an internal message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is an agent-native message: a role plus ordered content items.
type Message struct {
	Role    Role
	Content []Content
}

// Content is one item of an internal message. Closed union.
type Content interface {
	content()
}

// TextContent is plain text.
type TextContent struct {
	Text string
}

// ImageContent is inline base64 image data.
type ImageContent struct {
	Data     string
	MimeType string
}

// ThinkingContent carries model reasoning that is surfaced but not spoken.
type ThinkingContent struct {
	Thinking string
}

// ToolRequestContent is an agent's request to invoke a tool.
type ToolRequestContent struct {
	ID        string
	ToolName  string
	Arguments json.RawMessage
}

// ToolResponseContent is the recorded outcome of a tool invocation.
type ToolResponseContent struct {
	ID      string
	Output  string
	IsError bool
}

// ActionRequiredContent pauses the run for human input.
type ActionRequiredContent struct {
	Action ActionRequired
}

func (TextContent) content()           {}
func (ImageContent) content()          {}
func (ThinkingContent) content()       {}
func (ToolRequestContent) content()    {}
func (ToolResponseContent) content()   {}
func (ActionRequiredContent) content() {}

// ActionRequired is the condition a paused run is blocked on. Closed union.
type ActionRequired interface {
	actionRequired()
}

// Elicitation asks the human for structured input matching a schema.
type Elicitation struct {
	ID              string
	Message         string
	RequestedSchema json.RawMessage
}

// ToolConfirmation asks the human to approve a tool call before it proceeds.
type ToolConfirmation struct {
	ID        string
	ToolName  string
	Arguments json.RawMessage
	Prompt    string
}

func (Elicitation) actionRequired()      {}
func (ToolConfirmation) actionRequired() {}

// UserText builds a single-part user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: []Content{TextContent{Text: text}}}
}

// AssistantText builds a single-part assistant message.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: []Content{TextContent{Text: text}}}
}

// ActionRequiredOf scans the message for the first action-required item.
func (m Message) ActionRequiredOf() (ActionRequired, bool) {
	for _, c := range m.Content {
		if ar, ok := c.(ActionRequiredContent); ok {
			return ar.Action, true
		}
	}
	return nil, false
}
