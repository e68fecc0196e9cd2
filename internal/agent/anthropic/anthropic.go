// Package anthropic adapts the Anthropic Messages API to the agent contract.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/xiaohan0616/acpd/internal/agent"
	"github.com/xiaohan0616/acpd/internal/domain"
)

// Tool is a capability offered to the model. Run executes only after the
// caller approves the call through the run's await/resume cycle, unless a
// standing always_allow decision covers the tool.
type Tool struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
	Run         func(ctx context.Context, args json.RawMessage) (string, error)
}

// Options configures the Anthropic agent.
type Options struct {
	Model     sdk.Model
	MaxTokens int64
	APIKey    string
	System    string
	Tools     []Tool
}

// Agent drives one Anthropic conversation per session. Each Reply appends to
// the session history; tool calls pause the stream on a confirmation gate
// before executing, and the conversation continues with the tool results.
type Agent struct {
	client sdk.Client
	opts   Options
	tools  map[string]Tool
	params []sdk.ToolUnionParam
	gates  *agent.Gates

	mu      sync.Mutex
	history []sdk.MessageParam
}

// New creates an Anthropic-backed agent.
func New(optFns ...func(o *Options)) *Agent {
	opts := Options{
		Model:     sdk.ModelClaudeSonnet4_20250514,
		MaxTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	a := &Agent{
		client: sdk.NewClient(clientOpts...),
		opts:   opts,
		tools:  make(map[string]Tool),
		gates:  agent.NewGates(),
	}
	for _, t := range opts.Tools {
		a.tools[t.Name] = t
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{
			Properties: t.Properties,
			Required:   t.Required,
		}, t.Name)
		if t.Description != "" {
			u.OfTool.Description = sdk.String(t.Description)
		}
		a.params = append(a.params, u)
	}
	return a
}

// Reply sends the conversation so far plus msg and streams the result back as
// agent events. A turn that requests tools loops: confirm, execute, send the
// results back, until the model answers without tool calls.
func (a *Agent) Reply(ctx context.Context, msg agent.Message, _ agent.SessionConfig) (<-chan agent.EventResult, error) {
	a.mu.Lock()
	a.history = append(a.history, toParam(msg))
	a.mu.Unlock()

	out := make(chan agent.EventResult, 4)
	go func() {
		defer close(out)

		reported := false
		for {
			params := sdk.MessageNewParams{
				Model:     a.opts.Model,
				Messages:  a.snapshot(),
				MaxTokens: a.opts.MaxTokens,
			}
			if a.opts.System != "" {
				params.System = []sdk.TextBlockParam{{Text: a.opts.System}}
			}
			if len(a.params) > 0 {
				params.Tools = a.params
			}

			resp, err := a.client.Messages.New(ctx, params)
			if err != nil {
				send(ctx, out, agent.EventResult{Err: fmt.Errorf("anthropic api error: %w", err)})
				return
			}

			a.mu.Lock()
			a.history = append(a.history, resp.ToParam())
			a.mu.Unlock()

			if !reported {
				if !send(ctx, out, agent.EventResult{Event: agent.ModelChangeEvent{Model: string(resp.Model), Mode: "chat"}}) {
					return
				}
				reported = true
			}

			reply := agent.Message{Role: agent.RoleAssistant}
			var calls []sdk.ToolUseBlock
			for _, block := range resp.Content {
				switch block.Type {
				case "text":
					text := block.AsText()
					if text.Text != "" {
						reply.Content = append(reply.Content, agent.TextContent{Text: text.Text})
					}
				case "thinking":
					thinking := block.AsThinking()
					if thinking.Thinking != "" {
						reply.Content = append(reply.Content, agent.ThinkingContent{Thinking: thinking.Thinking})
					}
				case "tool_use":
					calls = append(calls, block.AsToolUse())
				}
			}

			if len(calls) == 0 {
				send(ctx, out, agent.EventResult{Event: agent.MessageEvent{Message: reply}})
				return
			}
			// Surface any preamble text before pausing on the first call.
			if len(reply.Content) > 0 {
				if !send(ctx, out, agent.EventResult{Event: agent.MessageEvent{Message: reply}}) {
					return
				}
			}

			var results []sdk.ContentBlockParamUnion
			for _, call := range calls {
				args, _ := json.Marshal(call.Input)
				outcome, isErr, ok := a.resolveCall(ctx, call.ID, call.Name, args, out)
				if !ok {
					return
				}
				results = append(results, sdk.NewToolResultBlock(call.ID, outcome, isErr))
			}
			a.mu.Lock()
			a.history = append(a.history, sdk.NewUserMessage(results...))
			a.mu.Unlock()
		}
	}()
	return out, nil
}

// resolveCall gates one tool call on a confirmation unless a standing
// decision covers the tool, then executes or declines it. The third return
// is false when the stream was cancelled mid-pause.
func (a *Agent) resolveCall(ctx context.Context, id, name string, args json.RawMessage, out chan<- agent.EventResult) (string, bool, bool) {
	permission, ok := a.gates.Standing(name)
	if !ok {
		gate := a.gates.Open(id)
		pause := agent.MessageEvent{Message: agent.Message{
			Role: agent.RoleAssistant,
			Content: []agent.Content{agent.ActionRequiredContent{Action: agent.ToolConfirmation{
				ID:        id,
				ToolName:  name,
				Arguments: args,
				Prompt:    fmt.Sprintf("Allow tool %q to run?", name),
			}}},
		}}
		if !send(ctx, out, agent.EventResult{Event: pause}) {
			a.gates.Drop(id)
			return "", false, false
		}
		select {
		case confirmation := <-gate:
			permission = confirmation.Permission
			a.gates.Remember(name, permission)
		case <-ctx.Done():
			a.gates.Drop(id)
			return "", false, false
		}
	}

	switch permission {
	case domain.PermissionAllowOnce, domain.PermissionAlwaysAllow:
		tool, found := a.tools[name]
		if !found {
			return fmt.Sprintf("unknown tool %q", name), true, true
		}
		outcome, err := tool.Run(ctx, args)
		if err != nil {
			return err.Error(), true, true
		}
		return outcome, false, true
	default:
		return fmt.Sprintf("tool %q was declined (%s)", name, permission), true, true
	}
}

// HandleConfirmation resolves a pending tool confirmation by request id.
func (a *Agent) HandleConfirmation(_ context.Context, requestID string, confirmation domain.PermissionConfirmation) error {
	return a.gates.Resolve(requestID, confirmation)
}

func (a *Agent) snapshot() []sdk.MessageParam {
	a.mu.Lock()
	defer a.mu.Unlock()
	messages := make([]sdk.MessageParam, len(a.history))
	copy(messages, a.history)
	return messages
}

func toParam(msg agent.Message) sdk.MessageParam {
	var blocks []sdk.ContentBlockParamUnion
	for _, c := range msg.Content {
		if t, ok := c.(agent.TextContent); ok {
			blocks = append(blocks, sdk.NewTextBlock(t.Text))
		}
	}
	if len(blocks) == 0 {
		blocks = append(blocks, sdk.NewTextBlock(""))
	}
	if msg.Role == agent.RoleUser {
		return sdk.NewUserMessage(blocks...)
	}
	return sdk.NewAssistantMessage(blocks...)
}

func send(ctx context.Context, out chan<- agent.EventResult, r agent.EventResult) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}
