// Package openai adapts the OpenAI Chat Completions API to the agent contract.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

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

// Options configures the OpenAI agent.
type Options struct {
	Model  sdk.ChatModel
	APIKey string
	System string
	Tools  []Tool
}

// Agent drives one OpenAI conversation per session. Tool calls pause the
// stream on a confirmation gate before executing.
type Agent struct {
	client sdk.Client
	opts   Options
	tools  map[string]Tool
	params []sdk.ChatCompletionToolParam
	gates  *agent.Gates

	mu      sync.Mutex
	history []sdk.ChatCompletionMessageParamUnion
}

// New creates an OpenAI-backed agent.
func New(optFns ...func(o *Options)) *Agent {
	opts := Options{Model: sdk.ChatModelGPT4o}
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
	if opts.System != "" {
		a.history = append(a.history, sdk.SystemMessage(opts.System))
	}
	for _, t := range opts.Tools {
		a.tools[t.Name] = t
		a.params = append(a.params, sdk.ChatCompletionToolParam{
			Type: "function",
			Function: sdk.FunctionDefinitionParam{
				Name:        t.Name,
				Description: sdk.String(t.Description),
				Parameters: sdk.FunctionParameters{
					"type":       "object",
					"properties": t.Properties,
					"required":   t.Required,
				},
			},
		})
	}
	return a
}

// Reply sends the conversation so far plus msg and emits the completion as
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
			params := sdk.ChatCompletionNewParams{
				Model:    a.opts.Model,
				Messages: a.snapshot(),
			}
			if len(a.params) > 0 {
				params.Tools = a.params
			}

			resp, err := a.client.Chat.Completions.New(ctx, params)
			if err != nil {
				send(ctx, out, agent.EventResult{Err: fmt.Errorf("openai api error: %w", err)})
				return
			}
			if len(resp.Choices) == 0 {
				send(ctx, out, agent.EventResult{Err: fmt.Errorf("openai returned no choices")})
				return
			}

			choice := resp.Choices[0].Message
			a.mu.Lock()
			a.history = append(a.history, choice.ToParam())
			a.mu.Unlock()

			if !reported {
				if !send(ctx, out, agent.EventResult{Event: agent.ModelChangeEvent{Model: resp.Model, Mode: "chat"}}) {
					return
				}
				reported = true
			}

			if len(choice.ToolCalls) == 0 {
				send(ctx, out, agent.EventResult{Event: agent.MessageEvent{Message: agent.AssistantText(choice.Content)}})
				return
			}
			// Surface any preamble text before pausing on the first call.
			if choice.Content != "" {
				if !send(ctx, out, agent.EventResult{Event: agent.MessageEvent{Message: agent.AssistantText(choice.Content)}}) {
					return
				}
			}

			for _, call := range choice.ToolCalls {
				outcome, ok := a.resolveCall(ctx, call.ID, call.Function.Name, json.RawMessage(call.Function.Arguments), out)
				if !ok {
					return
				}
				a.mu.Lock()
				a.history = append(a.history, sdk.ToolMessage(outcome, call.ID))
				a.mu.Unlock()
			}
		}
	}()
	return out, nil
}

// resolveCall gates one tool call on a confirmation unless a standing
// decision covers the tool, then executes or declines it. The second return
// is false when the stream was cancelled mid-pause.
func (a *Agent) resolveCall(ctx context.Context, id, name string, args json.RawMessage, out chan<- agent.EventResult) (string, bool) {
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
			return "", false
		}
		select {
		case confirmation := <-gate:
			permission = confirmation.Permission
			a.gates.Remember(name, permission)
		case <-ctx.Done():
			a.gates.Drop(id)
			return "", false
		}
	}

	switch permission {
	case domain.PermissionAllowOnce, domain.PermissionAlwaysAllow:
		tool, found := a.tools[name]
		if !found {
			return fmt.Sprintf("unknown tool %q", name), true
		}
		outcome, err := tool.Run(ctx, args)
		if err != nil {
			return fmt.Sprintf("tool %q failed: %v", name, err), true
		}
		return outcome, true
	default:
		return fmt.Sprintf("tool %q was declined (%s)", name, permission), true
	}
}

// HandleConfirmation resolves a pending tool confirmation by request id.
func (a *Agent) HandleConfirmation(_ context.Context, requestID string, confirmation domain.PermissionConfirmation) error {
	return a.gates.Resolve(requestID, confirmation)
}

func (a *Agent) snapshot() []sdk.ChatCompletionMessageParamUnion {
	a.mu.Lock()
	defer a.mu.Unlock()
	messages := make([]sdk.ChatCompletionMessageParamUnion, len(a.history))
	copy(messages, a.history)
	return messages
}

func toParam(msg agent.Message) sdk.ChatCompletionMessageParamUnion {
	var parts []string
	for _, c := range msg.Content {
		if t, ok := c.(agent.TextContent); ok {
			parts = append(parts, t.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if msg.Role == agent.RoleUser {
		return sdk.UserMessage(text)
	}
	return sdk.AssistantMessage(text)
}

func send(ctx context.Context, out chan<- agent.EventResult, r agent.EventResult) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}
