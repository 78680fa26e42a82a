package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wisty/jimi/internal/bus"
	"github.com/wisty/jimi/internal/contextstore"
	"github.com/wisty/jimi/internal/models"
)

// SubAgentFactory builds a fresh Executor for a named sub-agent spec,
// backed by its own Context and Bus (spec §4.7 "Agents that delegate to
// sub-agents", §9 "Sub-agent isolation"). The caller supplies this
// rather than TaskTool constructing Executors directly, so each
// sub-agent's Deps (provider, registry, compactor) can differ from the
// parent's.
type SubAgentFactory func(ctx context.Context, agentName, sessionID string) (*Executor, error)

// taskArgs is the deserialized parameter shape of the Task tool.
type taskArgs struct {
	AgentName string `json:"agent_name"`
	Prompt    string `json:"prompt"`
}

// TaskTool spawns a sub-Executor with its own isolated Context
// (separate history file) and its own Bus, runs it to completion, and
// returns its final assistant response as the tool result. The parent
// agent's history never receives the sub-agent's internal messages
// (spec §4.7, §9): only this single ToolResult crosses back.
type TaskTool struct {
	factory   SubAgentFactory
	sessionID string
}

// NewTaskTool builds a TaskTool. sessionID seeds the child session id
// (suffixed with the agent name) so approval caching stays isolated per
// sub-agent.
func NewTaskTool(sessionID string, factory SubAgentFactory) *TaskTool {
	return &TaskTool{factory: factory, sessionID: sessionID}
}

func (t *TaskTool) Name() string        { return "task" }
func (t *TaskTool) Description() string { return "Delegate a prompt to a named sub-agent and return its final response." }

func (t *TaskTool) ParameterSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"agent_name": {"type": "string"},
			"prompt": {"type": "string"}
		},
		"required": ["agent_name", "prompt"]
	}`)
}

func (t *TaskTool) ParameterOrder() []string { return []string{"agent_name", "prompt"} }
func (t *TaskTool) RequiresApproval() bool   { return false }

func (t *TaskTool) Execute(ctx context.Context, raw json.RawMessage) models.ToolResult {
	var args taskArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return models.ErrorResult("invalid task arguments", err.Error())
	}
	if args.AgentName == "" || args.Prompt == "" {
		return models.ErrorResult("agent_name and prompt are required", "")
	}

	childSession := fmt.Sprintf("%s/%s", t.sessionID, args.AgentName)
	sub, err := t.factory(ctx, args.AgentName, childSession)
	if err != nil {
		return models.ErrorResult(fmt.Sprintf("spawning sub-agent %q", args.AgentName), err.Error())
	}

	if err := sub.Execute(ctx, args.Prompt); err != nil {
		return models.ErrorResult(fmt.Sprintf("sub-agent %q failed", args.AgentName), err.Error())
	}

	return models.OkResult(lastAssistantText(sub.store), "")
}

// lastAssistantText returns the flattened content of the most recent
// assistant Message in the sub-agent's isolated Context, which is the
// "summarized response" handed back to the parent as the tool result.
func lastAssistantText(store *contextstore.Context) string {
	history := store.History()
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleAssistant {
			return history[i].Content.Flatten()
		}
	}
	return ""
}

// NewSubAgentBus forwards every event from a sub-agent to parent,
// prefixing its Message with the sub-agent's name in brackets so a UI
// can nest them visually; the events never reach the parent Context
// (spec §9).
func NewSubAgentBus(parent bus.Sink, agentName string) bus.Sink {
	return bus.CallbackSink{Fn: func(ctx context.Context, e bus.Event) {
		e.Message = fmt.Sprintf("[%s] %s", agentName, e.Message)
		parent.Emit(ctx, e)
	}}
}
