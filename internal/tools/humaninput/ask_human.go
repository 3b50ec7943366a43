// Package humaninput provides the ask_human tool, the agent-facing half
// of internal/hitl: a tool call that blocks the ReAct loop until a
// chat-server client answers the question over the SSE/respond channel.
package humaninput

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentplatform/core/internal/agent"
	"github.com/agentplatform/core/internal/hitl"
)

// Tool asks the human operating the chat client a free-text or
// multiple-choice question and waits for their answer.
type Tool struct{}

// New constructs the ask_human tool. It carries no state of its own;
// the active hitl.Bridge is resolved from the call's context so a
// single registered instance serves every concurrent run.
func New() *Tool {
	return &Tool{}
}

func (t *Tool) Name() string { return "ask_human" }

func (t *Tool) Description() string {
	return "Ask the human operating this session a question and wait for their answer. " +
		"Use this when you need clarification, a decision, or missing information only a " +
		"person can supply. Blocks until answered or the request times out."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"question": {"type": "string", "description": "The question to put to the human"},
			"options": {
				"type": "array",
				"description": "Optional multiple-choice options; omit for a free-text question",
				"items": {
					"type": "object",
					"properties": {
						"key": {"type": "string"},
						"label": {"type": "string"},
						"description": {"type": "string"}
					},
					"required": ["key", "label"]
				}
			},
			"allow_freeform": {
				"type": "boolean",
				"description": "When options are given, also accept a free-text answer (default true)"
			}
		},
		"required": ["question"]
	}`)
}

type askHumanParams struct {
	Question      string             `json:"question"`
	Options       []hitl.InputOption `json:"options"`
	AllowFreeform *bool              `json:"allow_freeform"`
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p askHumanParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid ask_human parameters: %v", err), IsError: true}, nil
	}
	if p.Question == "" {
		return &agent.ToolResult{Content: "question is required", IsError: true}, nil
	}

	bridge, ok := hitl.BridgeFromContext(ctx)
	if !ok || bridge == nil {
		return &agent.ToolResult{Content: "ask_human is unavailable: no interactive client is attached to this run", IsError: true}, nil
	}

	allowFreeform := len(p.Options) == 0
	if p.AllowFreeform != nil {
		allowFreeform = *p.AllowFreeform
	}

	runID := runIDFromContext(ctx)
	resp, err := bridge.RequestInput(ctx, runID, p.Question, p.Options, allowFreeform, nil)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("ask_human failed: %v", err), IsError: true}, nil
	}

	answer := resp.FreeformText
	if resp.SelectedKey != "" {
		answer = resp.SelectedLabel
		if answer == "" {
			answer = resp.SelectedKey
		}
	}
	if answer == "" {
		return &agent.ToolResult{Content: "human gave no answer", IsError: true}, nil
	}
	return &agent.ToolResult{Content: answer}, nil
}

func runIDFromContext(ctx context.Context) string {
	if session := agent.SessionFromContext(ctx); session != nil {
		return session.ID
	}
	return ""
}
