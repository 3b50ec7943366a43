package hooks

import (
	"github.com/agentplatform/core/pkg/models"
)

// Tool execution event types, kept from nexus's Clawdbot-pattern tool
// hook vocabulary for the approval sub-states ToolEventFromModel maps
// onto. Unlike the lifecycle events in lifecycle_events.go, these are
// per-tool-call states rather than once-per-run/step markers.
const (
	// EventToolCalled fires when a tool call is first requested by the model.
	EventToolCalled EventType = "tool.called"

	// EventToolCompleted fires when a tool call finishes, successfully or not.
	EventToolCompleted EventType = "tool.completed"

	// EventToolPreExecution fires immediately before a tool call runs.
	EventToolPreExecution EventType = "tool.pre_execution"

	// EventToolApprovalRequired fires when a tool call is held for approval.
	EventToolApprovalRequired EventType = "tool.approval_required"

	// EventToolApprovalGranted fires when a held tool call is approved.
	EventToolApprovalGranted EventType = "tool.approval_granted"

	// EventToolApprovalDenied fires when a held tool call is denied.
	EventToolApprovalDenied EventType = "tool.approval_denied"

	// EventToolApprovalTimeout fires when an approval hold expires unanswered.
	EventToolApprovalTimeout EventType = "tool.approval_timeout"

	// EventToolRetry fires when a failed tool call is retried.
	EventToolRetry EventType = "tool.retry"

	// EventToolRateLimited fires when a tool call is rejected for rate limiting.
	EventToolRateLimited EventType = "tool.rate_limited"
)

// ToolEventFromModel converts an orchestrator tool event into a hooks Event
// so the agentic loop can dispatch tool lifecycle state through the same
// registry used for run/step/llm events, instead of a parallel notification
// path.
func ToolEventFromModel(te *models.ToolEvent) *Event {
	var eventType EventType
	switch te.Stage {
	case models.ToolEventRequested:
		eventType = EventToolCalled
	case models.ToolEventStarted:
		eventType = EventToolPreExecution
	case models.ToolEventSucceeded:
		eventType = EventToolCompleted
	case models.ToolEventFailed:
		eventType = EventToolCompleted
	case models.ToolEventDenied:
		eventType = EventToolApprovalDenied
	case models.ToolEventRetrying:
		eventType = EventToolRetry
	case models.ToolEventApprovalRequired:
		eventType = EventToolApprovalRequired
	default:
		eventType = EventToolCalled
	}

	event := NewEvent(eventType, string(te.Stage)).
		WithContext("tool_name", te.ToolName).
		WithContext("tool_call_id", te.ToolCallID).
		WithContext("attempt", te.Attempt)

	if te.Error != "" {
		event.ErrorMsg = te.Error
	}
	if te.PolicyReason != "" {
		event = event.WithContext("policy_reason", te.PolicyReason)
	}

	return event
}
