package observability

import "context"

// Context keys correlating a run, its LLM calls, and its tool calls across
// logs. Distinct from the request/session/user/agent keys in logging.go:
// these identify one orchestrator run rather than the HTTP request or
// session that triggered it.
const (
	// RunIDKey is the context key for the orchestrator run ID.
	RunIDKey ContextKey = "run_id"

	// ToolCallIDKey is the context key for the active tool call ID.
	ToolCallIDKey ContextKey = "tool_call_id"

	// MessageIDKey is the context key for the inbound message ID that
	// triggered a run.
	MessageIDKey ContextKey = "message_id"
)

// AddRunID adds a run ID to the context.
func AddRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// GetRunID retrieves the run ID from the context.
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(RunIDKey).(string); ok {
		return id
	}
	return ""
}

// AddToolCallID adds a tool call ID to the context.
func AddToolCallID(ctx context.Context, toolCallID string) context.Context {
	return context.WithValue(ctx, ToolCallIDKey, toolCallID)
}

// GetToolCallID retrieves the tool call ID from the context.
func GetToolCallID(ctx context.Context) string {
	if id, ok := ctx.Value(ToolCallIDKey).(string); ok {
		return id
	}
	return ""
}

// AddMessageID adds the triggering message ID to the context.
func AddMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, messageID)
}

// GetMessageID retrieves the triggering message ID from the context.
func GetMessageID(ctx context.Context) string {
	if id, ok := ctx.Value(MessageIDKey).(string); ok {
		return id
	}
	return ""
}
