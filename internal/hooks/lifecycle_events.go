package hooks

// Orchestrator run lifecycle events, fired once per run/step/model-call
// and tool call, plus the event a tripped guardrail fires.
const (
	// EventRunStart fires once when an orchestrator run begins.
	EventRunStart EventType = "run_start"

	// EventRunEnd fires once when an orchestrator run reaches a terminal
	// status (complete, error, or guardrail trip).
	EventRunEnd EventType = "run_end"

	// EventStepStart fires at the beginning of each think/act iteration.
	EventStepStart EventType = "step_start"

	// EventStepEnd fires at the end of each think/act iteration.
	EventStepEnd EventType = "step_end"

	// EventLLMStart fires immediately before a model call.
	EventLLMStart EventType = "llm_start"

	// EventLLMEnd fires after a model call returns (success or error).
	EventLLMEnd EventType = "llm_end"

	// EventToolStart fires immediately before a tool call executes.
	EventToolStart EventType = "tool_start"

	// EventToolEnd fires after a tool call returns (success or error).
	EventToolEnd EventType = "tool_end"

	// EventGuardrailTrip fires when a guardrail check aborts a run.
	EventGuardrailTrip EventType = "guardrail_trip"
)
