package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - ReAct loop run counts, outcomes, and durations
//   - LLM request performance, token usage, and estimated cost
//   - Tool execution latencies and approval outcomes
//   - Code interpreter sandbox executions
//   - Guardrail decisions (allow/block/redact)
//   - Error rates categorized by type and component
//   - Active session counts for capacity planning
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RunStarted("default")
//	defer metrics.LLMRequestDuration("anthropic", "claude-3-opus").Observe(time.Since(start).Seconds())
type Metrics struct {
	// RunCounter tracks orchestrator runs by agent and outcome.
	// Labels: agent, outcome (completed|failed|cancelled)
	RunCounter *prometheus.CounterVec

	// RunDuration measures end-to-end run latency in seconds.
	// Labels: agent
	// Buckets: 0.5s, 1s, 2s, 5s, 10s, 30s, 60s, 120s, 300s
	RunDuration *prometheus.HistogramVec

	// RunSteps tracks the number of ReAct iterations per run.
	// Labels: agent
	RunSteps *prometheus.HistogramVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider (anthropic|openai|bedrock|...), model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// LLMCostUSD tracks estimated cost in USD.
	// Labels: provider, model
	LLMCostUSD *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|denied)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// ApprovalCounter tracks human-in-the-loop approval decisions.
	// Labels: outcome (approved|denied|timeout)
	ApprovalCounter *prometheus.CounterVec

	// ApprovalWaitDuration measures how long a tool call waited for a human decision.
	// Labels: tool_name
	// Buckets: 1s, 5s, 15s, 30s, 60s, 300s, 900s
	ApprovalWaitDuration *prometheus.HistogramVec

	// SandboxExecutionCounter counts code interpreter sandbox runs.
	// Labels: runtime (python|node|...), status (success|error|timeout)
	SandboxExecutionCounter *prometheus.CounterVec

	// SandboxExecutionDuration measures sandboxed code execution time in seconds.
	// Labels: runtime
	// Buckets: 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s, 120s
	SandboxExecutionDuration *prometheus.HistogramVec

	// GuardrailDecisions tracks guardrail hook outcomes.
	// Labels: hook_name, decision (allow|block|redact)
	GuardrailDecisions *prometheus.CounterVec

	// ErrorCounter tracks errors by type and component.
	// Labels: component (agent|tool|sandbox|session), error_type
	ErrorCounter *prometheus.CounterVec

	// ActiveSessions is a gauge tracking current active sessions.
	// Labels: tier (hot|cold)
	ActiveSessions *prometheus.GaugeVec

	// SessionDuration measures session lifetime in seconds.
	// Buckets: 60s, 300s, 600s, 1800s, 3600s, 7200s, 14400s, 28800s
	SessionDuration prometheus.Histogram

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// DatabaseQueryDuration measures database query latency.
	// Labels: operation (select|insert|update|delete), table
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	DatabaseQueryDuration *prometheus.HistogramVec

	// DatabaseQueryCounter counts database queries.
	// Labels: operation, table, status (success|error)
	DatabaseQueryCounter *prometheus.CounterVec

	// ContextWindowUsed tracks context window utilization.
	// Labels: provider, model
	// Buckets: 1000, 4000, 8000, 16000, 32000, 64000, 128000
	ContextWindowUsed *prometheus.HistogramVec

	// RunAttempts counts run attempts (for retry tracking).
	// Labels: status (success|retry|failed)
	RunAttempts *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default registry
// and will be available at the /metrics endpoint when using prometheus HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		RunCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentplatform_runs_total",
				Help: "Total number of orchestrator runs by agent and outcome",
			},
			[]string{"agent", "outcome"},
		),

		RunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentplatform_run_duration_seconds",
				Help:    "End-to-end duration of orchestrator runs in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"agent"},
		),

		RunSteps: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentplatform_run_steps",
				Help:    "Number of ReAct iterations per run",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
			},
			[]string{"agent"},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentplatform_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentplatform_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentplatform_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		LLMCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentplatform_llm_cost_usd_total",
				Help: "Estimated LLM API cost in USD",
			},
			[]string{"provider", "model"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentplatform_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentplatform_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ApprovalCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentplatform_approvals_total",
				Help: "Total number of human-in-the-loop approval decisions by outcome",
			},
			[]string{"outcome"},
		),

		ApprovalWaitDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentplatform_approval_wait_seconds",
				Help:    "Time a tool call spent waiting for a human approval decision",
				Buckets: []float64{1, 5, 15, 30, 60, 300, 900},
			},
			[]string{"tool_name"},
		),

		SandboxExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentplatform_sandbox_executions_total",
				Help: "Total number of code interpreter sandbox executions by runtime and status",
			},
			[]string{"runtime", "status"},
		),

		SandboxExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentplatform_sandbox_execution_duration_seconds",
				Help:    "Duration of code interpreter sandbox executions in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"runtime"},
		),

		GuardrailDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentplatform_guardrail_decisions_total",
				Help: "Total number of guardrail hook decisions by hook name and decision",
			},
			[]string{"hook_name", "decision"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentplatform_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		ActiveSessions: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agentplatform_active_sessions",
				Help: "Current number of active sessions by tier",
			},
			[]string{"tier"},
		),

		SessionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentplatform_session_duration_seconds",
				Help:    "Duration of sessions in seconds",
				Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800},
			},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentplatform_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentplatform_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		DatabaseQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentplatform_database_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "table"},
		),

		DatabaseQueryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentplatform_database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"operation", "table", "status"},
		),

		ContextWindowUsed: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentplatform_context_window_tokens",
				Help:    "Context window tokens used",
				Buckets: []float64{1000, 4000, 8000, 16000, 32000, 64000, 128000},
			},
			[]string{"provider", "model"},
		),

		RunAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentplatform_run_attempts_total",
				Help: "Total number of run attempts by status",
			},
			[]string{"status"},
		),
	}
}

// RunStarted increments the run counter is deferred until RunEnded knows the
// outcome; this records the step count and duration once a run finishes.
//
// Example:
//
//	metrics.RunEnded("default", "completed", 5, time.Since(start).Seconds())
func (m *Metrics) RunEnded(agent, outcome string, steps int, durationSeconds float64) {
	m.RunCounter.WithLabelValues(agent, outcome).Inc()
	m.RunDuration.WithLabelValues(agent).Observe(durationSeconds)
	m.RunSteps.WithLabelValues(agent).Observe(float64(steps))
}

// RecordLLMRequest records metrics for an LLM API request.
//
// Example:
//
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("anthropic", "claude-3-opus", "success", time.Since(start).Seconds(), 100, 500)
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
//
// Example:
//
//	start := time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("web_search", "success", time.Since(start).Seconds())
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordApproval records the outcome of a human-in-the-loop approval request
// and how long the tool call waited for it.
//
// Example:
//
//	metrics.RecordApproval("bash", "approved", 12.4)
func (m *Metrics) RecordApproval(toolName, outcome string, waitSeconds float64) {
	m.ApprovalCounter.WithLabelValues(outcome).Inc()
	m.ApprovalWaitDuration.WithLabelValues(toolName).Observe(waitSeconds)
}

// RecordSandboxExecution records metrics for a code interpreter sandbox run.
//
// Example:
//
//	metrics.RecordSandboxExecution("python", "success", 1.8)
func (m *Metrics) RecordSandboxExecution(runtime, status string, durationSeconds float64) {
	m.SandboxExecutionCounter.WithLabelValues(runtime, status).Inc()
	m.SandboxExecutionDuration.WithLabelValues(runtime).Observe(durationSeconds)
}

// RecordGuardrailDecision records a guardrail hook's decision for a tool call
// or message.
//
// Example:
//
//	metrics.RecordGuardrailDecision("pii_filter", "redact")
func (m *Metrics) RecordGuardrailDecision(hookName, decision string) {
	m.GuardrailDecisions.WithLabelValues(hookName, decision).Inc()
}

// RecordError increments the error counter for a given component and error type.
//
// Example:
//
//	metrics.RecordError("agent", "api_timeout")
//	metrics.RecordError("sandbox", "timeout")
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// SessionStarted increments the active sessions gauge for a given tier.
//
// Example:
//
//	metrics.SessionStarted("hot")
func (m *Metrics) SessionStarted(tier string) {
	m.ActiveSessions.WithLabelValues(tier).Inc()
}

// SessionEnded decrements the active sessions gauge and records session duration.
//
// Example:
//
//	start := time.Now()
//	// ... session lifecycle ...
//	metrics.SessionEnded("hot", time.Since(start).Seconds())
func (m *Metrics) SessionEnded(tier string, durationSeconds float64) {
	m.ActiveSessions.WithLabelValues(tier).Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records metrics for an HTTP request.
//
// Example:
//
//	start := time.Now()
//	// ... handle HTTP request ...
//	metrics.RecordHTTPRequest("GET", "/threads", "200", time.Since(start).Seconds())
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordDatabaseQuery records metrics for a database query.
//
// Example:
//
//	start := time.Now()
//	// ... execute database query ...
//	metrics.RecordDatabaseQuery("select", "sessions", "success", time.Since(start).Seconds())
func (m *Metrics) RecordDatabaseQuery(operation, table, status string, durationSeconds float64) {
	m.DatabaseQueryCounter.WithLabelValues(operation, table, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}

// RecordLLMCost records estimated API cost.
//
// Example:
//
//	metrics.RecordLLMCost("anthropic", "claude-3-opus", 0.015)
func (m *Metrics) RecordLLMCost(provider, model string, costUSD float64) {
	m.LLMCostUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordContextWindow records context window utilization.
//
// Example:
//
//	metrics.RecordContextWindow("anthropic", "claude-3-opus", 45000)
func (m *Metrics) RecordContextWindow(provider, model string, tokensUsed int) {
	m.ContextWindowUsed.WithLabelValues(provider, model).Observe(float64(tokensUsed))
}

// RecordRunAttempt records a run attempt.
//
// Example:
//
//	metrics.RecordRunAttempt("success")
//	metrics.RecordRunAttempt("retry")
//	metrics.RecordRunAttempt("failed")
func (m *Metrics) RecordRunAttempt(status string) {
	m.RunAttempts.WithLabelValues(status).Inc()
}
