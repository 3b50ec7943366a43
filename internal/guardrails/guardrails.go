// Package guardrails runs async safety checks over orchestrator input,
// output, and tool-call text, firing checks of the same kind in parallel
// and aborting a run only when a checker both fails and flags a tripwire.
package guardrails

import (
	"context"
	"log/slog"
	"sync"
)

// Kind identifies which part of a turn a guardrail inspects.
type Kind string

const (
	KindInput  Kind = "input"
	KindOutput Kind = "output"
	KindTool   Kind = "tool"
)

// CheckContext is the frozen context handed to a guardrail. At most one of
// InputText/OutputText is populated; ToolName/ToolArgs are populated only
// for KindTool checks.
type CheckContext struct {
	SessionID  string
	InputText  string
	OutputText string
	ToolName   string
	ToolArgs   string
}

// Result is a guardrail's verdict. Tripwire true together with Passed
// false aborts the run; Passed true with Tripwire true is nonsensical and
// treated as passed.
type Result struct {
	Passed   bool
	Tripwire bool
	Message  string
	Metadata map[string]any
}

// Guardrail is one named async check function.
type Guardrail struct {
	Name  string
	Check func(ctx context.Context, cc CheckContext) Result
}

// Runner fires all guardrails registered for a Kind in parallel and
// reports the first tripped result, if any. A guardrail whose Check
// panics or whose context is canceled mid-check fails open (Passed:
// true) so a broken check never produces a false hard stop.
type Runner struct {
	logger     *slog.Logger
	guardrails map[Kind][]Guardrail
}

// NewRunner creates a guardrail runner. A nil logger uses slog.Default.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		logger:     logger.With("component", "guardrails"),
		guardrails: make(map[Kind][]Guardrail),
	}
}

// Register adds a guardrail for the given kind.
func (r *Runner) Register(kind Kind, g Guardrail) {
	r.guardrails[kind] = append(r.guardrails[kind], g)
}

// Run fires every guardrail registered for kind concurrently and returns
// the aggregate outcome: tripped is true, with the tripping guardrail's
// result, the moment any checker reports passed=false and tripwire=true.
// All other outcomes, including a checker panic, count as passed.
func (r *Runner) Run(ctx context.Context, kind Kind, cc CheckContext) (tripped bool, result Result) {
	checks := r.guardrails[kind]
	if len(checks) == 0 {
		return false, Result{Passed: true}
	}

	results := make([]Result, len(checks))
	var wg sync.WaitGroup
	for i := range checks {
		wg.Add(1)
		go func(idx int, g Guardrail) {
			defer wg.Done()
			results[idx] = r.runOne(ctx, g, cc)
		}(i, checks[i])
	}
	wg.Wait()

	for _, res := range results {
		if !res.Passed && res.Tripwire {
			return true, res
		}
	}
	return false, Result{Passed: true}
}

func (r *Runner) runOne(ctx context.Context, g Guardrail, cc CheckContext) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("guardrail panicked, failing open", "guardrail", g.Name, "panic", p)
			res = Result{Passed: true}
		}
	}()
	if ctx.Err() != nil {
		return Result{Passed: true}
	}
	return g.Check(ctx, cc)
}
