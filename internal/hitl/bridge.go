// Package hitl bridges an agent's synchronous "ask the human" and
// "approve this tool call" calls to an asynchronous HTTP client that
// receives the question over SSE and answers it with a separate POST.
//
// Grounded on internal/agent/approval.go's poll-based ApprovalChecker,
// recast as a blocking channel rendezvous matching the
// callback-resolves-a-pending-future shape of a CallbackHumanHandler /
// CallbackApprovalHandler pair.
package hitl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RequestKind discriminates the two HITL protocols.
type RequestKind string

const (
	KindToolApproval RequestKind = "tool_approval_request"
	KindHumanInput   RequestKind = "human_input_request"
)

// ApprovalAction is the caller's verdict on a tool-approval request.
type ApprovalAction string

const (
	ActionApprove ApprovalAction = "approve"
	ActionDeny    ApprovalAction = "deny"
	ActionModify  ApprovalAction = "modify"
)

// InputOption is one multiple-choice option offered to the human.
type InputOption struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// OutgoingEvent is what the SSE sender forwards to the client.
type OutgoingEvent struct {
	Kind      RequestKind `json:"type"`
	RequestID string      `json:"request_id"`
	RunID     string      `json:"run_id,omitempty"`

	// Tool-approval fields.
	ToolName  string          `json:"tool_name,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`

	// Human-input fields.
	Question       string        `json:"question,omitempty"`
	Options        []InputOption `json:"options,omitempty"`
	AllowFreeform  bool          `json:"allow_freeform,omitempty"`

	Context map[string]any `json:"context,omitempty"`
}

// ApprovalResponse is POSTed back for a KindToolApproval request.
type ApprovalResponse struct {
	Action             ApprovalAction  `json:"action"`
	ModifiedArguments  json.RawMessage `json:"modified_arguments,omitempty"`
	Reason             string          `json:"reason,omitempty"`
}

// InputResponse is POSTed back for a KindHumanInput request.
type InputResponse struct {
	SelectedKey   string `json:"selected_key,omitempty"`
	SelectedLabel string `json:"selected_label,omitempty"`
	FreeformText  string `json:"freeform_text,omitempty"`
}

// pendingResponse is whatever payload arrives at the respond endpoint,
// tagged by kind so the awaiting goroutine can type-assert it back.
type pendingResponse struct {
	kind     RequestKind
	approval ApprovalResponse
	input    InputResponse
}

// ErrNoPendingRequest is returned by Respond when request_id is unknown
// (already resolved, timed out, or never issued).
var ErrNoPendingRequest = errors.New("hitl: no pending request for id")

// ErrTimedOut marks an approval/input result returned after the default
// timeout elapsed with no response.
var ErrTimedOut = errors.New("hitl: request timed out")

type pending struct {
	kind RequestKind
	ch   chan pendingResponse
}

// Bridge holds the process-wide pending-request table and the
// single-consumer outgoing event queue for one run's SSE stream.
//
// One Bridge is created per streamed chat turn (not global across the
// process) so that a disconnect cleanly discards only that turn's
// pending requests; the pending-request table itself is this struct's
// field, one process-wide map of pending requests
// at the granularity of one active run.
type Bridge struct {
	mu      sync.Mutex
	pending map[string]*pending

	outgoing chan OutgoingEvent
	done     chan struct{}
	doneOnce sync.Once

	timeout time.Duration
}

// DefaultTimeout is applied when New is called with timeout <= 0.
const DefaultTimeout = 300 * time.Second

// New constructs a Bridge with a buffered outgoing queue.
func New(timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Bridge{
		pending:  map[string]*pending{},
		outgoing: make(chan OutgoingEvent, 64),
		done:     make(chan struct{}),
		timeout:  timeout,
	}
}

// Events returns the channel the SSE sender drains in FIFO order. It is
// closed after Close is called and all buffered events are delivered.
func (b *Bridge) Events() <-chan OutgoingEvent {
	return b.outgoing
}

// Close signals the SSE sender to terminate the stream once the queue
// drains. Safe to call multiple times.
func (b *Bridge) Close() {
	b.doneOnce.Do(func() {
		close(b.done)
		close(b.outgoing)
	})
}

func (b *Bridge) enqueue(ctx context.Context, ev OutgoingEvent) error {
	select {
	case b.outgoing <- ev:
		return nil
	case <-b.done:
		return errors.New("hitl: bridge closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) register(kind RequestKind) (string, chan pendingResponse) {
	id := uuid.NewString()
	ch := make(chan pendingResponse, 1)
	b.mu.Lock()
	b.pending[id] = &pending{kind: kind, ch: ch}
	b.mu.Unlock()
	return id, ch
}

func (b *Bridge) unregister(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// RequestApproval blocks until the client approves, denies, or modifies
// the given tool call, or the bridge's timeout elapses (treated as deny).
func (b *Bridge) RequestApproval(ctx context.Context, runID, toolName, callID string, arguments json.RawMessage, meta map[string]any) (ApprovalResponse, error) {
	id, ch := b.register(KindToolApproval)
	defer b.unregister(id)

	if err := b.enqueue(ctx, OutgoingEvent{
		Kind: KindToolApproval, RequestID: id, RunID: runID,
		ToolName: toolName, CallID: callID, Arguments: arguments, Context: meta,
	}); err != nil {
		return ApprovalResponse{Action: ActionDeny, Reason: err.Error()}, err
	}

	select {
	case resp := <-ch:
		if resp.kind != KindToolApproval {
			return ApprovalResponse{Action: ActionDeny}, fmt.Errorf("hitl: response kind mismatch for %s", id)
		}
		return resp.approval, nil
	case <-time.After(b.timeout):
		return ApprovalResponse{Action: ActionDeny, Reason: "timed out waiting for approval"}, ErrTimedOut
	case <-ctx.Done():
		return ApprovalResponse{Action: ActionDeny, Reason: "run cancelled"}, ctx.Err()
	}
}

// RequestInput blocks until the client answers an open-ended question
// (the AskHumanTool pattern from the Python original), or times out.
func (b *Bridge) RequestInput(ctx context.Context, runID, question string, options []InputOption, allowFreeform bool, meta map[string]any) (InputResponse, error) {
	id, ch := b.register(KindHumanInput)
	defer b.unregister(id)

	if err := b.enqueue(ctx, OutgoingEvent{
		Kind: KindHumanInput, RequestID: id, RunID: runID,
		Question: question, Options: options, AllowFreeform: allowFreeform, Context: meta,
	}); err != nil {
		return InputResponse{}, err
	}

	select {
	case resp := <-ch:
		if resp.kind != KindHumanInput {
			return InputResponse{}, fmt.Errorf("hitl: response kind mismatch for %s", id)
		}
		return resp.input, nil
	case <-time.After(b.timeout):
		return InputResponse{}, ErrTimedOut
	case <-ctx.Done():
		return InputResponse{}, ctx.Err()
	}
}

// RespondApproval resolves a pending tool-approval request. Returns
// ErrNoPendingRequest if the id is unknown (already resolved, timed out,
// or a POST for the wrong kind of request).
func (b *Bridge) RespondApproval(requestID string, resp ApprovalResponse) error {
	b.mu.Lock()
	p, ok := b.pending[requestID]
	b.mu.Unlock()
	if !ok {
		return ErrNoPendingRequest
	}
	if p.kind != KindToolApproval {
		return fmt.Errorf("hitl: %s is not a tool-approval request", requestID)
	}
	select {
	case p.ch <- pendingResponse{kind: KindToolApproval, approval: resp}:
		return nil
	default:
		return ErrNoPendingRequest
	}
}

// RespondInput resolves a pending human-input request.
func (b *Bridge) RespondInput(requestID string, resp InputResponse) error {
	b.mu.Lock()
	p, ok := b.pending[requestID]
	b.mu.Unlock()
	if !ok {
		return ErrNoPendingRequest
	}
	if p.kind != KindHumanInput {
		return fmt.Errorf("hitl: %s is not a human-input request", requestID)
	}
	select {
	case p.ch <- pendingResponse{kind: KindHumanInput, input: resp}:
		return nil
	default:
		return ErrNoPendingRequest
	}
}

// PendingCount reports the number of unresolved requests, exposed as a
// gauge by internal/observability.
func (b *Bridge) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
