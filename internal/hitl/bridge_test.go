package hitl

import (
	"context"
	"testing"
	"time"
)

func TestRequestApprovalResolvedByRespond(t *testing.T) {
	b := New(5 * time.Second)
	defer b.Close()

	resultCh := make(chan ApprovalResponse, 1)
	go func() {
		resp, err := b.RequestApproval(context.Background(), "run-1", "calculator", "call-1", nil, nil)
		if err != nil {
			t.Errorf("RequestApproval: %v", err)
		}
		resultCh <- resp
	}()

	ev := <-b.Events()
	if ev.Kind != KindToolApproval {
		t.Fatalf("got kind %q, want %q", ev.Kind, KindToolApproval)
	}
	if err := b.RespondApproval(ev.RequestID, ApprovalResponse{Action: ActionApprove}); err != nil {
		t.Fatalf("RespondApproval: %v", err)
	}

	select {
	case got := <-resultCh:
		if got.Action != ActionApprove {
			t.Errorf("action = %q, want approve", got.Action)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for approval result")
	}
}

func TestRequestApprovalTimesOutAsDeny(t *testing.T) {
	b := New(20 * time.Millisecond)
	defer b.Close()

	go func() { <-b.Events() }()

	resp, err := b.RequestApproval(context.Background(), "run-1", "calculator", "call-1", nil, nil)
	if err != ErrTimedOut {
		t.Fatalf("err = %v, want ErrTimedOut", err)
	}
	if resp.Action != ActionDeny {
		t.Errorf("timed-out action = %q, want deny", resp.Action)
	}
}

func TestRespondUnknownRequestID(t *testing.T) {
	b := New(time.Second)
	defer b.Close()

	err := b.RespondApproval("does-not-exist", ApprovalResponse{Action: ActionApprove})
	if err != ErrNoPendingRequest {
		t.Fatalf("err = %v, want ErrNoPendingRequest", err)
	}
}

func TestConcurrentRequestsResolveIndependently(t *testing.T) {
	b := New(5 * time.Second)
	defer b.Close()

	const n = 5
	results := make(chan ApprovalResponse, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			resp, _ := b.RequestApproval(context.Background(), "run-1", "tool", "call", nil, nil)
			results <- resp
		}(i)
	}

	seen := 0
	for seen < n {
		ev := <-b.Events()
		action := ActionApprove
		if seen%2 == 1 {
			action = ActionDeny
		}
		if err := b.RespondApproval(ev.RequestID, ApprovalResponse{Action: action}); err != nil {
			t.Fatalf("RespondApproval: %v", err)
		}
		seen++
	}

	for i := 0; i < n; i++ {
		<-results
	}
}

func TestRequestInputFreeform(t *testing.T) {
	b := New(5 * time.Second)
	defer b.Close()

	resultCh := make(chan InputResponse, 1)
	go func() {
		resp, err := b.RequestInput(context.Background(), "run-1", "What's your name?", nil, true, nil)
		if err != nil {
			t.Errorf("RequestInput: %v", err)
		}
		resultCh <- resp
	}()

	ev := <-b.Events()
	if ev.Kind != KindHumanInput {
		t.Fatalf("got kind %q, want %q", ev.Kind, KindHumanInput)
	}
	if err := b.RespondInput(ev.RequestID, InputResponse{FreeformText: "Ada"}); err != nil {
		t.Fatalf("RespondInput: %v", err)
	}

	select {
	case got := <-resultCh:
		if got.FreeformText != "Ada" {
			t.Errorf("freeform = %q, want Ada", got.FreeformText)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for input result")
	}
}
