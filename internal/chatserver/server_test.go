package chatserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agentplatform/core/internal/agent"
	"github.com/agentplatform/core/internal/sessions"
)

// echoProvider answers with a single fixed chunk of text, enough to drive
// the agentic loop through one full turn without touching a real LLM.
type echoProvider struct{ reply string }

func (p *echoProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	ch := make(chan *agent.CompletionChunk, 2)
	ch <- &agent.CompletionChunk{Text: p.reply}
	ch <- &agent.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}
func (p *echoProvider) Name() string          { return "echo" }
func (p *echoProvider) Models() []agent.Model { return nil }
func (p *echoProvider) SupportsTools() bool   { return false }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	hot := sessions.NewHotTier(sessions.DefaultHotTierOptions())
	cold := sessions.NewHotTier(sessions.DefaultHotTierOptions())
	manager := sessions.NewManager(hot, cold, sessions.DefaultManagerOptions())
	history := sessions.NewMemoryHistoryStore()

	runtime := agent.NewAgenticRuntime(&echoProvider{reply: "hello there"}, history, &agent.LoopConfig{})
	return New(manager, history, runtime, nil, DefaultConfig())
}

func TestCreateAndGetThread(t *testing.T) {
	s := newTestServer(t)

	body := strings.NewReader(`{"name":"support"}`)
	req := httptest.NewRequest(http.MethodPost, "/threads", body)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var thread Thread
	if err := json.Unmarshal(rec.Body.Bytes(), &thread); err != nil {
		t.Fatalf("decode thread: %v", err)
	}
	if thread.ID == "" {
		t.Fatal("thread id is empty")
	}

	getReq := httptest.NewRequest(http.MethodGet, "/threads/"+thread.ID, nil)
	getRec := httptest.NewRecorder()
	s.Routes().ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200: %s", getRec.Code, getRec.Body.String())
	}
}

func TestGetUnknownThreadNotFound(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/threads/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestChatStreamsAssistantText(t *testing.T) {
	s := newTestServer(t)

	createRec := httptest.NewRecorder()
	s.Routes().ServeHTTP(createRec, httptest.NewRequest(http.MethodPost, "/threads", strings.NewReader(`{}`)))
	var thread Thread
	if err := json.Unmarshal(createRec.Body.Bytes(), &thread); err != nil {
		t.Fatalf("decode thread: %v", err)
	}

	chatBody := `{"thread_id":"` + thread.ID + `","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(chatBody))
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.Routes().ServeHTTP(rec, req)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for /chat to finish streaming")
	}

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "hello there") {
		t.Errorf("response body missing assistant text: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "event: completion") {
		t.Errorf("response body missing completion event: %s", rec.Body.String())
	}
}

func TestFeedbackRequiresForIDAndThreadID(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/feedbacks", strings.NewReader(`{"value":1}`))
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestFeedbackAccepted(t *testing.T) {
	s := newTestServer(t)
	body := `{"for_id":"msg-1","thread_id":"thread-1","value":1,"comment":"great answer"}`
	req := httptest.NewRequest(http.MethodPost, "/feedbacks", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
}

func TestRespondUnknownRequestIDNotFound(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/chat/respond/does-not-exist", strings.NewReader(`{"action":"approve"}`))
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
