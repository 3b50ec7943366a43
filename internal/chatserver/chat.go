package chatserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/agentplatform/core/internal/agent"
	"github.com/agentplatform/core/internal/hitl"
	"github.com/agentplatform/core/pkg/models"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	ThreadID string        `json:"thread_id"`
	Messages []chatMessage `json:"messages"`
}

// activeRun tracks one in-flight streamed turn so /chat/respond/{id} can
// find the bridge and the approval checker guarding it.
type activeRun struct {
	bridge *hitl.Bridge
}

func (s *Server) trackRun(runID string, run *activeRun) {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	if s.runs == nil {
		s.runs = map[string]*activeRun{}
	}
	s.runs[runID] = run
}

func (s *Server) untrackRun(runID string) {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	delete(s.runs, runID)
}

func (s *Server) activeRuns() []*activeRun {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	out := make([]*activeRun, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	return out
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "decode request: "+err.Error())
		return
	}
	if req.ThreadID == "" {
		writeError(w, http.StatusBadRequest, "thread_id is required")
		return
	}
	last := lastUserMessage(req.Messages)
	if last == "" {
		writeError(w, http.StatusBadRequest, "messages must include at least one user turn")
		return
	}

	session, err := s.threads.ResumeSession(r.Context(), req.ThreadID)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	if err := s.ensureHistorySession(r.Context(), session); err != nil {
		writeError(w, http.StatusInternalServerError, "prepare history: "+err.Error())
		return
	}

	if err := s.threads.AddMessage(r.Context(), session.ID, models.NewUserText(last)); err != nil {
		writeError(w, http.StatusInternalServerError, "persist turn: "+err.Error())
		return
	}

	// The agentic loop itself persists both the inbound and assistant turns
	// to s.history (the same sessions.Store passed into the runtime), so
	// msg only needs constructing here, not writing.
	msg := &models.Message{SessionID: session.ID, Role: models.RoleUser, Content: last}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	runID := uuid.NewString()
	bridge := hitl.New(s.cfg.HITLTimeout)
	s.trackRun(runID, &activeRun{bridge: bridge})
	defer s.untrackRun(runID)

	ctx := hitl.WithBridge(r.Context(), bridge)
	chunks, err := s.runtime.Process(ctx, session, msg)
	if err != nil {
		bridge.Close()
		writeSSE(w, flusher, "error", map[string]string{"message": err.Error()})
		writeSSEDone(w, flusher)
		return
	}

	s.streamRun(w, flusher, runID, session, bridge, chunks)
}

// streamRun multiplexes the agentic loop's ResponseChunk stream with the
// run's hitl.Bridge outgoing-event queue onto one SSE connection, closing
// the bridge once the loop finishes so any reader still waiting on it
// unblocks as denied/timed-out rather than hanging past the response.
func (s *Server) streamRun(w http.ResponseWriter, flusher http.Flusher, runID string, session *models.Session, bridge *hitl.Bridge, chunks <-chan *agent.ResponseChunk) {
	var assistantText strings.Builder
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range bridge.Events() {
			writeSSE(w, flusher, string(ev.Kind), ev)
		}
	}()

	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		switch {
		case chunk.Error != nil:
			writeSSE(w, flusher, "error", map[string]string{"message": chunk.Error.Error()})
		case chunk.Text != "":
			assistantText.WriteString(chunk.Text)
			writeSSE(w, flusher, "text_delta", map[string]string{"text": chunk.Text, "run_id": runID})
		case chunk.Thinking != "":
			writeSSE(w, flusher, "reasoning_delta", map[string]string{"text": chunk.Thinking, "run_id": runID})
		case chunk.ToolResult != nil:
			writeSSE(w, flusher, "tool_result", chunk.ToolResult)
		case chunk.ToolEvent != nil && chunk.ToolEvent.Stage == models.ToolEventApprovalRequired:
			writeSSE(w, flusher, "tool_approval_request", map[string]string{
				"request_id": approvalRequestID(chunk.ToolEvent.Error),
				"tool_name":  chunk.ToolEvent.ToolName,
				"call_id":    chunk.ToolEvent.ToolCallID,
				"reason":     chunk.ToolEvent.PolicyReason,
				"run_id":     runID,
			})
		}
	}

	bridge.Close()
	wg.Wait()

	if err := s.threads.AddMessage(context.Background(), session.ID, models.NewAssistantMessage(models.AssistantMessage{
		Content: []models.ContentBlock{{Format: models.FormatText, Text: assistantText.String()}},
		Finish:  models.FinishStop,
	})); err != nil {
		s.cfg.Logger.Warn("persist assistant turn", "error", err, "session_id", session.ID)
	}

	writeSSE(w, flusher, "completion", map[string]any{"run_id": runID, "status": "ok"})
	writeSSEDone(w, flusher)
}

func (s *Server) ensureHistorySession(ctx context.Context, session *models.Session) error {
	if _, err := s.history.Get(ctx, session.ID); err == nil {
		return nil
	}
	return s.history.Create(ctx, &models.Session{
		ID:        session.ID,
		AgentName: session.AgentName,
		UserID:    session.UserID,
		Status:    session.Status,
	})
}

func lastUserMessage(msgs []chatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" || msgs[i].Role == "" {
			return msgs[i].Content
		}
	}
	return ""
}

// approvalRequestID extracts the "(id: ...)" suffix ApprovalChecker's
// poll-based flow embeds in a denied/pending ToolEvent's Error field.
func approvalRequestID(errText string) string {
	start := strings.LastIndex(errText, "(id: ")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(errText, ")")
	if end < start {
		return ""
	}
	return errText[start+len("(id: ") : end]
}
