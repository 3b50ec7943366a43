package chatserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/agentplatform/core/internal/sessions"
	"github.com/agentplatform/core/pkg/models"
)

// Thread is the chat server's view of a tiered-memory session: the same
// record, renamed at the API boundary to match the vocabulary the
// original chat UI used.
type Thread struct {
	ID           string         `json:"id"`
	Name         string         `json:"name,omitempty"`
	AgentName    string         `json:"agent_name"`
	Status       string         `json:"status"`
	MessageCount int            `json:"message_count"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func threadFromSession(s *models.Session) Thread {
	name := ""
	if s.Metadata != nil {
		if n, ok := s.Metadata["name"].(string); ok {
			name = n
		}
	}
	return Thread{
		ID:           s.ID,
		Name:         name,
		AgentName:    s.AgentName,
		Status:       string(s.Status),
		MessageCount: s.MessageCount,
		CreatedAt:    s.CreatedAt.Format(rfc3339Milli),
		UpdatedAt:    s.UpdatedAt.Format(rfc3339Milli),
		Metadata:     s.Metadata,
	}
}

const rfc3339Milli = "2006-01-02T15:04:05.000Z07:00"

type createThreadRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleThreadsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createThread(w, r)
	case http.MethodGet:
		s.listThreads(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "GET or POST required")
	}
}

func (s *Server) createThread(w http.ResponseWriter, r *http.Request) {
	var req createThreadRequest
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if r.ContentLength != 0 {
		if err := json.NewDecoder(body).Decode(&req); err != nil && err != io.EOF {
			writeError(w, http.StatusBadRequest, "decode request: "+err.Error())
			return
		}
	}

	var metadata map[string]any
	if req.Name != "" {
		metadata = map[string]any{"name": req.Name}
	}

	session, err := s.threads.CreateSession(r.Context(), s.cfg.DefaultAgentName, "", metadata)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create thread: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, threadFromSession(session))
}

func (s *Server) listThreads(w http.ResponseWriter, r *http.Request) {
	opts := sessions.ListOptions{
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	list, err := s.threads.ListSessions(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list threads: "+err.Error())
		return
	}
	out := make([]Thread, 0, len(list))
	for _, sess := range list {
		out = append(out, threadFromSession(sess))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleThreadsSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/threads/")
	parts := strings.SplitN(rest, "/", 2)
	threadID := parts[0]
	if threadID == "" {
		writeError(w, http.StatusBadRequest, "thread id is required")
		return
	}

	if len(parts) == 2 && parts[1] == "messages" {
		s.listThreadMessages(w, r, threadID)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getThread(w, r, threadID)
	case http.MethodPatch:
		s.patchThread(w, r, threadID)
	case http.MethodDelete:
		s.deleteThread(w, r, threadID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "GET, PATCH, or DELETE required")
	}
}

func (s *Server) getThread(w http.ResponseWriter, r *http.Request, threadID string) {
	session, err := s.threads.GetSessionState(r.Context(), threadID)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, threadFromSession(session))
}

type patchThreadRequest struct {
	Name   *string `json:"name"`
	Status *string `json:"status"`
}

func (s *Server) patchThread(w http.ResponseWriter, r *http.Request, threadID string) {
	session, err := s.threads.GetSessionState(r.Context(), threadID)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}

	var req patchThreadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "decode request: "+err.Error())
		return
	}
	if req.Name != nil {
		if session.Metadata == nil {
			session.Metadata = map[string]any{}
		}
		session.Metadata["name"] = *req.Name
	}
	if req.Status != nil {
		session.Status = models.SessionStatus(*req.Status)
	}

	if err := s.threads.UpdateSession(r.Context(), session); err != nil {
		writeError(w, http.StatusInternalServerError, "update thread: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, threadFromSession(session))
}

func (s *Server) deleteThread(w http.ResponseWriter, r *http.Request, threadID string) {
	if err := s.threads.DeleteSession(r.Context(), threadID); err != nil {
		s.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// threadStep is one entry in a thread's ordered message log, shaped to
// the five step kinds the API promises regardless of which tiered-memory
// payload backs it.
type threadStep struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	CreatedAt string      `json:"created_at"`
	Payload   any         `json:"payload"`
}

func (s *Server) listThreadMessages(w http.ResponseWriter, r *http.Request, threadID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	limit := queryInt(r, "limit", 0)
	envelopes, err := s.threads.GetMessages(r.Context(), threadID, limit)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}

	steps := make([]threadStep, 0, len(envelopes))
	for _, env := range envelopes {
		step := threadStep{ID: env.ID, Type: string(env.Type), CreatedAt: env.CreatedAt.Format(rfc3339Milli)}
		switch env.Type {
		case models.MessageTypeSystem:
			step.Payload = env.System
		case models.MessageTypeUser:
			step.Payload = env.User
		case models.MessageTypeAssistant:
			step.Payload = env.Assistant
		case models.MessageTypeToolCall:
			step.Payload = env.ToolCall
		case models.MessageTypeToolResult:
			step.Payload = env.ToolResult
		}
		steps = append(steps, step)
	}
	writeJSON(w, http.StatusOK, steps)
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, sessions.ErrNotFound) {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	if errors.Is(err, sessions.ErrInvalidSessionID) {
		writeError(w, http.StatusBadRequest, "invalid thread id")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
