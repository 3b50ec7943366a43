package chatserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Feedback records a thumbs up/down/neutral vote on one step of a
// thread, letting an operator annotate a run after the fact rather than
// mid-stream.
type Feedback struct {
	ID        string    `json:"id"`
	ForID     string    `json:"for_id"`
	ThreadID  string    `json:"thread_id"`
	Value     int       `json:"value"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type feedbackStore struct {
	mu    sync.Mutex
	items []Feedback
}

func newFeedbackStore() *feedbackStore {
	return &feedbackStore{}
}

func (s *feedbackStore) add(f Feedback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, f)
}

type feedbackRequest struct {
	ForID    string `json:"for_id"`
	ThreadID string `json:"thread_id"`
	Value    int    `json:"value"`
	Comment  string `json:"comment"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req feedbackRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "decode request: "+err.Error())
		return
	}
	if req.ForID == "" || req.ThreadID == "" {
		writeError(w, http.StatusBadRequest, "for_id and thread_id are required")
		return
	}
	if req.Value < -1 || req.Value > 1 {
		writeError(w, http.StatusBadRequest, "value must be -1, 0, or 1")
		return
	}

	f := Feedback{
		ID:        uuid.NewString(),
		ForID:     req.ForID,
		ThreadID:  req.ThreadID,
		Value:     req.Value,
		Comment:   req.Comment,
		CreatedAt: time.Now(),
	}
	s.feedback.add(f)
	writeJSON(w, http.StatusCreated, f)
}
