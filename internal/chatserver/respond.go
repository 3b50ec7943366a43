package chatserver

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/agentplatform/core/internal/auth"
	"github.com/agentplatform/core/internal/hitl"
)

// respondRequest covers both request kinds; which fields apply depends
// on which kind of pending request request_id names.
type respondRequest struct {
	Kind string `json:"kind"`

	// tool_approval_request fields.
	Action string `json:"action"` // approve | deny

	// human_input_request fields.
	SelectedKey   string `json:"selected_key"`
	SelectedLabel string `json:"selected_label"`
	FreeformText  string `json:"freeform_text"`
}

func (s *Server) handleChatRespond(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	requestID := strings.TrimPrefix(r.URL.Path, "/chat/respond/")
	if requestID == "" {
		writeError(w, http.StatusBadRequest, "request_id is required")
		return
	}

	var req respondRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "decode request: "+err.Error())
		return
	}

	if s.resolveApprovalRequest(r, requestID, req) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if s.resolveBridgeRequest(requestID, req) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	writeJSON(w, http.StatusNotFound, map[string]string{"status": "error"})
}

// resolveApprovalRequest handles an id minted by the poll-based
// ApprovalChecker (loop.go's synchronous require-approval path).
func (s *Server) resolveApprovalRequest(r *http.Request, requestID string, req respondRequest) bool {
	if s.approval == nil {
		return false
	}
	pending, err := s.approval.Get(r.Context(), requestID)
	if err != nil || pending == nil {
		return false
	}

	decidedBy := ""
	if user, ok := userFromRequest(r); ok {
		decidedBy = user
	}

	if req.Action == "deny" {
		_ = s.approval.Deny(r.Context(), requestID, decidedBy)
	} else {
		_ = s.approval.Approve(r.Context(), requestID, decidedBy)
	}
	return true
}

// resolveBridgeRequest handles an id minted by hitl.Bridge.RequestApproval
// or RequestInput (the ask_human tool's blocking path), searching every
// currently streaming run since a request id alone doesn't name its run.
func (s *Server) resolveBridgeRequest(requestID string, req respondRequest) bool {
	for _, run := range s.activeRuns() {
		if tryResolveOnBridge(run.bridge, requestID, req) {
			return true
		}
	}
	return false
}

func tryResolveOnBridge(bridge *hitl.Bridge, requestID string, req respondRequest) bool {
	if req.Kind == "human_input_request" || (req.SelectedKey != "" || req.FreeformText != "" || req.SelectedLabel != "") {
		err := bridge.RespondInput(requestID, hitl.InputResponse{
			SelectedKey:   req.SelectedKey,
			SelectedLabel: req.SelectedLabel,
			FreeformText:  req.FreeformText,
		})
		if err == nil {
			return true
		}
	}

	action := hitl.ActionApprove
	if req.Action == "deny" {
		action = hitl.ActionDeny
	}
	err := bridge.RespondApproval(requestID, hitl.ApprovalResponse{Action: action})
	return err == nil
}

func userFromRequest(r *http.Request) (string, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok || user == nil {
		return "", false
	}
	return user.ID, true
}
