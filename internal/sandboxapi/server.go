// Package sandboxapi implements the Code Interpreter Service's HTTP
// facade: the /v1 routes, backed by a
// firecracker.SessionManager.
package sandboxapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentplatform/core/internal/observability"
	"github.com/agentplatform/core/internal/tools/sandbox/firecracker"
)

// Config carries the service-wide limits for the facade.
type Config struct {
	BearerToken    string
	MaxCodeBytes   int
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration

	// Metrics records execution counts and durations; nil disables metrics.
	Metrics *observability.Metrics
}

func DefaultConfig() Config {
	return Config{
		MaxCodeBytes:   1 << 20,
		DefaultTimeout: 30 * time.Second,
		MaxTimeout:     300 * time.Second,
	}
}

// Server wires the session manager into net/http handlers. It does not
// own routing — Routes returns a mux the caller mounts under /v1.
type Server struct {
	sessions *firecracker.SessionManager
	cfg      Config
}

func New(sessions *firecracker.SessionManager, cfg Config) *Server {
	if cfg.MaxCodeBytes <= 0 {
		metrics := cfg.Metrics
		cfg = DefaultConfig()
		cfg.Metrics = metrics
	}
	return &Server{sessions: sessions, cfg: cfg}
}

// Routes returns the /v1 handler tree.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/execute", s.requireAuth(s.handleExecute))
	mux.HandleFunc("/v1/sessions", s.requireAuth(s.handleListSessions))
	mux.HandleFunc("/v1/sessions/", s.requireAuth(s.handleSessionSubroutes))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleHealthReady)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	if s.cfg.BearerToken == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth != "Bearer "+s.cfg.BearerToken {
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next(w, r)
	}
}

type executeRequest struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
	ExecType  string `json:"exec_type"`
	Timeout   int    `json:"timeout"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req executeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxCodeBytes)+4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}
	if len(req.Code) > s.cfg.MaxCodeBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "code exceeds max size")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	timeout := s.cfg.DefaultTimeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
	}
	if timeout > s.cfg.MaxTimeout {
		timeout = s.cfg.MaxTimeout
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	runtime := req.ExecType
	if runtime == "" {
		runtime = "python"
	}
	start := time.Now()

	var resp *firecracker.GuestResponse
	err := s.sessions.WithSession(ctx, req.SessionID, "python", func(ctx context.Context, vm *firecracker.MicroVM) error {
		var execErr error
		switch req.ExecType {
		case "bash":
			resp, execErr = vm.Vsock().ExecuteBash(ctx, req.Code, int(timeout.Seconds()))
		default:
			resp, execErr = vm.Vsock().ExecutePython(ctx, req.Code, "", int(timeout.Seconds()))
		}
		return execErr
	})
	duration := time.Since(start).Seconds()
	if err != nil {
		status := "error"
		if ctx.Err() == context.DeadlineExceeded {
			status = "timeout"
		}
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RecordSandboxExecution(runtime, status, duration)
		}
		var limitErr *firecracker.ErrSessionLimitReached
		if asLimitErr(err, &limitErr) {
			writeError(w, http.StatusTooManyRequests, limitErr.Error())
			return
		}
		writeError(w, http.StatusBadGateway, fmt.Sprintf("execute: %v", err))
		return
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordSandboxExecution(runtime, "success", duration)
	}

	writeJSON(w, http.StatusOK, resp)
}

func asLimitErr(err error, target **firecracker.ErrSessionLimitReached) bool {
	le, ok := err.(*firecracker.ErrSessionLimitReached)
	if ok {
		*target = le
	}
	return ok
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	writeJSON(w, http.StatusOK, s.sessions.List())
}

func (s *Server) handleSessionSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	parts := strings.SplitN(rest, "/", 2)
	sessionID := parts[0]
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			sv, ok := s.sessions.Get(sessionID)
			if !ok {
				writeError(w, http.StatusNotFound, "session not bound")
				return
			}
			writeJSON(w, http.StatusOK, sv)
		case http.MethodDelete:
			s.sessions.Release(sessionID)
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusMethodNotAllowed, "GET or DELETE required")
		}
		return
	}

	switch parts[1] {
	case "reset":
		s.handleReset(w, r, sessionID)
	case "state":
		s.handleState(w, r, sessionID)
	case "install":
		s.handleInstall(w, r, sessionID)
	case "files/write":
		s.handleFileWrite(w, r, sessionID)
	case "files/read":
		s.handleFileRead(w, r, sessionID, false)
	case "files/read_binary":
		s.handleFileRead(w, r, sessionID, true)
	default:
		writeError(w, http.StatusNotFound, "unknown session subroute")
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request, sessionID string) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.DefaultTimeout)
	defer cancel()
	err := s.sessions.WithSession(ctx, sessionID, "python", func(ctx context.Context, vm *firecracker.MicroVM) error {
		return vm.Vsock().Reset(ctx)
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reset": true})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request, sessionID string) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.DefaultTimeout)
	defer cancel()
	var resp *firecracker.GuestResponse
	err := s.sessions.WithSession(ctx, sessionID, "python", func(ctx context.Context, vm *firecracker.MicroVM) error {
		var execErr error
		resp, execErr = vm.Vsock().Send(ctx, &firecracker.GuestRequest{Type: firecracker.RequestTypeGetState})
		return execErr
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req struct {
		Packages []string `json:"packages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.MaxTimeout)
	defer cancel()
	var resp *firecracker.GuestResponse
	err := s.sessions.WithSession(ctx, sessionID, "python", func(ctx context.Context, vm *firecracker.MicroVM) error {
		var execErr error
		resp, execErr = vm.Vsock().Send(ctx, &firecracker.GuestRequest{Type: firecracker.RequestTypeInstall, Packages: req.Packages})
		return execErr
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFileWrite(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Binary  bool   `json:"binary"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reqType := firecracker.RequestTypeWriteFile
	content := req.Content
	if req.Binary {
		reqType = firecracker.RequestTypeWriteFileB
		content = base64.StdEncoding.EncodeToString([]byte(req.Content))
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.DefaultTimeout)
	defer cancel()
	var resp *firecracker.GuestResponse
	err := s.sessions.WithSession(ctx, sessionID, "python", func(ctx context.Context, vm *firecracker.MicroVM) error {
		var execErr error
		resp, execErr = vm.Vsock().Send(ctx, &firecracker.GuestRequest{Type: reqType, Path: req.Path, Content: content})
		return execErr
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFileRead(w http.ResponseWriter, r *http.Request, sessionID string, binary bool) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}
	reqType := firecracker.RequestTypeReadFile
	if binary {
		reqType = firecracker.RequestTypeReadFileB
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.DefaultTimeout)
	defer cancel()
	var resp *firecracker.GuestResponse
	err := s.sessions.WithSession(ctx, sessionID, "python", func(ctx context.Context, vm *firecracker.MicroVM) error {
		var execErr error
		resp, execErr = vm.Vsock().Send(ctx, &firecracker.GuestRequest{Type: reqType, Path: path})
		return execErr
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
