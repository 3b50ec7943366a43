// Package chatserver implements the Chat Server HTTP facade: thread
// CRUD backed by the tiered session memory, the /chat SSE endpoint that
// drives the ReAct orchestrator, the /chat/respond bridge for
// human-in-the-loop answers, and /feedbacks. Grounded on
// internal/sandboxapi's net/http-facade-in-front-of-a-manager shape.
package chatserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentplatform/core/internal/agent"
	"github.com/agentplatform/core/internal/auth"
	"github.com/agentplatform/core/internal/hitl"
	"github.com/agentplatform/core/internal/observability"
	"github.com/agentplatform/core/internal/sessions"
)

// Config carries every dependency and limit the facade needs.
type Config struct {
	AuthService *auth.Service

	// DefaultAgentName tags threads/sessions created without one.
	DefaultAgentName string

	// HITLTimeout bounds how long a tool-approval or human-input request
	// waits for a client response before the run treats it as denied.
	HITLTimeout time.Duration

	// MaxBodyBytes caps request bodies the handlers will decode.
	MaxBodyBytes int64

	Logger *slog.Logger

	// Metrics records HTTP request latency and outcome; nil disables metrics.
	Metrics *observability.Metrics
}

func DefaultConfig() Config {
	return Config{
		DefaultAgentName: "default",
		HITLTimeout:      hitl.DefaultTimeout,
		MaxBodyBytes:     1 << 20,
		Logger:           slog.Default(),
	}
}

// Server wires the tiered session manager, the flat history store, and
// the agentic runtime into net/http handlers. It does not own routing —
// Routes returns a mux the caller mounts.
type Server struct {
	threads  *sessions.Manager
	history  sessions.Store
	runtime  *agent.AgenticRuntime
	approval *agent.ApprovalChecker
	feedback *feedbackStore

	runsMu sync.Mutex
	runs   map[string]*activeRun

	cfg Config
}

// New constructs a Server. threads backs thread CRUD and the ordered
// step listing; history backs the flat message log the agentic runtime
// packs into model context; runtime drives /chat; approval may be nil
// when the agentic runtime's LoopConfig has no ApprovalChecker wired.
func New(threads *sessions.Manager, history sessions.Store, runtime *agent.AgenticRuntime, approval *agent.ApprovalChecker, cfg Config) *Server {
	if cfg.HITLTimeout <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		threads:  threads,
		history:  history,
		runtime:  runtime,
		approval: approval,
		feedback: newFeedbackStore(),
		runs:     map[string]*activeRun{},
		cfg:      cfg,
	}
}

// Routes returns the handler tree mounted at the service root.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/threads", s.requireAuth(s.handleThreadsCollection))
	mux.HandleFunc("/threads/", s.requireAuth(s.handleThreadsSubroutes))
	mux.HandleFunc("/chat", s.requireAuth(s.handleChat))
	mux.HandleFunc("/chat/respond/", s.requireAuth(s.handleChatRespond))
	mux.HandleFunc("/feedbacks", s.requireAuth(s.handleFeedback))
	mux.Handle("/metrics", promhttp.Handler())
	return s.withMetrics(mux)
}

// withMetrics wraps the mux with HTTP request latency/outcome recording.
// It is a no-op passthrough when cfg.Metrics is nil.
func (s *Server) withMetrics(next http.Handler) http.Handler {
	if s.cfg.Metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.cfg.Metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rec.status), time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
