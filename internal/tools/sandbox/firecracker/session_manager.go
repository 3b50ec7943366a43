//go:build linux

package firecracker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SessionVM binds one conversation to the microVM it owns for the
// lifetime of that binding, rather than handing the VM back to the pool
// after each call (stateless per-call execution). This type and
// SessionManager below are built in the shape of internal/sessions's
// map+mutex+background-sweep pattern.
type SessionVM struct {
	SessionID string
	VM        *MicroVM
	CreatedAt time.Time
	LastUsed  time.Time
	ExecCount int
}

// SessionManagerConfig configures idle eviction and the per-pod session
// cap on concurrent sandbox sessions.
type SessionManagerConfig struct {
	// IdleTimeout is how long a session may go unused before its VM is
	// destroyed and the binding removed. Default 30 minutes.
	IdleTimeout time.Duration
	// SweepInterval is how often the idle-eviction loop runs.
	SweepInterval time.Duration
	// MaxSessions bounds concurrent bindings on this pod.
	MaxSessions int
}

func DefaultSessionManagerConfig() SessionManagerConfig {
	return SessionManagerConfig{
		IdleTimeout:   30 * time.Minute,
		SweepInterval: 60 * time.Second,
		MaxSessions:   50,
	}
}

// ErrSessionLimitReached is returned by Acquire when MaxSessions is hit.
type ErrSessionLimitReached struct{ Limit int }

func (e *ErrSessionLimitReached) Error() string {
	return fmt.Sprintf("firecracker: session limit reached (%d)", e.Limit)
}

// SessionManager maps a conversation id to the VM it owns, and runs a
// background idle-eviction sweep.
type SessionManager struct {
	pool   *VMPool
	cfg    SessionManagerConfig
	locks  map[string]*sync.Mutex
	locksMu sync.Mutex

	mu       sync.Mutex
	bindings map[string]*SessionVM
}

// NewSessionManager wraps a VMPool with per-session binding semantics.
func NewSessionManager(pool *VMPool, cfg SessionManagerConfig) *SessionManager {
	if cfg.IdleTimeout <= 0 {
		cfg = DefaultSessionManagerConfig()
	}
	return &SessionManager{
		pool:     pool,
		cfg:      cfg,
		locks:    map[string]*sync.Mutex{},
		bindings: map[string]*SessionVM{},
	}
}

func (m *SessionManager) lockFor(sessionID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	return l
}

// Acquire returns the VM already bound to sessionID, or acquires a fresh
// one from the pool and binds it. Execution against the returned binding
// must happen while holding the per-session lock obtained via WithSession.
func (m *SessionManager) Acquire(ctx context.Context, sessionID, language string) (*SessionVM, error) {
	m.mu.Lock()
	if sv, ok := m.bindings[sessionID]; ok {
		m.mu.Unlock()
		return sv, nil
	}
	if m.cfg.MaxSessions > 0 && len(m.bindings) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, &ErrSessionLimitReached{Limit: m.cfg.MaxSessions}
	}
	m.mu.Unlock()

	vm, err := m.pool.Get(ctx, language)
	if err != nil {
		return nil, fmt.Errorf("acquire vm: %w", err)
	}

	now := time.Now()
	sv := &SessionVM{SessionID: sessionID, VM: vm, CreatedAt: now, LastUsed: now}

	m.mu.Lock()
	if existing, ok := m.bindings[sessionID]; ok {
		// Lost a race with a concurrent Acquire for the same session;
		// keep the winner, return this VM to the pool.
		m.mu.Unlock()
		m.pool.Put(vm)
		return existing, nil
	}
	m.bindings[sessionID] = sv
	m.mu.Unlock()

	return sv, nil
}

// WithSession runs fn while holding sessionID's lock, updating LastUsed
// and ExecCount around the call. Tool execution for a given session is
// therefore inherently serialized.
func (m *SessionManager) WithSession(ctx context.Context, sessionID, language string, fn func(ctx context.Context, vm *MicroVM) error) error {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sv, err := m.Acquire(ctx, sessionID, language)
	if err != nil {
		return err
	}

	err = fn(ctx, sv.VM)

	m.mu.Lock()
	sv.LastUsed = time.Now()
	sv.ExecCount++
	m.mu.Unlock()

	return err
}

// Release destroys the session's VM (if bound) and removes the binding.
func (m *SessionManager) Release(sessionID string) {
	m.mu.Lock()
	sv, ok := m.bindings[sessionID]
	if ok {
		delete(m.bindings, sessionID)
	}
	m.mu.Unlock()
	if ok {
		m.pool.Put(sv.VM)
	}
	m.locksMu.Lock()
	delete(m.locks, sessionID)
	m.locksMu.Unlock()
}

// Get returns the current binding for a session, if any.
func (m *SessionManager) Get(sessionID string) (*SessionVM, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sv, ok := m.bindings[sessionID]
	return sv, ok
}

// List returns a snapshot of all current bindings, used by the /v1/sessions
// listing endpoint.
func (m *SessionManager) List() []*SessionVM {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*SessionVM, 0, len(m.bindings))
	for _, sv := range m.bindings {
		out = append(out, sv)
	}
	return out
}

// StartIdleSweeper runs the idle-eviction loop until ctx is cancelled.
func (m *SessionManager) StartIdleSweeper(ctx context.Context) {
	go func() {
		t := time.NewTicker(m.cfg.SweepInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.sweepIdle(time.Now())
			}
		}
	}()
}

func (m *SessionManager) sweepIdle(now time.Time) {
	m.mu.Lock()
	var expired []string
	for id, sv := range m.bindings {
		if now.Sub(sv.LastUsed) > m.cfg.IdleTimeout {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.Release(id)
	}
}
