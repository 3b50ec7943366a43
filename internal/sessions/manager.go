package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentplatform/core/pkg/models"
)

// Manager composes the hot and cold tiers into the checkpoint/resume
// policy: a per-session lock, dirty-counter-triggered auto-checkpoint,
// and an overwrite-flush checkpoint rather than an incremental one.
type Manager struct {
	hot  *HotTier
	cold Tier

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	autoCheckpointThreshold int
}

// ManagerOptions configures auto-checkpoint behavior.
type ManagerOptions struct {
	// AutoCheckpointThreshold triggers a checkpoint once a session's dirty
	// count reaches this value. 0 disables auto-checkpoint.
	AutoCheckpointThreshold int
}

func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{AutoCheckpointThreshold: 50}
}

func NewManager(hot *HotTier, cold Tier, opts ManagerOptions) *Manager {
	if opts.AutoCheckpointThreshold == 0 {
		opts.AutoCheckpointThreshold = DefaultManagerOptions().AutoCheckpointThreshold
	}
	return &Manager{
		hot:                     hot,
		cold:                    cold,
		locks:                   map[string]*sync.Mutex{},
		autoCheckpointThreshold: opts.AutoCheckpointThreshold,
	}
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// CreateSession writes the session to cold (source of truth) then mirrors
// it into hot.
func (m *Manager) CreateSession(ctx context.Context, agentName, userID string, metadata map[string]any) (*models.Session, error) {
	sess := &models.Session{
		AgentName: agentName,
		UserID:    userID,
		Status:    models.SessionActive,
		Metadata:  metadata,
	}
	if err := m.cold.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session (cold): %w", err)
	}
	if err := m.hot.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session (hot): %w", err)
	}
	return sess, nil
}

// ResumeSession returns the hot-tier session if present; otherwise it
// loads every message from cold into hot and marks the session active.
func (m *Manager) ResumeSession(ctx context.Context, id string) (*models.Session, error) {
	if err := ValidateSessionID(id); err != nil {
		return nil, err
	}
	if sess, err := m.hot.GetSession(ctx, id); err == nil {
		return sess, nil
	}

	sess, err := m.cold.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resume session: %w", err)
	}
	if err := m.hot.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("resume session (hot create): %w", err)
	}
	msgs, err := m.cold.GetMessages(ctx, id, 0)
	if err != nil {
		return nil, fmt.Errorf("resume session (load messages): %w", err)
	}
	if len(msgs) > 0 {
		if err := m.hot.SaveMessages(ctx, id, msgs); err != nil {
			return nil, fmt.Errorf("resume session (hydrate hot): %w", err)
		}
		m.hot.ResetDirty(id)
	}
	sess.IsHot = true
	return sess, nil
}

// AddMessage appends to hot and triggers an auto-checkpoint once the
// session's dirty count reaches the configured threshold.
func (m *Manager) AddMessage(ctx context.Context, sessionID string, msg *models.SessionEnvelope) error {
	return m.AddMessages(ctx, sessionID, []*models.SessionEnvelope{msg})
}

func (m *Manager) AddMessages(ctx context.Context, sessionID string, msgs []*models.SessionEnvelope) error {
	if err := m.hot.SaveMessages(ctx, sessionID, msgs); err != nil {
		return fmt.Errorf("add messages: %w", err)
	}
	if m.autoCheckpointThreshold > 0 && m.hot.DirtyCount(sessionID) >= m.autoCheckpointThreshold {
		if _, err := m.Checkpoint(ctx, sessionID); err != nil {
			return fmt.Errorf("auto checkpoint: %w", err)
		}
	}
	return nil
}

func (m *Manager) GetMessages(ctx context.Context, sessionID string, limit int) ([]*models.SessionEnvelope, error) {
	msgs, err := m.hot.GetMessages(ctx, sessionID, limit)
	if err == ErrNotFound {
		return m.cold.GetMessages(ctx, sessionID, limit)
	}
	return msgs, err
}

// Checkpoint overwrite-flushes hot's message list to cold under the
// session's lock: clear cold, bulk-insert the hot snapshot, reset the
// dirty counter. This is the overwrite-on-checkpoint strategy described
// §4.2 — idempotent reconciliation, not append.
func (m *Manager) Checkpoint(ctx context.Context, sessionID string) (int, error) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	msgs, err := m.hot.GetMessages(ctx, sessionID, 0)
	if err != nil {
		return 0, fmt.Errorf("checkpoint (read hot): %w", err)
	}
	if err := m.cold.ClearMessages(ctx, sessionID); err != nil {
		return 0, fmt.Errorf("checkpoint (clear cold): %w", err)
	}
	if len(msgs) > 0 {
		if err := m.cold.SaveMessages(ctx, sessionID, msgs); err != nil {
			return 0, fmt.Errorf("checkpoint (save cold): %w", err)
		}
	}
	m.hot.ResetDirty(sessionID)
	return len(msgs), nil
}

// CloseSession checkpoints, marks the session closed in cold, and drops
// the hot-tier entry.
func (m *Manager) CloseSession(ctx context.Context, id string) error {
	if _, err := m.Checkpoint(ctx, id); err != nil {
		return err
	}
	sess, err := m.cold.GetSession(ctx, id)
	if err != nil {
		return fmt.Errorf("close session (get): %w", err)
	}
	sess.Status = models.SessionClosed
	sess.UpdatedAt = time.Now()
	if err := m.cold.UpdateSession(ctx, sess); err != nil {
		return fmt.Errorf("close session (update): %w", err)
	}
	return m.hot.DeleteSession(ctx, id)
}

// DeleteSession removes the session from both tiers and drops its lock.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	_ = m.hot.DeleteSession(ctx, id)
	if err := m.cold.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session (cold): %w", err)
	}
	m.locksMu.Lock()
	delete(m.locks, id)
	m.locksMu.Unlock()
	return nil
}

// UpdateSession persists metadata/status changes to cold (source of
// truth) and mirrors them into hot when the session is resident there.
func (m *Manager) UpdateSession(ctx context.Context, sess *models.Session) error {
	sess.UpdatedAt = time.Now()
	if err := m.cold.UpdateSession(ctx, sess); err != nil {
		return fmt.Errorf("update session (cold): %w", err)
	}
	if _, err := m.hot.GetSession(ctx, sess.ID); err == nil {
		_ = m.hot.UpdateSession(ctx, sess)
	}
	return nil
}

func (m *Manager) GetSessionState(ctx context.Context, id string) (*models.Session, error) {
	if sess, err := m.hot.GetSession(ctx, id); err == nil {
		return sess, nil
	}
	return m.cold.GetSession(ctx, id)
}

func (m *Manager) ListSessions(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	return m.cold.ListSessions(ctx, opts)
}
