package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentplatform/core/pkg/models"
)

// MemoryHistoryStore is an in-process Store, the no-database counterpart
// to HistoryStore. It exists for local runs and tests where standing up
// Postgres is unnecessary ceremony; production deployments use
// HistoryStore against a real DSN.
type MemoryHistoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	byKey    map[string]string
	messages map[string][]*models.Message
}

func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{
		sessions: map[string]*models.Session{},
		byKey:    map[string]string{},
		messages: map[string][]*models.Message{},
	}
}

func (s *MemoryHistoryStore) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if err := ValidateSessionID(session.ID); err != nil {
		return err
	}
	if session.Status == "" {
		session.Status = models.SessionActive
	}
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = session.CreatedAt

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	s.byKey[SessionKey(session.AgentName, "", session.UserID)] = session.ID
	return nil
}

func (s *MemoryHistoryStore) Get(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

func (s *MemoryHistoryStore) GetByKey(ctx context.Context, key string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return s.sessions[id], nil
}

func (s *MemoryHistoryStore) Update(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return ErrNotFound
	}
	session.UpdatedAt = time.Now()
	s.sessions[session.ID] = session
	return nil
}

func (s *MemoryHistoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

func (s *MemoryHistoryStore) GetOrCreate(ctx context.Context, key string, agentID string, channel models.ChannelType, channelID string) (*models.Session, error) {
	s.mu.Lock()
	if id, ok := s.byKey[key]; ok {
		sess := s.sessions[id]
		s.mu.Unlock()
		return sess, nil
	}
	s.mu.Unlock()

	sess := &models.Session{AgentName: agentID}
	if err := s.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *MemoryHistoryStore) List(ctx context.Context, agentID string, opts ListOptions) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Session
	for _, sess := range s.sessions {
		if agentID != "" && sess.AgentName != agentID {
			continue
		}
		if opts.Status != "" && sess.Status != opts.Status {
			continue
		}
		out = append(out, sess)
	}
	out = paginate(out, opts.Offset, opts.Limit)
	return out, nil
}

func paginate(sessions []*models.Session, offset, limit int) []*models.Session {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(sessions) {
		return nil
	}
	sessions = sessions[offset:]
	if limit > 0 && limit < len(sessions) {
		sessions = sessions[:limit]
	}
	return sessions
}

func (s *MemoryHistoryStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	if sess, ok := s.sessions[sessionID]; ok {
		sess.MessageCount++
		sess.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryHistoryStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[sessionID]
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}
