// Package sessions implements the tiered session memory store: a hot,
// TTL-bounded cache in front of a durable cold row store. The cold store
// is the source of truth; the hot store exists purely for latency.
package sessions

import (
	"context"
	"errors"
	"regexp"

	"github.com/agentplatform/core/pkg/models"
)

// ErrInvalidSessionID is returned when a session id fails the id format
// check before it is used to build a cache key or SQL parameter.
var ErrInvalidSessionID = errors.New("sessions: invalid session id")

// ErrNotFound is returned when a session or message lookup misses in a
// tier that is expected to be authoritative for the call.
var ErrNotFound = errors.New("sessions: not found")

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateSessionID rejects ids that cannot safely be embedded in a cache
// key or used as a SQL parameter.
func ValidateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return ErrInvalidSessionID
	}
	return nil
}

// Tier is the common shape implemented independently by the hot
// (in-process, TTL) and cold (durable, row-oriented) stores. Memory is the
// component that composes the two into the checkpoint/resume policy
// described in Manager's doc comment.
type Tier interface {
	// CreateSession inserts a new session record.
	CreateSession(ctx context.Context, s *models.Session) error
	// GetSession returns ErrNotFound if the session is absent in this tier.
	GetSession(ctx context.Context, id string) (*models.Session, error)
	// UpdateSession persists changes to session metadata/status.
	UpdateSession(ctx context.Context, s *models.Session) error
	// DeleteSession removes the session and, for tiers that store
	// messages inline, its messages.
	DeleteSession(ctx context.Context, id string) error

	// SaveMessages appends messages to a session. Cold-tier
	// implementations must assign contiguous sequence numbers under a
	// per-session row lock; hot-tier implementations append to an
	// in-memory list and trim it to the configured maximum.
	SaveMessages(ctx context.Context, sessionID string, msgs []*models.SessionEnvelope) error
	// GetMessages returns up to limit messages in sequence order (0 means
	// no limit).
	GetMessages(ctx context.Context, sessionID string, limit int) ([]*models.SessionEnvelope, error)
	// ClearMessages removes every message for a session without removing
	// the session record itself; used by Checkpoint's overwrite strategy.
	ClearMessages(ctx context.Context, sessionID string) error

	// ListSessions enumerates sessions, optionally filtered by agent name.
	ListSessions(ctx context.Context, opts ListOptions) ([]*models.Session, error)
}

// ListOptions configures session listing.
type ListOptions struct {
	AgentName string
	UserID    string
	Status    models.SessionStatus
	Limit     int
	Offset    int
}

// Store is the flat conversation-history view the ReAct orchestrator uses
// for context packing and turn persistence. It is deliberately narrower
// than Tier: callers address a session by id or by an idempotency key and
// read/write plain Message turns, with no notion of hot/cold placement or
// envelope checkpointing.
type Store interface {
	// Session CRUD
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, id string) error

	// Session lookup
	GetByKey(ctx context.Context, key string) (*models.Session, error)
	GetOrCreate(ctx context.Context, key string, agentID string, channel models.ChannelType, channelID string) (*models.Session, error)
	List(ctx context.Context, agentID string, opts ListOptions) ([]*models.Session, error)

	// Message history
	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error
	GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)
}

// SessionKey builds the idempotency key GetOrCreate dedupes sessions on.
func SessionKey(agentID string, channel models.ChannelType, channelID string) string {
	return agentID + ":" + string(channel) + ":" + channelID
}
