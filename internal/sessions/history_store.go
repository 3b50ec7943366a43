package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/agentplatform/core/pkg/models"
)

// HistoryStore implements Store on top of a relational backend. It is a
// separate schema from Tier/CockroachStore's cold tier: Store keys
// sessions by an idempotency key and persists flat Message turns, where
// Tier keys them by id and persists SessionEnvelope records under hot/cold
// placement.
//
// Schema:
//
//	chat_sessions(id PK, session_key UNIQUE, agent_name, user_id, status,
//	              metadata JSONB, message_count, created_at, updated_at)
//	chat_messages(id PK, session_id FK cascade, channel, channel_id,
//	              direction, role, content, attachments JSONB,
//	              tool_calls JSONB, tool_results JSONB, metadata JSONB,
//	              created_at)
type HistoryStore struct {
	db *sql.DB
}

// NewHistoryStore opens a connection to dsn. The caller owns its lifetime.
func NewHistoryStore(dsn string) (*HistoryStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sessions: dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sessions: open history store: %w", err)
	}
	return &HistoryStore{db: db}, nil
}

// Close closes the underlying connection.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}

func (s *HistoryStore) Create(ctx context.Context, session *models.Session) error {
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

	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("sessions: marshal metadata: %w", err)
	}

	key := SessionKey(session.AgentName, "", session.UserID)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, session_key, agent_name, user_id, status, metadata, message_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, session.ID, key, session.AgentName, session.UserID, session.Status, metadata, session.MessageCount, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sessions: create: %w", err)
	}
	return nil
}

func (s *HistoryStore) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_key, agent_name, user_id, status, metadata, message_count, created_at, updated_at
		FROM chat_sessions WHERE id = $1
	`, id)
	return scanHistorySession(row)
}

func (s *HistoryStore) GetByKey(ctx context.Context, key string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_key, agent_name, user_id, status, metadata, message_count, created_at, updated_at
		FROM chat_sessions WHERE session_key = $1
	`, key)
	return scanHistorySession(row)
}

func scanHistorySession(row *sql.Row) (*models.Session, error) {
	session := &models.Session{}
	var sessionKey string
	var metadataJSON []byte
	err := row.Scan(
		&session.ID, &sessionKey, &session.AgentName, &session.UserID, &session.Status,
		&metadataJSON, &session.MessageCount, &session.CreatedAt, &session.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: scan session: %w", err)
	}
	if len(metadataJSON) > 0 && string(metadataJSON) != "null" {
		if err := json.Unmarshal(metadataJSON, &session.Metadata); err != nil {
			return nil, fmt.Errorf("sessions: unmarshal metadata: %w", err)
		}
	}
	return session, nil
}

func (s *HistoryStore) Update(ctx context.Context, session *models.Session) error {
	session.UpdatedAt = time.Now()
	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("sessions: marshal metadata: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE chat_sessions SET status = $1, metadata = $2, message_count = $3, updated_at = $4 WHERE id = $5
	`, session.Status, metadata, session.MessageCount, session.UpdatedAt, session.ID)
	if err != nil {
		return fmt.Errorf("sessions: update: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *HistoryStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("sessions: delete: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetOrCreate resolves an existing session by its idempotency key or
// inserts a new one atomically, via an upsert keyed on session_key.
func (s *HistoryStore) GetOrCreate(ctx context.Context, key string, agentID string, channel models.ChannelType, channelID string) (*models.Session, error) {
	now := time.Now()
	id := uuid.NewString()

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO chat_sessions (id, session_key, agent_name, user_id, status, metadata, message_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, '{}', 0, $6, $7)
		ON CONFLICT (session_key) DO UPDATE SET session_key = chat_sessions.session_key
		RETURNING id, session_key, agent_name, user_id, status, metadata, message_count, created_at, updated_at
	`, id, key, agentID, channelID, models.SessionActive, now, now)

	session, err := scanHistorySession(row)
	if err != nil {
		return nil, fmt.Errorf("sessions: get or create: %w", err)
	}
	return session, nil
}

func (s *HistoryStore) List(ctx context.Context, agentID string, opts ListOptions) ([]*models.Session, error) {
	query := `
		SELECT id, session_key, agent_name, user_id, status, metadata, message_count, created_at, updated_at
		FROM chat_sessions WHERE agent_name = $1
	`
	args := []any{agentID}
	pos := 2
	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", pos)
		args = append(args, opts.Status)
		pos++
	}
	query += " ORDER BY updated_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", pos)
		args = append(args, opts.Limit)
		pos++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", pos)
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sessions: list: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session := &models.Session{}
		var sessionKey string
		var metadataJSON []byte
		if err := rows.Scan(
			&session.ID, &sessionKey, &session.AgentName, &session.UserID, &session.Status,
			&metadataJSON, &session.MessageCount, &session.CreatedAt, &session.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("sessions: scan session: %w", err)
		}
		if len(metadataJSON) > 0 && string(metadataJSON) != "null" {
			if err := json.Unmarshal(metadataJSON, &session.Metadata); err != nil {
				return nil, fmt.Errorf("sessions: unmarshal metadata: %w", err)
			}
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sessions: iterate sessions: %w", err)
	}
	return sessions, nil
}

// AppendMessage inserts a message and bumps the session's message count and
// updated_at timestamp in the same transaction.
func (s *HistoryStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	attachmentsJSON, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("sessions: marshal attachments: %w", err)
	}
	toolCallsJSON, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("sessions: marshal tool calls: %w", err)
	}
	toolResultsJSON, err := json.Marshal(msg.ToolResults)
	if err != nil {
		return fmt.Errorf("sessions: marshal tool results: %w", err)
	}
	metadataJSON, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("sessions: marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sessions: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chat_messages (id, session_id, channel, channel_id, direction, role, content, attachments, tool_calls, tool_results, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, msg.ID, sessionID, msg.Channel, msg.ChannelID, msg.Direction, msg.Role,
		msg.Content, attachmentsJSON, toolCallsJSON, toolResultsJSON, metadataJSON, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("sessions: append message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE chat_sessions SET message_count = message_count + 1, updated_at = $1 WHERE id = $2",
		time.Now(), sessionID,
	); err != nil {
		return fmt.Errorf("sessions: bump session counters: %w", err)
	}

	return tx.Commit()
}

// GetHistory returns up to limit messages in reverse-chronological order (0
// falls back to a conservative default so context packing never issues an
// unbounded scan).
func (s *HistoryStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, channel, channel_id, direction, role, content, attachments, tool_calls, tool_results, metadata, created_at
		FROM chat_messages WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("sessions: get history: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var attachmentsJSON, toolCallsJSON, toolResultsJSON, metadataJSON []byte
		if err := rows.Scan(
			&msg.ID, &msg.SessionID, &msg.Channel, &msg.ChannelID, &msg.Direction, &msg.Role,
			&msg.Content, &attachmentsJSON, &toolCallsJSON, &toolResultsJSON, &metadataJSON, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("sessions: scan message: %w", err)
		}
		if len(attachmentsJSON) > 0 && string(attachmentsJSON) != "null" {
			if err := json.Unmarshal(attachmentsJSON, &msg.Attachments); err != nil {
				return nil, fmt.Errorf("sessions: unmarshal attachments: %w", err)
			}
		}
		if len(toolCallsJSON) > 0 && string(toolCallsJSON) != "null" {
			if err := json.Unmarshal(toolCallsJSON, &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("sessions: unmarshal tool calls: %w", err)
			}
		}
		if len(toolResultsJSON) > 0 && string(toolResultsJSON) != "null" {
			if err := json.Unmarshal(toolResultsJSON, &msg.ToolResults); err != nil {
				return nil, fmt.Errorf("sessions: unmarshal tool results: %w", err)
			}
		}
		if len(metadataJSON) > 0 && string(metadataJSON) != "null" {
			if err := json.Unmarshal(metadataJSON, &msg.Metadata); err != nil {
				return nil, fmt.Errorf("sessions: unmarshal metadata: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sessions: iterate messages: %w", err)
	}
	return messages, nil
}

var _ Store = (*HistoryStore)(nil)
