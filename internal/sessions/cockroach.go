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

// CockroachStore implements Tier as the durable, cold-tier row store.
// Schema:
//
//	sessions(id PK, agent_name, user_id, status, metadata JSONB,
//	         message_count, created_at, updated_at)
//	messages(uuid PK, session_id FK cascade, sequence INT, message_type,
//	         payload JSONB, created_at) UNIQUE(session_id, sequence)
type CockroachStore struct {
	db *sql.DB
}

func (s *CockroachStore) DB() *sql.DB { return s.db }

// CockroachConfig holds connection parameters for the cold tier.
type CockroachConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

func DefaultCockroachConfig() *CockroachConfig {
	return &CockroachConfig{
		Host:            "localhost",
		Port:            26257,
		User:            "root",
		Database:        "agentplatform",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

func NewCockroachStore(config *CockroachConfig) (*CockroachStore, error) {
	if config == nil {
		config = DefaultCockroachConfig()
	}
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		config.Host, config.Port, config.User, config.Password,
		config.Database, config.SSLMode, int(config.ConnectTimeout.Seconds()),
	)
	return newCockroachStoreWithDSN(dsn, config)
}

func NewCockroachStoreFromDSN(dsn string, config *CockroachConfig) (*CockroachStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultCockroachConfig()
	}
	return newCockroachStoreWithDSN(dsn, config)
}

func newCockroachStoreWithDSN(dsn string, config *CockroachConfig) (*CockroachStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &CockroachStore{db: db}, nil
}

// Migrate creates the sessions/messages tables if absent. Callers own
// choosing when to run this (once at startup); it is idempotent.
func (s *CockroachStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			agent_name TEXT NOT NULL,
			user_id TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			metadata JSONB,
			message_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS messages (
			uuid TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			sequence INT NOT NULL,
			message_type TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE(session_id, sequence)
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *CockroachStore) Close() error {
	return s.db.Close()
}

func (s *CockroachStore) CreateSession(ctx context.Context, sess *models.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if err := ValidateSessionID(sess.ID); err != nil {
		return err
	}
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = sess.CreatedAt
	if sess.Status == "" {
		sess.Status = models.SessionActive
	}
	metadata, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, agent_name, user_id, status, metadata, message_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sess.ID, sess.AgentName, sess.UserID, sess.Status, metadata, sess.MessageCount, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *CockroachStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	sess := &models.Session{}
	var metadataJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, agent_name, user_id, status, metadata, message_count, created_at, updated_at
		FROM sessions WHERE id = $1
	`, id).Scan(&sess.ID, &sess.AgentName, &sess.UserID, &sess.Status, &metadataJSON,
		&sess.MessageCount, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &sess.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return sess, nil
}

func (s *CockroachStore) UpdateSession(ctx context.Context, sess *models.Session) error {
	metadata, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	sess.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = $1, metadata = $2, updated_at = $3 WHERE id = $4
	`, sess.Status, metadata, sess.UpdatedAt, sess.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *CockroachStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *CockroachStore) ListSessions(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	query := `SELECT id, agent_name, user_id, status, metadata, message_count, created_at, updated_at FROM sessions WHERE 1=1`
	var args []any
	pos := 1
	if opts.AgentName != "" {
		query += fmt.Sprintf(" AND agent_name = $%d", pos)
		args = append(args, opts.AgentName)
		pos++
	}
	if opts.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", pos)
		args = append(args, opts.UserID)
		pos++
	}
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
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		sess := &models.Session{}
		var metadataJSON []byte
		if err := rows.Scan(&sess.ID, &sess.AgentName, &sess.UserID, &sess.Status, &metadataJSON,
			&sess.MessageCount, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if len(metadataJSON) > 0 {
			_ = json.Unmarshal(metadataJSON, &sess.Metadata)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// SaveMessages assigns contiguous sequence numbers and inserts all
// messages in one transaction, holding a row lock on the session for the
// whole assign-then-insert window. This closes the TOCTOU race that a
// plain "read MAX(sequence) then insert" would allow under concurrent
// writers.
func (s *CockroachStore) SaveMessages(ctx context.Context, sessionID string, msgs []*models.SessionEnvelope) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var nextSeq int
	row := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), 0) + 1 FROM messages
		WHERE session_id = $1 FOR UPDATE
	`, sessionID)
	if err := row.Scan(&nextSeq); err != nil {
		return fmt.Errorf("lock sequence counter: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (uuid, session_id, sequence, message_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for i, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		if m.Type == "" {
			return fmt.Errorf("save messages: %w", models.ErrUnknownMessageType)
		}
		payload, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, m.ID, sessionID, nextSeq+i, string(m.Type), payload, m.CreatedAt); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET message_count = message_count + $1, updated_at = $2 WHERE id = $3
	`, len(msgs), now, sessionID); err != nil {
		return fmt.Errorf("update message count: %w", err)
	}

	return tx.Commit()
}

func (s *CockroachStore) GetMessages(ctx context.Context, sessionID string, limit int) ([]*models.SessionEnvelope, error) {
	query := `
		SELECT payload FROM messages WHERE session_id = $1 ORDER BY sequence ASC
	`
	var args []any
	args = append(args, sessionID)
	if limit > 0 {
		query = `
			SELECT payload FROM (
				SELECT payload, sequence FROM messages WHERE session_id = $1 ORDER BY sequence DESC LIMIT $2
			) t ORDER BY sequence ASC
		`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var out []*models.SessionEnvelope
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m := &models.SessionEnvelope{}
		if err := json.Unmarshal(payload, m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *CockroachStore) ClearMessages(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE sessions SET message_count = 0 WHERE id = $1`, sessionID)
	return err
}
