// Package sqlite is the embedded-database session.Store backend, for
// single-instance deployments that don't need a shared Redis.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"

	session "github.com/deepmedical/core/session/sessionmodel"
)

//go:embed schema.sql
var schemaSQL string

const defaultBusyTimeout = 5 * time.Second

type Store struct {
	db          *sql.DB
	busyTimeout time.Duration
	enableWAL   bool
	maxOpenConn int
}

type Option func(*Store)

func WithBusyTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout >= 0 {
			s.busyTimeout = timeout
		}
	}
}

func WithWAL(enabled bool) Option {
	return func(s *Store) { s.enableWAL = enabled }
}

func WithMaxOpenConns(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxOpenConn = n
		}
	}
}

func New(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	s := &Store{
		busyTimeout: defaultBusyTimeout,
		enableWAL:   true,
		maxOpenConn: 1,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(s.maxOpenConn)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s.db = db
	if err := s.initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	if s.busyTimeout > 0 {
		ms := int(s.busyTimeout / time.Millisecond)
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", ms)); err != nil {
			return fmt.Errorf("failed to set busy_timeout: %w", err)
		}
	}
	if s.enableWAL {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable wal: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys=ON;"); err != nil {
		return fmt.Errorf("failed to enable foreign_keys: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, userHandle string) (session.Session, error) {
	now := time.Now().UTC()
	sess := session.Session{
		ID:         uuid.NewString(),
		UserHandle: userHandle,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	const q = `INSERT INTO sessions (id, user_handle, state, created_at, updated_at) VALUES (?, ?, ?, ?, ?);`
	_, err := s.db.ExecContext(ctx, q, sess.ID, sess.UserHandle, nil, formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt))
	if err != nil {
		return session.Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (session.Session, error) {
	const q = `SELECT id, user_handle, state, created_at, updated_at FROM sessions WHERE id = ?;`

	var (
		sess       session.Session
		stateRaw   sql.NullString
		createdRaw string
		updatedRaw string
	)
	err := s.db.QueryRowContext(ctx, q, sessionID).Scan(&sess.ID, &sess.UserHandle, &stateRaw, &createdRaw, &updatedRaw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	if stateRaw.Valid && stateRaw.String != "" {
		sess.State = json.RawMessage(stateRaw.String)
	}
	sess.CreatedAt, err = parseTime(createdRaw)
	if err != nil {
		return session.Session{}, fmt.Errorf("failed to parse session created_at: %w", err)
	}
	sess.UpdatedAt, err = parseTime(updatedRaw)
	if err != nil {
		return session.Session{}, fmt.Errorf("failed to parse session updated_at: %w", err)
	}
	return sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?;`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if n == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, sessionID string, role session.Role, msgType session.MessageType, content string) (session.Message, error) {
	msg := session.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Type:      msgType,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return session.Message{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const insertQ = `INSERT INTO messages (id, session_id, role, type, content, created_at) VALUES (?, ?, ?, ?, ?, ?);`
	if _, err := tx.ExecContext(ctx, insertQ, msg.ID, msg.SessionID, string(msg.Role), string(msg.Type), msg.Content, formatTime(msg.CreatedAt)); err != nil {
		if isForeignKeyViolation(err) {
			return session.Message{}, session.ErrNotFound
		}
		return session.Message{}, fmt.Errorf("failed to insert message: %w", err)
	}
	const touchQ = `UPDATE sessions SET updated_at = ? WHERE id = ?;`
	if _, err := tx.ExecContext(ctx, touchQ, formatTime(msg.CreatedAt), sessionID); err != nil {
		return session.Message{}, fmt.Errorf("failed to touch session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return session.Message{}, fmt.Errorf("failed to commit message insert: %w", err)
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]session.Message, error) {
	const q = `SELECT id, session_id, role, type, content, created_at FROM messages WHERE session_id = ? ORDER BY created_at ASC, id ASC;`

	rows, err := s.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []session.Message
	for rows.Next() {
		var (
			msg        session.Message
			role       string
			msgType    string
			createdRaw string
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msgType, &msg.Content, &createdRaw); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.Role = session.Role(role)
		msg.Type = session.MessageType(msgType)
		msg.CreatedAt, err = parseTime(createdRaw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse message created_at: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateState(ctx context.Context, sessionID string, snapshot json.RawMessage) error {
	const q = `UPDATE sessions SET state = ?, updated_at = ? WHERE id = ?;`
	res, err := s.db.ExecContext(ctx, q, string(snapshot), formatTime(time.Now().UTC()), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func isForeignKeyViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "foreign key constraint failed")
}
