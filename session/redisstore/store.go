// Package redisstore is the shared-instance session.Store backend, for
// deployments where more than one orchestrator process needs to see
// the same sessions. It also supplies the per-session run lease the
// Request Orchestrator uses to refuse overlapping turns on one
// session, via the same SETNX-plus-compare-and-delete pattern the
// teacher used to guard concurrent graph runs.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/google/uuid"

	session "github.com/deepmedical/core/session/sessionmodel"
)

const (
	defaultTTL    = 30 * 24 * time.Hour
	defaultPrefix = "deepmedical"
)

type Store struct {
	client   *goredis.Client
	ttl      time.Duration
	prefix   string
	addr     string
	password string
	db       int
}

type Option func(*Store)

func WithPassword(password string) Option {
	return func(s *Store) { s.password = password }
}

func WithDB(db int) Option {
	return func(s *Store) { s.db = db }
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if strings.TrimSpace(prefix) != "" {
			s.prefix = prefix
		}
	}
}

func WithClient(client *goredis.Client) Option {
	return func(s *Store) { s.client = client }
}

func New(addr string, opts ...Option) (*Store, error) {
	s := &Store{
		ttl:    defaultTTL,
		prefix: defaultPrefix,
		addr:   addr,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		s.client = goredis.NewClient(&goredis.Options{
			Addr:     s.addr,
			Password: s.password,
			DB:       s.db,
		})
	}

	if err := s.client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return s, nil
}

func (s *Store) sessionKey(id string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, id)
}

func (s *Store) messagesKey(id string) string {
	return fmt.Sprintf("%s:session:%s:messages", s.prefix, id)
}

func (s *Store) messageKey(sessionID, messageID string) string {
	return fmt.Sprintf("%s:session:%s:message:%s", s.prefix, sessionID, messageID)
}

func (s *Store) lockKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s:lock", s.prefix, sessionID)
}

type sessionRecord struct {
	ID         string          `json:"id"`
	UserHandle string          `json:"userHandle"`
	State      json.RawMessage `json:"state,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

func (s *Store) CreateSession(ctx context.Context, userHandle string) (session.Session, error) {
	now := time.Now().UTC()
	sess := session.Session{
		ID:         uuid.NewString(),
		UserHandle: userHandle,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	record := sessionRecord{ID: sess.ID, UserHandle: sess.UserHandle, CreatedAt: sess.CreatedAt, UpdatedAt: sess.UpdatedAt}
	raw, err := json.Marshal(record)
	if err != nil {
		return session.Session{}, fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.sessionKey(sess.ID), raw, s.ttl).Err(); err != nil {
		return session.Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (session.Session, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	var record sessionRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return session.Session{}, fmt.Errorf("failed to decode session: %w", err)
	}
	return session.Session{
		ID:         record.ID,
		UserHandle: record.UserHandle,
		State:      record.State,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	messageIDs, err := s.client.LRange(ctx, s.messagesKey(sessionID), 0, -1).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("failed to list messages for delete: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, id := range messageIDs {
		pipe.Del(ctx, s.messageKey(sessionID, id))
	}
	pipe.Del(ctx, s.messagesKey(sessionID))
	pipe.Del(ctx, s.sessionKey(sessionID))
	results, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if del, ok := results[len(results)-1].(*goredis.IntCmd); ok && del.Val() == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, sessionID string, role session.Role, msgType session.MessageType, content string) (session.Message, error) {
	exists, err := s.client.Exists(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return session.Message{}, fmt.Errorf("failed to check session: %w", err)
	}
	if exists == 0 {
		return session.Message{}, session.ErrNotFound
	}

	msg := session.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Type:      msgType,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return session.Message{}, fmt.Errorf("failed to marshal message: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.messageKey(sessionID, msg.ID), raw, s.ttl)
	pipe.RPush(ctx, s.messagesKey(sessionID), msg.ID)
	pipe.Expire(ctx, s.messagesKey(sessionID), s.ttl)
	pipe.Expire(ctx, s.sessionKey(sessionID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return session.Message{}, fmt.Errorf("failed to append message: %w", err)
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]session.Message, error) {
	ids, err := s.client.LRange(ctx, s.messagesKey(sessionID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list message ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.messageKey(sessionID, id)
	}
	raws, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	out := make([]session.Message, 0, len(raws))
	var stale []string
	for i, raw := range raws {
		if raw == nil {
			stale = append(stale, ids[i])
			continue
		}
		var msg session.Message
		data, ok := raw.(string)
		if !ok {
			continue
		}
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		out = append(out, msg)
	}
	if len(stale) > 0 {
		pipe := s.client.TxPipeline()
		for _, id := range stale {
			pipe.LRem(ctx, s.messagesKey(sessionID), 0, id)
		}
		pipe.Exec(ctx)
	}
	return out, nil
}

func (s *Store) UpdateState(ctx context.Context, sessionID string, snapshot json.RawMessage) error {
	raw, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return session.ErrNotFound
		}
		return fmt.Errorf("failed to load session for state update: %w", err)
	}
	var record sessionRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return fmt.Errorf("failed to decode session: %w", err)
	}
	record.State = snapshot
	record.UpdatedAt = time.Now().UTC()

	updated, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.sessionKey(sessionID), updated, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session state: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// AcquireRunLock takes the per-session run lease the Request
// Orchestrator uses to reject a new turn while a previous one on the
// same session is still in flight. owner should be unique per attempt
// (a run id) so ReleaseRunLock can tell its own lease apart from a
// stale one that expired and was re-acquired by someone else.
func (s *Store) AcquireRunLock(ctx context.Context, sessionID, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.lockKey(sessionID), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	return ok, nil
}

var releaseLockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func (s *Store) ReleaseRunLock(ctx context.Context, sessionID, owner string) error {
	_, err := releaseLockScript.Run(ctx, s.client, []string{s.lockKey(sessionID)}, owner).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}
