// Package sessionmodel holds the types shared between package session and
// its storage backends (sqlite, redisstore). It exists only to break the
// import cycle those backends would otherwise form with package session,
// which imports them to dispatch Open by URL scheme; package session
// re-exports everything here under its own names via type aliases.
package sessionmodel

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("session: not found")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type MessageType string

const (
	MessageText     MessageType = "text"
	MessageWorkflow MessageType = "workflow"
)

// Session is the persisted session record: its identifier, timestamps,
// optional user handle, and the last workflow-state snapshot recorded
// at the end of the most recent run (nil until the first run completes).
type Session struct {
	ID         string          `json:"id"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	UserHandle string          `json:"userHandle,omitempty"`
	State      json.RawMessage `json:"state,omitempty"`
}

// Message is one entry in a session's append-only log.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionId"`
	Role      Role        `json:"role"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Store is the durable Session/Message CRUD surface spec.md §4.5 names.
// AppendMessage is expected to serialize per session at the caller's
// level (the Request Orchestrator's run lease) rather than here — the
// store itself only needs to be safe for concurrent use across
// sessions, not to arbitrate concurrent writers within one session.
type Store interface {
	CreateSession(ctx context.Context, userHandle string) (Session, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
	DeleteSession(ctx context.Context, sessionID string) error

	AppendMessage(ctx context.Context, sessionID string, role Role, msgType MessageType, content string) (Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)

	UpdateState(ctx context.Context, sessionID string, snapshot json.RawMessage) error

	Close() error
}

// RunLocker is an optional capability a Store backend can implement to
// give the Request Orchestrator a per-session run lease. The sqlite
// backend does not implement it since a single process never needs
// one; orchestrator.New falls back to an in-process mutex map when a
// Store doesn't satisfy this interface.
type RunLocker interface {
	AcquireRunLock(ctx context.Context, sessionID, owner string, ttl time.Duration) (bool, error)
	ReleaseRunLock(ctx context.Context, sessionID, owner string) error
}
