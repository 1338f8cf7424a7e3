// Package session is the durable mapping from session id to its ordered
// message log and last persisted workflow-state snapshot. It supersedes
// the run/checkpoint-shaped state.Store the teacher used for graph
// resume: sessions here never resume mid-run, they only ever persist a
// single terminal snapshot once a run completes.
package session

import (
	"github.com/deepmedical/core/session/sessionmodel"
)

var (
	ErrNotFound = sessionmodel.ErrNotFound
)

type Role = sessionmodel.Role

const (
	RoleUser      = sessionmodel.RoleUser
	RoleAssistant = sessionmodel.RoleAssistant
	RoleSystem    = sessionmodel.RoleSystem
)

type MessageType = sessionmodel.MessageType

const (
	MessageText     = sessionmodel.MessageText
	MessageWorkflow = sessionmodel.MessageWorkflow
)

// Session is the persisted session record: its identifier, timestamps,
// optional user handle, and the last workflow-state snapshot recorded
// at the end of the most recent run (nil until the first run completes).
type Session = sessionmodel.Session

// Message is one entry in a session's append-only log.
type Message = sessionmodel.Message

// Store is the durable Session/Message CRUD surface spec.md §4.5 names.
// AppendMessage is expected to serialize per session at the caller's
// level (the Request Orchestrator's run lease) rather than here — the
// store itself only needs to be safe for concurrent use across
// sessions, not to arbitrate concurrent writers within one session.
type Store = sessionmodel.Store

// RunLocker is an optional capability a Store backend can implement to
// give the Request Orchestrator a per-session run lease. The sqlite
// backend does not implement it since a single process never needs
// one; orchestrator.New falls back to an in-process mutex map when a
// Store doesn't satisfy this interface.
type RunLocker = sessionmodel.RunLocker
