package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	session "github.com/deepmedical/core/session/sessionmodel"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "session.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestSQLiteStore_CreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "dr-chen")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if sess.ID == "" {
		t.Fatalf("expected generated session id")
	}

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.UserHandle != "dr-chen" {
		t.Fatalf("unexpected user handle: %#v", got)
	}
}

func TestSQLiteStore_AppendAndListMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if _, err := s.AppendMessage(ctx, sess.ID, session.RoleUser, session.MessageText, "what interacts with metformin?"); err != nil {
		t.Fatalf("AppendMessage 1 failed: %v", err)
	}
	if _, err := s.AppendMessage(ctx, sess.ID, session.RoleAssistant, session.MessageText, "several drug classes can interact with metformin."); err != nil {
		t.Fatalf("AppendMessage 2 failed: %v", err)
	}

	msgs, err := s.ListMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != session.RoleUser || msgs[1].Role != session.RoleAssistant {
		t.Fatalf("unexpected message order: %#v", msgs)
	}
}

func TestSQLiteStore_AppendMessageUnknownSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AppendMessage(ctx, "missing", session.RoleUser, session.MessageText, "hi"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_UpdateStateAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if err := s.UpdateState(ctx, sess.ID, []byte(`{"next":"planner"}`)); err != nil {
		t.Fatalf("UpdateState failed: %v", err)
	}
	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if string(got.State) != `{"next":"planner"}` {
		t.Fatalf("unexpected state snapshot: %s", got.State)
	}

	if _, err := s.AppendMessage(ctx, sess.ID, session.RoleUser, session.MessageText, "hi"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	if err := s.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if _, err := s.GetSession(ctx, sess.ID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	msgs, err := s.ListMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ListMessages after delete failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected cascaded message delete, got %d", len(msgs))
	}
}

func TestSQLiteStore_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetSession(ctx, "missing"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateState(ctx, "missing", []byte(`{}`)); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteSession(ctx, "missing"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
