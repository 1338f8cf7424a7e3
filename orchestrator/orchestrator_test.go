package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/deepmedical/core/llm"
	"github.com/deepmedical/core/registry"
	"github.com/deepmedical/core/session"
	"github.com/deepmedical/core/types"
)

// fakeStore is an in-memory session.Store for orchestrator tests.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]session.Session
	messages map[string][]session.Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: map[string]session.Session{},
		messages: map[string][]session.Message{},
	}
}

func (s *fakeStore) CreateSession(ctx context.Context, userHandle string) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	sess := session.Session{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now, UserHandle: userHandle}
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *fakeStore) GetSession(ctx context.Context, sessionID string) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	return sess, nil
}

func (s *fakeStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	delete(s.messages, sessionID)
	return nil
}

func (s *fakeStore) AppendMessage(ctx context.Context, sessionID string, role session.Role, msgType session.MessageType, content string) (session.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return session.Message{}, session.ErrNotFound
	}
	msg := session.Message{ID: uuid.NewString(), SessionID: sessionID, Role: role, Type: msgType, Content: content, CreatedAt: time.Now()}
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	return msg, nil
}

func (s *fakeStore) ListMessages(ctx context.Context, sessionID string) ([]session.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]session.Message, len(s.messages[sessionID]))
	copy(out, s.messages[sessionID])
	return out, nil
}

func (s *fakeStore) UpdateState(ctx context.Context, sessionID string, snapshot json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return session.ErrNotFound
	}
	sess.State = snapshot
	s.sessions[sessionID] = sess
	return nil
}

func (s *fakeStore) Close() error { return nil }

type fakeProvider struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{Tools: true, StructuredOutput: true}
}

func (p *fakeProvider) Generate(ctx context.Context, req types.Request) (types.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	reply := "Hello! How can I help you today?"
	if p.calls < len(p.replies) {
		reply = p.replies[p.calls]
	}
	p.calls++
	return types.Response{Message: types.Message{Role: types.RoleAssistant, Content: reply}}, nil
}

func newTestOrchestrator(t *testing.T, store session.Store) *Orchestrator {
	t.Helper()
	adapter := llm.NewAdapter(map[registry.ModelClass]llm.Provider{
		registry.ClassBasic: &fakeProvider{},
	})
	o, err := New(Config{Store: store, Adapter: adapter, RunTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func TestFlattenContentString(t *testing.T) {
	text, hasImage := flattenContent("hello")
	if text != "hello" || hasImage {
		t.Fatalf("flattenContent string = %q, %v", text, hasImage)
	}
}

func TestFlattenContentPartsIgnoresImages(t *testing.T) {
	parts := []any{
		map[string]any{"type": "text", "text": "describe this"},
		map[string]any{"type": "image", "image_url": "https://example.com/x.png"},
	}
	text, hasImage := flattenContent(parts)
	if text != "describe this" || !hasImage {
		t.Fatalf("flattenContent parts = %q, %v", text, hasImage)
	}
}

func TestLastUserTextRejectsNonUserLastMessage(t *testing.T) {
	req := chatRequest{Messages: []chatMessage{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}}}
	if _, _, err := lastUserText(req); err == nil {
		t.Fatalf("expected error when the last message is not from the user")
	}
}

func TestLastUserTextRejectsEmptyMessages(t *testing.T) {
	if _, _, err := lastUserText(chatRequest{}); err == nil {
		t.Fatalf("expected error for an empty messages list")
	}
}

func TestLocalLockerExcludesConcurrentOwners(t *testing.T) {
	l := newLocalLocker()
	ctx := context.Background()

	ok, err := l.AcquireRunLock(ctx, "session-1", "owner-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = l.AcquireRunLock(ctx, "session-1", "owner-b", time.Minute)
	if err != nil || ok {
		t.Fatalf("second acquire should be rejected: ok=%v err=%v", ok, err)
	}
	if err := l.ReleaseRunLock(ctx, "session-1", "owner-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = l.AcquireRunLock(ctx, "session-1", "owner-b", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestHandleTeamMembersListsRegistry(t *testing.T) {
	o := newTestOrchestrator(t, newFakeStore())
	req := httptest.NewRequest(http.MethodGet, "/api/team_members", nil)
	rec := httptest.NewRecorder()
	o.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(registry.List()) {
		t.Fatalf("got %d members, want %d", len(out), len(registry.List()))
	}
}

func TestHandleCreateSessionThenHistory(t *testing.T) {
	o := newTestOrchestrator(t, newFakeStore())

	createReq := httptest.NewRequest(http.MethodPost, "/api/session", bytes.NewReader(nil))
	createRec := httptest.NewRecorder()
	o.Handler().ServeHTTP(createRec, createReq)
	if createRec.Code != http.StatusOK {
		t.Fatalf("create session status = %d, want 200", createRec.Code)
	}
	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(createRec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.SessionID == "" {
		t.Fatalf("expected a session id")
	}

	histReq := httptest.NewRequest(http.MethodGet, "/api/session/"+created.SessionID+"/history", nil)
	histRec := httptest.NewRecorder()
	o.Handler().ServeHTTP(histRec, histReq)
	if histRec.Code != http.StatusOK {
		t.Fatalf("history status = %d, want 200", histRec.Code)
	}
}

func TestHandleSessionHistoryUnknownSessionIs404(t *testing.T) {
	o := newTestOrchestrator(t, newFakeStore())
	req := httptest.NewRequest(http.MethodGet, "/api/session/does-not-exist/history", nil)
	rec := httptest.NewRecorder()
	o.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleChatStreamRejectsUnknownWorker(t *testing.T) {
	o := newTestOrchestrator(t, newFakeStore())
	body, _ := json.Marshal(chatRequest{
		Messages:    []chatMessage{{Role: "user", Content: "hi"}},
		TeamMembers: &[]string{"not-a-real-worker"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	o.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleChatStreamRejectsExplicitEmptyRoster(t *testing.T) {
	o := newTestOrchestrator(t, newFakeStore())
	body, _ := json.Marshal(chatRequest{
		Messages:    []chatMessage{{Role: "user", Content: "hi"}},
		TeamMembers: &[]string{},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	o.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleChatStreamDebugAttachesTimings(t *testing.T) {
	store := newFakeStore()
	o := newTestOrchestrator(t, store)

	body, _ := json.Marshal(chatRequest{
		Messages: []chatMessage{{Role: "user", Content: "hi"}},
		Debug:    true,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	o.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"debug"`)) {
		t.Fatalf("expected end_of_workflow to carry a debug payload, got:\n%s", rec.Body.String())
	}
}

func TestHandleChatStreamTrivialGreeting(t *testing.T) {
	store := newFakeStore()
	o := newTestOrchestrator(t, store)

	body, _ := json.Marshal(chatRequest{
		Messages: []chatMessage{{Role: "user", Content: "hi"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	o.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}
	out := rec.Body.String()
	for _, want := range []string{"event: session_id", "event: start_of_agent", "event: start_of_llm", "event: end_of_llm", "event: message", "event: end_of_workflow"} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Fatalf("expected stream to contain %q, got:\n%s", want, out)
		}
	}
	if bytes.Contains([]byte(out), []byte("event: start_of_workflow")) {
		t.Fatalf("a coordinator-only run must not open a workflow envelope, got:\n%s", out)
	}
}
