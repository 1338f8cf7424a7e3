// Package orchestrator is the Request Orchestrator: the HTTP surface and
// the per-turn sequence that resolves a session, starts the workflow
// engine, relays its projected events to a client, and persists the
// result. It is the only package that wires together the Session Store,
// the LLM Adapter, and the Workflow Engine's Builder registry.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/deepmedical/core/graph"
	"github.com/deepmedical/core/llm"
	"github.com/deepmedical/core/registry"
	"github.com/deepmedical/core/session"
	"github.com/deepmedical/core/stream"
	"github.com/deepmedical/core/workflow"
)

// Config wires an Orchestrator's dependencies.
type Config struct {
	Store          session.Store
	Adapter        *llm.Adapter
	Workflow       string // workflow.Name if empty
	RunTimeout     time.Duration
	BrowserDir     string // directory GET /api/browser_history serves from
	TracerProvider trace.TracerProvider
}

type Orchestrator struct {
	store      session.Store
	adapter    *llm.Adapter
	workflow   string
	runTimeout time.Duration
	browserDir string
	locker     session.RunLocker
	tracer     trace.TracerProvider
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("orchestrator: a session store is required")
	}
	if cfg.Adapter == nil {
		return nil, fmt.Errorf("orchestrator: an llm adapter is required")
	}
	o := &Orchestrator{
		store:      cfg.Store,
		adapter:    cfg.Adapter,
		workflow:   cfg.Workflow,
		runTimeout: cfg.RunTimeout,
		browserDir: cfg.BrowserDir,
		tracer:     cfg.TracerProvider,
	}
	if o.workflow == "" {
		o.workflow = workflow.Name
	}
	if o.runTimeout <= 0 {
		o.runTimeout = 5 * time.Minute
	}
	if o.browserDir == "" {
		o.browserDir = "./browser_history"
	}
	if locker, ok := cfg.Store.(session.RunLocker); ok {
		o.locker = locker
	} else {
		o.locker = newLocalLocker()
	}
	return o, nil
}

// Handler returns the full HTTP surface spec.md §6 names, wrapped with
// httpsnoop-based access logging.
func (o *Orchestrator) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat/stream", o.handleChatStream)
	mux.HandleFunc("POST /api/session", o.handleCreateSession)
	mux.HandleFunc("GET /api/session/{id}/history", o.handleSessionHistory)
	mux.HandleFunc("GET /api/team_members", o.handleTeamMembers)
	mux.HandleFunc("GET /api/browser_history/{filename}", o.handleBrowserHistory)
	return withAccessLog(mux)
}

func withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		log.Printf("%s %s %d %s %s", r.Method, r.URL.Path, m.Code, humanize.Bytes(uint64(m.Written)), m.Duration)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}

func (o *Orchestrator) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id,omitempty"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("malformed request body: %w", err))
			return
		}
	}
	sess, err := o.store.CreateSession(r.Context(), body.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sess.ID})
}

func (o *Orchestrator) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := o.store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	messages, err := o.store.ListMessages(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if r.URL.Query().Get("format") == "frontend" {
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": sess.ID,
			"messages":   decodeWorkflowMessages(messages),
			"state":      sess.State,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"messages":   messages,
		"state":      sess.State,
	})
}

// frontendMessage mirrors session.Message but with Content decoded into a
// structured value for a workflow-typed turn.
type frontendMessage struct {
	ID        string              `json:"id"`
	SessionID string              `json:"sessionId"`
	Role      session.Role        `json:"role"`
	Type      session.MessageType `json:"type"`
	Content   any                 `json:"content"`
	CreatedAt time.Time           `json:"createdAt"`
}

// decodeWorkflowMessages is ?format=frontend's best-effort JSON-decode of
// every type="workflow" message's content: a malformed envelope falls
// back to the raw string rather than failing the whole request.
func decodeWorkflowMessages(messages []session.Message) []frontendMessage {
	out := make([]frontendMessage, len(messages))
	for i, m := range messages {
		out[i] = frontendMessage{
			ID:        m.ID,
			SessionID: m.SessionID,
			Role:      m.Role,
			Type:      m.Type,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		}
		if m.Type != session.MessageWorkflow {
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(m.Content), &decoded); err == nil {
			out[i].Content = decoded
		}
	}
	return out
}

func (o *Orchestrator) handleTeamMembers(w http.ResponseWriter, r *http.Request) {
	type member struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		LLMSummary  string   `json:"llm_summary"`
		Optional    bool     `json:"optional"`
		DefaultTier string   `json:"default_tier"`
		Tools       []string `json:"tools"`
	}
	var out []member
	for _, e := range registry.List() {
		out = append(out, member{
			Name:        string(e.Name),
			Description: e.Description,
			LLMSummary:  e.LLMSummary,
			Optional:    e.Optional,
			DefaultTier: string(e.DefaultTier),
			Tools:       e.Tools,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleChatStream implements spec.md §4.9's seven-step sequence.
func (o *Orchestrator) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("malformed request body: %w", err))
		return
	}

	userText, _, err := lastUserText(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	roster, err := registry.ValidateRoster(req.TeamMembers)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// Step 1: resolve or create the session.
	var sess session.Session
	if req.SessionID != nil && *req.SessionID != "" {
		sess, err = o.store.GetSession(r.Context(), *req.SessionID)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	} else {
		sess, err = o.store.CreateSession(r.Context(), "")
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}

	owner := uuid.NewString()
	acquired, err := o.locker.AcquireRunLock(r.Context(), sess.ID, owner, o.runTimeout)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !acquired {
		writeError(w, http.StatusConflict, fmt.Errorf("a run is already in progress for session %q", sess.ID))
		return
	}
	defer func() { _ = o.locker.ReleaseRunLock(context.Background(), sess.ID, owner) }()

	// Step 2: append the user message to the session.
	if _, err := o.store.AppendMessage(r.Context(), sess.ID, session.RoleUser, session.MessageText, userText); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	runCtx, cancel := context.WithTimeout(r.Context(), o.runTimeout)
	defer cancel()

	events := make(chan stream.Event, 64)
	projector := stream.NewProjector(sess.ID, func(e stream.Event) {
		select {
		case events <- e:
		case <-runCtx.Done():
		}
	})

	// Step 3: emit session_id immediately, before any work begins.
	projector.SessionID(sess.ID)

	go o.runWorkflow(runCtx, projector, sess, roster, req, userText, events)

	transport := &stream.Transport{}
	if err := transport.Serve(w, r, events, cancel); err != nil && r.Context().Err() == nil {
		log.Printf("orchestrator: stream transport for session %s ended: %v", sess.ID, err)
	}
}

// runWorkflow builds and runs the Workflow State (step 4), relies on the
// projector set up by the caller to relay events (step 5), and persists
// the run's outcome (step 6) before returning. Step 7 — releasing tool
// resources — needs no extra action here: every tool that holds a
// resource across an invocation (browser_drive's headless session)
// acquires and releases it within its own Execute call.
func (o *Orchestrator) runWorkflow(
	ctx context.Context,
	projector *stream.Projector,
	sess session.Session,
	roster []registry.Worker,
	req chatRequest,
	userText string,
	events chan stream.Event,
) {
	defer close(events)

	builder, ok := workflow.Get(o.workflow)
	if !ok {
		o.failRun(ctx, projector, sess.ID, fmt.Errorf("workflow %q is not registered", o.workflow))
		return
	}

	executor, err := builder.NewExecutor(workflow.Deps{Adapter: o.adapter, Projector: projector, TracerProvider: o.tracer}, sess.ID)
	if err != nil {
		o.failRun(ctx, projector, sess.ID, err)
		return
	}

	seed := graph.State{SessionID: sess.ID, Input: userText}
	workflow.Init(&seed, roster, req.DeepThinkingMode, req.SearchBeforePlanning, userText)

	result, err := executor.RunWithState(ctx, seed)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Cancellation: no terminal event, no persistence beyond the
			// user message already appended before the run started.
			return
		}
		o.failRun(ctx, projector, sess.ID, err)
		return
	}

	for _, m := range projector.Messages() {
		worker := registry.Worker(m.Worker)
		if isWorkflowTyped(worker) {
			content, err := encodeWorkflowMessage(sess.ID, worker, m.Content)
			if err != nil {
				log.Printf("orchestrator: encoding workflow message for session %s: %v", sess.ID, err)
				continue
			}
			if _, err := o.store.AppendMessage(ctx, sess.ID, session.RoleAssistant, session.MessageWorkflow, content); err != nil {
				log.Printf("orchestrator: persisting workflow message for session %s: %v", sess.ID, err)
			}
			continue
		}
		if _, err := o.store.AppendMessage(ctx, sess.ID, session.RoleAssistant, session.MessageText, m.Content); err != nil {
			log.Printf("orchestrator: persisting assistant message for session %s: %v", sess.ID, err)
		}
	}

	finalState := graph.State{Data: result.Data}
	snapshot := workflow.SnapshotOf(&finalState)
	raw, err := snapshot.MarshalState()
	if err == nil {
		if err := o.store.UpdateState(ctx, sess.ID, raw); err != nil {
			log.Printf("orchestrator: persisting final state for session %s: %v", sess.ID, err)
		}
	}

	messages, err := o.store.ListMessages(ctx, sess.ID)
	if err != nil {
		log.Printf("orchestrator: re-reading messages for session %s: %v", sess.ID, err)
	}

	var debug any
	if req.Debug {
		debug = map[string]any{"node_timings": projector.NodeTimings()}
	}
	projector.EndOfWorkflow(messages, debug)
	projector.FinalSessionState(messages)
}

// failRun persists a sanitised assistant-visible failure message, emits
// it as a message event on the still-open stream, and ends the stream
// without a matching end_of_workflow — per spec.md §7 a terminal
// failure still closes the stream after one final assistant text
// message, but it is not the same as a clean completion.
func (o *Orchestrator) failRun(ctx context.Context, projector *stream.Projector, sessionID string, err error) {
	detail := classifyFailure(err)
	if _, appendErr := o.store.AppendMessage(ctx, sessionID, session.RoleAssistant, session.MessageText, detail); appendErr != nil {
		log.Printf("orchestrator: persisting failure message for session %s: %v", sessionID, appendErr)
	}
	projector.FailureMessage("system", detail)
	log.Printf("orchestrator: run failed for session %s: %v", sessionID, err)
}

func classifyFailure(err error) string {
	switch {
	case errors.Is(err, workflow.ErrInvalidPlan):
		return "I could not put together a valid plan for this request. Please try rephrasing it."
	case errors.Is(err, workflow.ErrUnknownWorker):
		return "The run tried to hand off to a team member outside the selected roster and had to stop."
	default:
		return "Something went wrong while processing this request. Please try again."
	}
}
