package orchestrator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/deepmedical/core/registry"
	"github.com/deepmedical/core/session"
)

func TestIsWorkflowTypedOnlyPlannerAndResearcher(t *testing.T) {
	for _, w := range []registry.Worker{registry.Planner, registry.Researcher} {
		if !isWorkflowTyped(w) {
			t.Fatalf("expected %q to be workflow-typed", w)
		}
	}
	for _, w := range []registry.Worker{registry.Coordinator, registry.Reporter, registry.Supervisor, registry.Coder, registry.Browser, registry.Translator} {
		if isWorkflowTyped(w) {
			t.Fatalf("expected %q to persist as plain text", w)
		}
	}
}

func TestEncodeWorkflowMessageRoundTrips(t *testing.T) {
	raw, err := encodeWorkflowMessage("wf-1", registry.Planner, "the plan")
	if err != nil {
		t.Fatalf("encodeWorkflowMessage: %v", err)
	}
	var decoded workflowEnvelope
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Workflow.WorkflowID != "wf-1" {
		t.Fatalf("workflow_id = %q, want wf-1", decoded.Workflow.WorkflowID)
	}
	if len(decoded.Workflow.Steps) != 1 || decoded.Workflow.Steps[0].AgentName != "planner" {
		t.Fatalf("unexpected steps: %+v", decoded.Workflow.Steps)
	}
	if len(decoded.Workflow.Steps[0].Tasks) != 1 || decoded.Workflow.Steps[0].Tasks[0].Payload != "the plan" {
		t.Fatalf("unexpected tasks: %+v", decoded.Workflow.Steps[0].Tasks)
	}
}

func TestDecodeWorkflowMessagesDecodesWorkflowTypeOnly(t *testing.T) {
	envelope, err := encodeWorkflowMessage("wf-1", registry.Researcher, "findings")
	if err != nil {
		t.Fatalf("encodeWorkflowMessage: %v", err)
	}
	messages := []session.Message{
		{ID: "1", Role: session.RoleAssistant, Type: session.MessageWorkflow, Content: envelope, CreatedAt: time.Now()},
		{ID: "2", Role: session.RoleAssistant, Type: session.MessageText, Content: "plain text", CreatedAt: time.Now()},
	}
	out := decodeWorkflowMessages(messages)
	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
	if _, ok := out[0].Content.(map[string]any); !ok {
		t.Fatalf("expected the workflow message's content decoded into a map, got %T", out[0].Content)
	}
	if s, ok := out[1].Content.(string); !ok || s != "plain text" {
		t.Fatalf("expected the text message's content to stay a string, got %+v", out[1].Content)
	}
}

func TestDecodeWorkflowMessagesFallsBackOnMalformedEnvelope(t *testing.T) {
	messages := []session.Message{
		{ID: "1", Role: session.RoleAssistant, Type: session.MessageWorkflow, Content: "not json", CreatedAt: time.Now()},
	}
	out := decodeWorkflowMessages(messages)
	if s, ok := out[0].Content.(string); !ok || s != "not json" {
		t.Fatalf("expected a malformed envelope to fall back to the raw string, got %+v", out[0].Content)
	}
}
