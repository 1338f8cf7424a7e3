package workflow_test

import (
	"testing"

	"github.com/deepmedical/core/llm"
	"github.com/deepmedical/core/registry"
	"github.com/deepmedical/core/workflow"
)

func TestMedicalWorkflowRegistered(t *testing.T) {
	names := workflow.Names()
	if len(names) == 0 {
		t.Fatalf("expected built-in workflows")
	}

	builder, ok := workflow.Get(workflow.Name)
	if !ok {
		t.Fatalf("expected %q workflow to be registered", workflow.Name)
	}
	if builder.Name() != workflow.Name {
		t.Fatalf("builder.Name() = %q, want %q", builder.Name(), workflow.Name)
	}
	if builder.Description() == "" {
		t.Fatalf("expected a non-empty description")
	}
}

func TestMedicalWorkflowNewExecutorRequiresAdapter(t *testing.T) {
	builder, ok := workflow.Get(workflow.Name)
	if !ok {
		t.Fatalf("expected %q workflow to be registered", workflow.Name)
	}
	if _, err := builder.NewExecutor(workflow.Deps{}, "session-1"); err == nil {
		t.Fatalf("expected an error without an adapter")
	}
}

func TestMedicalWorkflowNewExecutorCompiles(t *testing.T) {
	builder, ok := workflow.Get(workflow.Name)
	if !ok {
		t.Fatalf("expected %q workflow to be registered", workflow.Name)
	}

	adapter := llm.NewAdapter(map[registry.ModelClass]llm.Provider{})
	executor, err := builder.NewExecutor(workflow.Deps{Adapter: adapter}, "session-1")
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	if executor == nil {
		t.Fatalf("expected a non-nil executor")
	}
}
