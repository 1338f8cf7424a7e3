package workflow

import (
	"testing"

	"github.com/deepmedical/core/graph"
	"github.com/deepmedical/core/registry"
	"github.com/deepmedical/core/types"
)

func newTestState() *graph.State {
	return &graph.State{RunID: "run-1", SessionID: "session-1", Input: "hello"}
}

func TestInitSeedsStateFields(t *testing.T) {
	s := newTestState()
	roster := []registry.Worker{registry.Coordinator, registry.Planner, registry.Supervisor, registry.Reporter}
	Init(s, roster, true, false, "what is metformin used for?")

	if !DeepThinking(s) {
		t.Fatalf("expected deep thinking to be true")
	}
	if SearchBeforePlanning(s) {
		t.Fatalf("expected search-before-planning to be false")
	}
	if got := Roster(s); len(got) != len(roster) {
		t.Fatalf("Roster(s) = %v, want %v", got, roster)
	}

	msgs := Messages(s)
	if len(msgs) != 1 {
		t.Fatalf("expected one seeded message, got %d", len(msgs))
	}
	if msgs[0].Role != types.RoleUser || msgs[0].Content != "what is metformin used for?" {
		t.Fatalf("unexpected seeded message: %+v", msgs[0])
	}
}

func TestAppendMessageAccumulates(t *testing.T) {
	s := newTestState()
	Init(s, nil, false, false, "hi")
	AppendMessage(s, types.Message{Role: types.RoleAssistant, Name: "coordinator", Content: "hello"})

	msgs := Messages(s)
	if len(msgs) != 2 {
		t.Fatalf("expected two messages, got %d", len(msgs))
	}
	if msgs[1].Name != "coordinator" {
		t.Fatalf("expected second message from coordinator, got %q", msgs[1].Name)
	}
}

func TestNextRoundTrip(t *testing.T) {
	s := newTestState()
	if got := Next(s); got != "" {
		t.Fatalf("Next(s) = %q before any SetNext, want empty", got)
	}
	SetNext(s, "planner")
	if got := Next(s); got != "planner" {
		t.Fatalf("Next(s) = %q, want %q", got, "planner")
	}
}

func TestPlanTextEmptyWithoutPlan(t *testing.T) {
	s := newTestState()
	if got := PlanText(s); got != "" {
		t.Fatalf("PlanText(s) = %q, want empty string with no plan set", got)
	}

	plan := &Plan{Thought: "check guidance", Title: "Look up dosing", Steps: []PlanStep{
		{AgentName: "researcher", Title: "Find dosing guidance", Description: "search medical literature"},
	}}
	SetPlan(s, plan)
	if got := PlanText(s); got == "" {
		t.Fatalf("expected non-empty PlanText after SetPlan")
	}
	if got := PlanOf(s); got != plan {
		t.Fatalf("PlanOf(s) = %v, want %v", got, plan)
	}
}

func TestSnapshotOfReflectsState(t *testing.T) {
	s := newTestState()
	roster := []registry.Worker{registry.Coordinator, registry.Reporter}
	Init(s, roster, true, true, "hi")
	SetNext(s, Finish)

	snap := SnapshotOf(s)
	if !snap.DeepThinking || !snap.SearchBeforePlanning {
		t.Fatalf("snapshot did not reflect flags: %+v", snap)
	}
	if snap.Next != Finish {
		t.Fatalf("snapshot.Next = %q, want %q", snap.Next, Finish)
	}

	raw, err := snap.MarshalState()
	if err != nil {
		t.Fatalf("MarshalState: %v", err)
	}
	if len(raw) == 0 {
		t.Fatalf("expected non-empty marshaled snapshot")
	}
}
