package prompt

import (
	"strings"
	"testing"
	"time"
)

func TestBind_Coordinator(t *testing.T) {
	system, _, err := Bind(BindInput{
		Worker: "coordinator",
		Now:    time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
		Roster: []string{"coordinator", "planner", "supervisor", "reporter"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(system, "handoff_to_planner") {
		t.Fatalf("expected coordinator prompt to mention handoff marker, got %q", system)
	}
}

func TestBind_PlannerDeepThinkingBlock(t *testing.T) {
	system, _, err := Bind(BindInput{
		Worker:       "planner",
		Now:          time.Now(),
		DeepThinking: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(system, "Think through the problem thoroughly") {
		t.Fatalf("expected deep-thinking block rendered, got %q", system)
	}
}

func TestBind_UnknownWorker(t *testing.T) {
	if _, _, err := Bind(BindInput{Worker: "not-a-worker"}); err == nil {
		t.Fatalf("expected error for unregistered worker")
	}
}
