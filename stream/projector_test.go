package stream

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/deepmedical/core/observe"
	"github.com/deepmedical/core/tools"
)

func collect() (*Projector, func() []Event) {
	var got []Event
	p := NewProjector("wf-1", func(e Event) { got = append(got, e) })
	return p, func() []Event { return got }
}

func TestProjectorBookends(t *testing.T) {
	p, events := collect()
	p.SessionID("session-1")
	p.StartOfWorkflow("hello")
	p.EndOfWorkflow([]string{"done"}, nil)
	p.FinalSessionState([]string{"done"})

	got := events()
	if len(got) != 4 {
		t.Fatalf("expected 4 events, got %d", len(got))
	}
	wantTypes := []EventType{EventSessionID, EventStartOfWorkflow, EventEndOfWorkflow, EventFinalSessionState}
	for i, want := range wantTypes {
		if got[i].Type != want {
			t.Fatalf("event %d type = %q, want %q", i, got[i].Type, want)
		}
	}
}

func TestProjectorEmitBracketsGraphNodes(t *testing.T) {
	p, events := collect()

	if err := p.Emit(context.Background(), observe.Event{Kind: observe.KindGraph, Status: observe.StatusStarted, ToolName: "researcher"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := p.Emit(context.Background(), observe.Event{Kind: observe.KindGraph, Status: observe.StatusCompleted, ToolName: "researcher"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	got := events()
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != EventStartOfAgent || got[1].Type != EventEndOfAgent {
		t.Fatalf("unexpected event types: %v, %v", got[0].Type, got[1].Type)
	}

	startData := got[0].Data.(map[string]any)
	endData := got[1].Data.(map[string]any)
	if startData["agent_id"] != endData["agent_id"] {
		t.Fatalf("start/end agent_id mismatch: %v vs %v", startData["agent_id"], endData["agent_id"])
	}
	if startData["agent_name"] != "researcher" {
		t.Fatalf("agent_name = %v, want %q", startData["agent_name"], "researcher")
	}
}

func TestProjectorEmitRecordsNodeTimings(t *testing.T) {
	p, _ := collect()

	if err := p.Emit(context.Background(), observe.Event{Kind: observe.KindGraph, Status: observe.StatusStarted, ToolName: "researcher"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := p.Emit(context.Background(), observe.Event{Kind: observe.KindGraph, Status: observe.StatusCompleted, ToolName: "researcher"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	timings := p.NodeTimings()
	if len(timings) != 1 || timings[0].Worker != "researcher" {
		t.Fatalf("expected one researcher timing, got %v", timings)
	}
	if timings[0].DurationMs < 0 {
		t.Fatalf("duration should never be negative, got %d", timings[0].DurationMs)
	}
}

func TestProjectorEndOfWorkflowAttachesDebugWhenSet(t *testing.T) {
	p, events := collect()
	p.EndOfWorkflow(nil, map[string]any{"node_timings": []NodeTiming{{Worker: "coordinator", DurationMs: 5}}})

	got := events()
	data := got[0].Data.(map[string]any)
	if _, ok := data["debug"]; !ok {
		t.Fatalf("expected a debug key when debug is non-nil, got %v", data)
	}
}

func TestProjectorEmitIgnoresNonGraphEvents(t *testing.T) {
	p, events := collect()
	if err := p.Emit(context.Background(), observe.Event{Kind: observe.KindRun, Status: observe.StatusStarted}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if got := events(); len(got) != 0 {
		t.Fatalf("expected no events for a non-graph kind, got %v", got)
	}
}

func TestForWorkerBracketsLLMCalls(t *testing.T) {
	p, events := collect()
	sink := p.ForWorker("researcher")

	_ = sink.Emit(context.Background(), observe.Event{Kind: observe.KindProvider, Status: observe.StatusStarted})
	_ = sink.Emit(context.Background(), observe.Event{Kind: observe.KindProvider, Status: observe.StatusCompleted})

	got := events()
	if len(got) != 2 || got[0].Type != EventStartOfLLM || got[1].Type != EventEndOfLLM {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestFailureMessageOpensAndClosesItsOwnBracket(t *testing.T) {
	p, events := collect()
	p.FailureMessage("system", "something went wrong")

	got := events()
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(got), got)
	}
	if got[0].Type != EventStartOfAgent || got[1].Type != EventMessage || got[2].Type != EventEndOfAgent {
		t.Fatalf("unexpected event sequence: %+v", got)
	}
	if len(p.Messages()) != 1 || p.Messages()[0].Content != "something went wrong" {
		t.Fatalf("expected the failure text recorded as a message, got %+v", p.Messages())
	}
}

func TestToolCallIDFormat(t *testing.T) {
	p, _ := collect()
	first := p.toolCallID("researcher", "web_search")
	second := p.toolCallID("researcher", "web_search")
	if first == second {
		t.Fatalf("expected distinct tool call ids per invocation, got %q twice", first)
	}
	want := "wf-1_researcher_web_search_1"
	if first != want {
		t.Fatalf("toolCallID = %q, want %q", first, want)
	}
}

func TestWrapToolEmitsCallAndResult(t *testing.T) {
	p, events := collect()
	inner := tools.NewFuncTool("web_search", "search the web", nil, func(ctx context.Context, args json.RawMessage) (any, error) {
		return map[string]any{"results": []string{"a"}}, nil
	})
	wrapped := p.WrapTool("researcher", inner)

	if _, err := wrapped.Execute(context.Background(), json.RawMessage(`{"query":"metformin dosing"}`)); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := events()
	if len(got) != 2 || got[0].Type != EventToolCall || got[1].Type != EventToolCallResult {
		t.Fatalf("unexpected events: %+v", got)
	}
	callData := got[0].Data.(map[string]any)
	if callData["tool_call_id"] != got[1].Data.(map[string]any)["tool_call_id"] {
		t.Fatalf("mismatched tool_call_id between call and result events")
	}
	if callData["tool_name"] != "web_search" {
		t.Fatalf("tool_name = %v, want %q", callData["tool_name"], "web_search")
	}
}
