package workflow

import (
	"context"
	"testing"

	"github.com/deepmedical/core/llm"
	"github.com/deepmedical/core/registry"
	"github.com/deepmedical/core/stream"
	"github.com/deepmedical/core/types"
)

type fakeProvider struct {
	name    string
	replies []string
	calls   int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{Tools: true, StructuredOutput: true}
}

func (p *fakeProvider) Generate(ctx context.Context, req types.Request) (types.Response, error) {
	reply := ""
	if p.calls < len(p.replies) {
		reply = p.replies[p.calls]
	}
	p.calls++
	return types.Response{Message: types.Message{Role: types.RoleAssistant, Content: reply}}, nil
}

func newTestAdapter(classes map[registry.ModelClass]*fakeProvider) *llm.Adapter {
	providers := make(map[registry.ModelClass]llm.Provider, len(classes))
	for class, p := range classes {
		providers[class] = p
	}
	return llm.NewAdapter(providers)
}

func TestCoordinatorNodeHandsOffToPlanner(t *testing.T) {
	basic := &fakeProvider{name: "basic", replies: []string{"handoff_to_planner"}}
	adapter := newTestAdapter(map[registry.ModelClass]*fakeProvider{registry.ClassBasic: basic})

	s := newTestState()
	Init(s, []registry.Worker{registry.Coordinator, registry.Planner}, false, false, "what is the recommended dose of metformin?")

	node := &CoordinatorNode{Adapter: adapter}
	if err := node.Execute(context.Background(), s); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := Next(s); got != "planner" {
		t.Fatalf("Next(s) = %q, want %q", got, "planner")
	}
}

func TestCoordinatorNodeAnswersDirectly(t *testing.T) {
	basic := &fakeProvider{name: "basic", replies: []string{"Hello! How can I help you today?"}}
	adapter := newTestAdapter(map[registry.ModelClass]*fakeProvider{registry.ClassBasic: basic})

	s := newTestState()
	Init(s, []registry.Worker{registry.Coordinator}, false, false, "hi there")

	node := &CoordinatorNode{Adapter: adapter}
	if err := node.Execute(context.Background(), s); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := Next(s); got != Finish {
		t.Fatalf("Next(s) = %q, want %q", got, Finish)
	}
	if s.Output == "" {
		t.Fatalf("expected a direct answer recorded as Output")
	}
}

func TestCoordinatorNodeBracketsLLMCallAndOpensNoWorkflowEnvelope(t *testing.T) {
	basic := &fakeProvider{name: "basic", replies: []string{"Hello! How can I help you today?"}}
	adapter := newTestAdapter(map[registry.ModelClass]*fakeProvider{registry.ClassBasic: basic})

	var events []stream.Event
	projector := stream.NewProjector("wf-1", func(e stream.Event) { events = append(events, e) })

	s := newTestState()
	Init(s, []registry.Worker{registry.Coordinator}, false, false, "hi there")

	node := &CoordinatorNode{Adapter: adapter, Projector: projector}
	if err := node.Execute(context.Background(), s); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("expected start_of_llm, message, end_of_llm, got %d events: %+v", len(events), events)
	}
	if events[0].Type != stream.EventStartOfLLM {
		t.Fatalf("events[0].Type = %q, want %q", events[0].Type, stream.EventStartOfLLM)
	}
	if events[1].Type != stream.EventMessage {
		t.Fatalf("events[1].Type = %q, want %q", events[1].Type, stream.EventMessage)
	}
	if events[2].Type != stream.EventEndOfLLM {
		t.Fatalf("events[2].Type = %q, want %q", events[2].Type, stream.EventEndOfLLM)
	}
	for _, e := range events {
		if e.Type == stream.EventStartOfWorkflow {
			t.Fatalf("a coordinator-only run must never open a workflow envelope")
		}
	}
}

func TestSupervisorNodeFinishesOnTerminal(t *testing.T) {
	basic := &fakeProvider{name: "basic", replies: []string{`{"next":"FINISH"}`}}
	adapter := newTestAdapter(map[registry.ModelClass]*fakeProvider{registry.ClassBasic: basic})

	s := newTestState()
	Init(s, []registry.Worker{registry.Reporter}, false, false, "hi")

	node := &SupervisorNode{Adapter: adapter}
	if err := node.Execute(context.Background(), s); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := Next(s); got != Finish {
		t.Fatalf("Next(s) = %q, want %q", got, Finish)
	}
}

func TestSupervisorNodeRejectsWorkerOutsideRoster(t *testing.T) {
	basic := &fakeProvider{name: "basic", replies: []string{`{"next":"browser"}`}}
	adapter := newTestAdapter(map[registry.ModelClass]*fakeProvider{registry.ClassBasic: basic})

	s := newTestState()
	Init(s, []registry.Worker{registry.Researcher}, false, false, "hi")

	node := &SupervisorNode{Adapter: adapter}
	if err := node.Execute(context.Background(), s); err == nil {
		t.Fatalf("expected an error dispatching to a worker outside the roster")
	}
	if got := Next(s); got != Finish {
		t.Fatalf("Next(s) = %q, want %q after a rejected dispatch", got, Finish)
	}
}

func TestPlannerNodeProducesPlan(t *testing.T) {
	plan := `{"thought":"check guidance","title":"Look up dosing","steps":[{"agent_name":"researcher","title":"Find dosing guidance","description":"search medical literature"}]}`
	basic := &fakeProvider{name: "basic", replies: []string{plan}}
	adapter := newTestAdapter(map[registry.ModelClass]*fakeProvider{registry.ClassBasic: basic})

	s := newTestState()
	Init(s, []registry.Worker{registry.Researcher, registry.Reporter}, false, false, "what is the recommended dose of metformin?")

	node := &PlannerNode{Adapter: adapter}
	if err := node.Execute(context.Background(), s); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := Next(s); got != "supervisor" {
		t.Fatalf("Next(s) = %q, want %q", got, "supervisor")
	}
	if PlanOf(s) == nil {
		t.Fatalf("expected a plan to be recorded")
	}
}

func TestPlannerNodeOpensWorkflowEnvelopeAndEmitsPlanAsMessage(t *testing.T) {
	plan := `{"thought":"check guidance","title":"Look up dosing","steps":[{"agent_name":"researcher","title":"Find dosing guidance","description":"search medical literature"}]}`
	basic := &fakeProvider{name: "basic", replies: []string{plan}}
	adapter := newTestAdapter(map[registry.ModelClass]*fakeProvider{registry.ClassBasic: basic})

	var events []stream.Event
	projector := stream.NewProjector("wf-1", func(e stream.Event) { events = append(events, e) })

	s := newTestState()
	Init(s, []registry.Worker{registry.Researcher, registry.Reporter}, false, false, "what is the recommended dose of metformin?")

	node := &PlannerNode{Adapter: adapter, Projector: projector}
	if err := node.Execute(context.Background(), s); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(events) == 0 || events[0].Type != stream.EventStartOfWorkflow {
		t.Fatalf("expected start_of_workflow as the first event at planner entry, got %+v", events)
	}
	var sawMessage bool
	for _, e := range events {
		if e.Type == stream.EventMessage {
			sawMessage = true
		}
	}
	if !sawMessage {
		t.Fatalf("expected the plan to be emitted as a message event, got %+v", events)
	}
}

func TestPlannerNodeFailsOnInvalidPlan(t *testing.T) {
	basic := &fakeProvider{name: "basic", replies: []string{"not json"}}
	adapter := newTestAdapter(map[registry.ModelClass]*fakeProvider{registry.ClassBasic: basic})

	s := newTestState()
	Init(s, nil, false, false, "hi")

	node := &PlannerNode{Adapter: adapter}
	if err := node.Execute(context.Background(), s); err == nil {
		t.Fatalf("expected an error for an unparsable plan")
	}
}

func TestReactNodeAppendsMessageAndReturnsToSupervisor(t *testing.T) {
	basic := &fakeProvider{name: "basic", replies: []string{"Metformin is typically dosed at 500mg twice daily."}}
	adapter := newTestAdapter(map[registry.ModelClass]*fakeProvider{registry.ClassBasic: basic})

	s := newTestState()
	Init(s, []registry.Worker{registry.Researcher}, false, false, "what is the recommended dose of metformin?")

	node := &ReactNode{Worker: registry.Researcher, Adapter: adapter}
	if err := node.Execute(context.Background(), s); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := Next(s); got != "supervisor" {
		t.Fatalf("Next(s) = %q, want %q", got, "supervisor")
	}
	msgs := Messages(s)
	last := msgs[len(msgs)-1]
	if last.Name != string(registry.Researcher) {
		t.Fatalf("expected the last message to be from researcher, got %q", last.Name)
	}
}

func TestReactNodeReporterFinishes(t *testing.T) {
	basic := &fakeProvider{name: "basic", replies: []string{"Final answer for the user."}}
	adapter := newTestAdapter(map[registry.ModelClass]*fakeProvider{registry.ClassBasic: basic})

	s := newTestState()
	Init(s, []registry.Worker{registry.Reporter}, false, false, "hi")

	node := &ReactNode{Worker: registry.Reporter, Adapter: adapter}
	if err := node.Execute(context.Background(), s); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := Next(s); got != Finish {
		t.Fatalf("Next(s) = %q, want %q", got, Finish)
	}
	if s.Output == "" {
		t.Fatalf("expected the reporter's output to be recorded")
	}
}
