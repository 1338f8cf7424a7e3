package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/deepmedical/core/agent"
	"github.com/deepmedical/core/graph"
	"github.com/deepmedical/core/llm"
	"github.com/deepmedical/core/prompt"
	"github.com/deepmedical/core/registry"
	"github.com/deepmedical/core/stream"
	"github.com/deepmedical/core/tools"
	"github.com/deepmedical/core/types"
)

func rosterNames(roster []registry.Worker) []string {
	out := make([]string, len(roster))
	for i, w := range roster {
		out[i] = string(w)
	}
	return out
}

func lastUserMessage(messages []types.Message) types.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == types.RoleUser {
			return messages[i]
		}
	}
	if len(messages) > 0 {
		return messages[len(messages)-1]
	}
	return types.Message{}
}

func bindFor(worker registry.Worker, s *graph.State) (string, []types.Message, error) {
	return prompt.Bind(prompt.BindInput{
		Worker:               string(worker),
		Now:                  time.Now().UTC(),
		Roster:               rosterNames(Roster(s)),
		DeepThinking:         DeepThinking(s),
		SearchBeforePlanning: SearchBeforePlanning(s),
		Plan:                 PlanText(s),
		Messages:             Messages(s),
	})
}

// CoordinatorNode is the front door: a single basic-tier LLM call that
// either hands the turn to the planner or answers it directly. This is
// never a react loop — it has no tools — so it calls the LLM Adapter
// straight rather than wrapping agent.Agent.
type CoordinatorNode struct {
	Adapter   *llm.Adapter
	Projector *stream.Projector
}

const handoffMarker = "handoff_to_planner"

func (n *CoordinatorNode) Execute(ctx context.Context, s *graph.State) error {
	if n == nil || n.Adapter == nil {
		return fmt.Errorf("coordinator node: adapter is required")
	}

	roster := Roster(s)
	if registry.InRoster(roster, registry.Translator) {
		user := lastUserMessage(Messages(s))
		if looksNonEnglish(user.Content) {
			translated, err := translateToEnglish(ctx, n.Adapter, user.Content)
			if err != nil {
				log.Printf("[coordinator] pre-translation failed, continuing in original language: %v", err)
			} else {
				replaceLastUserMessage(s, translated)
			}
		}
	}

	system, messages, err := bindFor(registry.Coordinator, s)
	if err != nil {
		return err
	}

	n.Projector.StartOfLLM(string(registry.Coordinator))
	resp, err := n.Adapter.Invoke(ctx, registry.ClassBasic, types.Request{
		SystemPrompt: system,
		Messages:     messages,
	})
	if err != nil {
		n.Projector.EndOfLLM(string(registry.Coordinator))
		return fmt.Errorf("coordinator generate: %w", err)
	}

	content := strings.TrimSpace(resp.Message.Content)
	if strings.Contains(strings.ToLower(content), handoffMarker) {
		n.Projector.EndOfLLM(string(registry.Coordinator))
		SetNext(s, "planner")
		return nil
	}

	// The final answer rides the wire as a message before end_of_llm
	// closes the turn, matching how a real streaming reply would look.
	AppendMessage(s, types.Message{Role: types.RoleAssistant, Name: string(registry.Coordinator), Content: content})
	n.Projector.Message(string(registry.Coordinator), content)
	n.Projector.EndOfLLM(string(registry.Coordinator))
	s.Output = content
	SetNext(s, Finish)
	return nil
}

func replaceLastUserMessage(s *graph.State, content string) {
	s.EnsureData()
	msgs := Messages(s)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == types.RoleUser {
			msgs[i].Content = content
			s.Data[keyMessages] = msgs
			return
		}
	}
}

// PlannerNode turns the user's request into a Plan, optionally enriched
// with a web search run before the LLM call. A search failure never
// fails the run — it only skips the enrichment.
//
// Planner entry is where the workflow envelope opens: a coordinator-only
// turn never reaches this node, so it never sees a start_of_workflow at
// all, and every turn that does plan sees exactly one.
type PlannerNode struct {
	Adapter   *llm.Adapter
	WebSearch tools.Tool
	Projector *stream.Projector
}

func (n *PlannerNode) Execute(ctx context.Context, s *graph.State) error {
	if n == nil || n.Adapter == nil {
		return fmt.Errorf("planner node: adapter is required")
	}

	n.Projector.StartOfWorkflow(s.Input)

	system, messages, err := bindFor(registry.Planner, s)
	if err != nil {
		return err
	}

	if SearchBeforePlanning(s) && n.WebSearch != nil {
		query := lastUserMessage(Messages(s)).Content
		args, marshalErr := toolArgs(map[string]any{"query": query})
		if marshalErr != nil {
			log.Printf("[planner] failed to encode search-before-planning args: %v", marshalErr)
		} else if result, execErr := n.WebSearch.Execute(ctx, args); execErr != nil {
			log.Printf("[planner] search-before-planning failed, planning without it: %v", execErr)
		} else {
			system += "\n\nRelevant search results gathered before planning:\n" + stringifyResult(result)
		}
	}

	class := registry.ClassBasic
	if DeepThinking(s) {
		class = registry.ClassReasoning
	}

	var plan Plan
	n.Projector.StartOfLLM(string(registry.Planner))
	err = n.Adapter.InvokeStructured(ctx, class, types.Request{
		SystemPrompt: system,
		Messages:     messages,
	}, PlanSchema(), &plan)
	n.Projector.EndOfLLM(string(registry.Planner))
	if err != nil {
		const failureMessage = "I could not produce a valid plan for this request."
		AppendMessage(s, types.Message{
			Role:    types.RoleAssistant,
			Name:    string(registry.Planner),
			Content: failureMessage,
		})
		n.Projector.Message(string(registry.Planner), failureMessage)
		s.Output = failureMessage
		SetNext(s, Finish)
		return fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}

	SetPlan(s, &plan)
	planText := PlanText(s)
	AppendMessage(s, types.Message{Role: types.RoleAssistant, Name: string(registry.Planner), Content: planText})
	n.Projector.Message(string(registry.Planner), planText)
	SetNext(s, "supervisor")
	return nil
}

// SupervisorNode dispatches each step to a roster member, or finishes
// the run, based on a structured {next} decision from the LLM.
type SupervisorNode struct {
	Adapter   *llm.Adapter
	Projector *stream.Projector
}

func (n *SupervisorNode) Execute(ctx context.Context, s *graph.State) error {
	if n == nil || n.Adapter == nil {
		return fmt.Errorf("supervisor node: adapter is required")
	}

	system, messages, err := bindFor(registry.Supervisor, s)
	if err != nil {
		return err
	}

	var decision SupervisorDecision
	n.Projector.StartOfLLM(string(registry.Supervisor))
	err = n.Adapter.InvokeStructured(ctx, registry.ClassBasic, types.Request{
		SystemPrompt: system,
		Messages:     messages,
	}, SupervisorSchema(), &decision)
	n.Projector.EndOfLLM(string(registry.Supervisor))
	if err != nil {
		SetNext(s, Finish)
		return fmt.Errorf("supervisor decision: %w", err)
	}

	next := strings.TrimSpace(decision.Next)
	if next == "" || strings.EqualFold(next, Finish) {
		SetNext(s, Finish)
		return nil
	}

	worker := registry.Worker(next)
	if !registry.InRoster(Roster(s), worker) {
		SetNext(s, Finish)
		return fmt.Errorf("%w: %q", ErrUnknownWorker, next)
	}

	SetNext(s, next)
	return nil
}

// ReactNode realises researcher/coder/browser/reporter/translator as a
// generic (LLM call -> optional tool call -> observation) loop built on
// agent.Agent. It is never checkpointed: agent.Agent runs with no
// state.Store, since Workflow State is ephemeral mid-run here.
type ReactNode struct {
	Worker        registry.Worker
	Adapter       *llm.Adapter
	Tools         []tools.Tool
	Projector     *stream.Projector
	MaxIterations int
}

func (n *ReactNode) Execute(ctx context.Context, s *graph.State) error {
	if n == nil || n.Adapter == nil {
		return fmt.Errorf("react node: adapter is required")
	}

	class := llm.SelectClass(n.Worker, DeepThinking(s))
	provider, err := n.Adapter.ProviderFor(class)
	if err != nil {
		return fmt.Errorf("react node %q: %w", n.Worker, err)
	}

	system, messages, err := bindFor(n.Worker, s)
	if err != nil {
		return err
	}

	maxIter := n.MaxIterations
	if maxIter <= 0 {
		maxIter = 6
	}
	opts := []agent.Option{
		agent.WithSystemPrompt(system),
		agent.WithMaxIterations(maxIter),
	}
	if n.Projector != nil {
		opts = append(opts, agent.WithObserver(n.Projector.ForWorker(string(n.Worker))))
	}
	for _, t := range n.Tools {
		if n.Projector != nil {
			t = n.Projector.WrapTool(string(n.Worker), t)
		}
		opts = append(opts, agent.WithTool(t))
	}

	worker, err := agent.New(provider, opts...)
	if err != nil {
		return fmt.Errorf("react node %q: %w", n.Worker, err)
	}

	result, err := worker.RunDetailed(ctx, transcript(messages))
	if err != nil {
		return fmt.Errorf("react node %q: %w", n.Worker, err)
	}

	AppendMessage(s, types.Message{Role: types.RoleAssistant, Name: string(n.Worker), Content: result.Output})
	n.Projector.Message(string(n.Worker), result.Output)

	if n.Worker == registry.Reporter {
		s.Output = result.Output
		SetNext(s, Finish)
		return nil
	}
	SetNext(s, "supervisor")
	return nil
}

func toolArgs(v map[string]any) (json.RawMessage, error) {
	return json.Marshal(v)
}

func stringifyResult(result any) string {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(encoded)
}

// transcript collapses the conversation so far into the single input
// string agent.Agent.RunDetailed expects, since the react loop seeds its
// own message list from one string rather than a pre-built list.
func transcript(messages []types.Message) string {
	var b strings.Builder
	for _, m := range messages {
		role := string(m.Role)
		name := m.Name
		if name == "" {
			name = role
		}
		fmt.Fprintf(&b, "[%s] %s\n", name, m.Content)
	}
	return strings.TrimSpace(b.String())
}
