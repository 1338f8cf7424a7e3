package workflow

import (
	"fmt"

	"github.com/deepmedical/core/graph"
	"github.com/deepmedical/core/observe"
	otelsink "github.com/deepmedical/core/observe/otel"
	"github.com/deepmedical/core/registry"
	"github.com/deepmedical/core/tools"
)

const Name = "medical"

// reactWorkers is the closed set of workers the supervisor can dispatch
// to as a react loop. coordinator/planner/supervisor are fixed nodes with
// their own contracts; every other registered worker takes this shape.
var reactWorkers = []registry.Worker{
	registry.Researcher,
	registry.Coder,
	registry.Browser,
	registry.Reporter,
	registry.Translator,
}

type medicalBuilder struct{}

func (medicalBuilder) Name() string { return Name }

func (medicalBuilder) Description() string {
	return "Coordinator/planner/supervisor routing a team of react-style workers over a medical-information request."
}

// NewExecutor assembles the fixed topology spec.md §4.6 names: the
// coordinator either answers directly or hands off to the planner, the
// planner hands a structured plan to the supervisor, and the supervisor
// loops between roster workers until one of them (or itself) reaches the
// terminal sentinel. The graph is compiled with cycles allowed since the
// supervisor<->worker loop is the whole point of it, and built with no
// state.Store: a run's Workflow State lives only for the run's duration,
// per spec.md §3, and is handed to the Session Store as a terminal
// Snapshot by the caller once the run ends.
func (b medicalBuilder) NewExecutor(deps Deps, sessionID string) (*graph.Executor, error) {
	if deps.Adapter == nil {
		return nil, fmt.Errorf("workflow %q: adapter is required", Name)
	}

	g := graph.New(Name)
	g.AddNode("coordinator", &CoordinatorNode{Adapter: deps.Adapter, Projector: deps.Projector})
	g.AddNode("planner", &PlannerNode{Adapter: deps.Adapter, WebSearch: lookupWebSearch(), Projector: deps.Projector})
	g.AddNode("supervisor", &SupervisorNode{Adapter: deps.Adapter, Projector: deps.Projector})

	for _, worker := range reactWorkers {
		entry, ok := registry.Get(worker)
		if !ok {
			return nil, fmt.Errorf("workflow %q: worker %q has no registry entry", Name, worker)
		}
		workerTools, err := tools.BuildSelection(entry.Tools)
		if err != nil {
			return nil, fmt.Errorf("workflow %q: resolving tools for %q: %w", Name, worker, err)
		}
		g.AddNode(string(worker), &ReactNode{
			Worker:    worker,
			Adapter:   deps.Adapter,
			Tools:     workerTools,
			Projector: deps.Projector,
		})
	}

	g.SetStart("coordinator")
	g.AddEdge("coordinator", "planner", graph.RouteEquals(keyNext, "planner"))

	g.AddEdge("planner", "supervisor", graph.RouteEquals(keyNext, "supervisor"))

	for _, worker := range reactWorkers {
		g.AddEdge("supervisor", string(worker), graph.RouteEquals(keyNext, string(worker)))
	}

	for _, worker := range reactWorkers {
		if worker == registry.Reporter {
			continue
		}
		g.AddEdge(string(worker), "supervisor", graph.RouteEquals(keyNext, "supervisor"))
	}

	g.AllowCycles(true)

	opts := []graph.ExecutorOption{}
	switch {
	case deps.Projector != nil && deps.TracerProvider != nil:
		opts = append(opts, graph.WithObserver(observe.NewMultiSink(deps.Projector, otelsink.NewSink(deps.TracerProvider))))
	case deps.Projector != nil:
		opts = append(opts, graph.WithObserver(deps.Projector))
	case deps.TracerProvider != nil:
		opts = append(opts, graph.WithObserver(otelsink.NewSink(deps.TracerProvider)))
	}
	if sessionID != "" {
		opts = append(opts, graph.WithSessionID(sessionID))
	}

	return graph.NewExecutor(g, opts...)
}

func lookupWebSearch() tools.Tool {
	selection, err := tools.BuildSelection([]string{"web_search"})
	if err != nil || len(selection) == 0 {
		return nil
	}
	return selection[0]
}

func init() {
	MustRegister(medicalBuilder{})
}
