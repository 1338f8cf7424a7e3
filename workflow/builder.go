package workflow

import (
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/deepmedical/core/graph"
	"github.com/deepmedical/core/llm"
	"github.com/deepmedical/core/stream"
)

// Deps are the run-independent collaborators a Builder wires into every
// node of the graph it assembles. Unlike the single graph.AgentRunner the
// team topology used to take, each node here calls the LLM Adapter with
// its own worker-specific model class and tool set, so there is no one
// runner to hand in — the adapter is enough for every node to resolve its
// own provider, and each worker's declared tool names resolve through the
// tool layer independently. Projector is optional; a run with none set
// still executes, it just produces no events. TracerProvider is also
// optional; when set, every graph-level event is mirrored into an OTel
// span alongside the Projector's wire events.
type Deps struct {
	Adapter        *llm.Adapter
	Projector      *stream.Projector
	TracerProvider trace.TracerProvider
}

type Builder interface {
	Name() string
	Description() string
	NewExecutor(deps Deps, sessionID string) (*graph.Executor, error)
}

var (
	mu       sync.RWMutex
	builders = map[string]Builder{}
)

func Register(b Builder) error {
	if b == nil {
		return fmt.Errorf("workflow builder is nil")
	}
	name := b.Name()
	if name == "" {
		return fmt.Errorf("workflow name is required")
	}
	mu.Lock()
	defer mu.Unlock()
	if _, exists := builders[name]; exists {
		return fmt.Errorf("workflow %q already registered", name)
	}
	builders[name] = b
	return nil
}

func MustRegister(b Builder) {
	if err := Register(b); err != nil {
		panic(err)
	}
}

func Get(name string) (Builder, bool) {
	mu.RLock()
	defer mu.RUnlock()
	b, ok := builders[name]
	return b, ok
}

func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(builders))
	for name := range builders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
