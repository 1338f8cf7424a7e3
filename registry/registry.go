// Package registry is the Agent Registry: a static, process-wide table of
// worker identities. It mirrors the teacher's flow.Definition registry
// (one name, one entry, register-at-init) but keys on workers instead of
// reusable agent flows, and adds the optionality/tool-list fields the
// workflow engine and tool layer both need a single source of truth for.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ModelClass is the LLM Adapter's closed set of model tiers.
type ModelClass string

const (
	ClassBasic     ModelClass = "basic"
	ClassReasoning ModelClass = "reasoning"
	ClassVision    ModelClass = "vision"
)

// Worker is the closed enum of worker identities the workflow engine can
// route to. Adding a new worker means updating this list, the prompt
// table, and the event projector's agent-id formatting — the exhaustive
// match the spec's redesign notes call for.
type Worker string

const (
	Coordinator Worker = "coordinator"
	Planner     Worker = "planner"
	Supervisor  Worker = "supervisor"
	Researcher  Worker = "researcher"
	Coder       Worker = "coder"
	Browser     Worker = "browser"
	Reporter    Worker = "reporter"
	Translator  Worker = "translator"
)

// Entry describes one worker: its human/LLM-facing descriptions, whether
// a client may omit it from a run's team roster, its default LLM class,
// and the tool names the workflow engine wires into its react loop.
type Entry struct {
	Name        Worker
	Description string
	LLMSummary  string
	Optional    bool
	DefaultTier ModelClass
	Tools       []string
}

var (
	mu      sync.RWMutex
	entries = orderedmap.New[Worker, Entry]()
)

// Register adds or overwrites one worker entry. Kept exported (unlike the
// teacher's flow package, which errors on duplicate names) because
// registry.LoadYAML legitimately overrides a built-in entry.
func Register(e Entry) error {
	if strings.TrimSpace(string(e.Name)) == "" {
		return fmt.Errorf("registry: worker name is required")
	}
	mu.Lock()
	defer mu.Unlock()
	entries.Set(e.Name, e)
	return nil
}

func MustRegister(e Entry) {
	if err := Register(e); err != nil {
		panic(err)
	}
}

// Get returns the entry for a worker name, if registered.
func Get(name Worker) (Entry, bool) {
	mu.RLock()
	defer mu.RUnlock()
	return entries.Get(name)
}

// Mandatory reports whether a worker cannot be removed from a team roster.
func Mandatory(name Worker) bool {
	e, ok := Get(name)
	return ok && !e.Optional
}

// Names returns every registered worker name in registration order.
func Names() []Worker {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Worker, 0, entries.Len())
	for pair := entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// List returns every registered entry in registration order.
func List() []Entry {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Entry, 0, entries.Len())
	for pair := entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// MandatoryNames returns the sorted set of workers a roster may not omit.
func MandatoryNames() []string {
	var out []string
	for _, e := range List() {
		if !e.Optional {
			out = append(out, string(e.Name))
		}
	}
	sort.Strings(out)
	return out
}

// ValidateRoster checks a client-supplied team_members list against
// spec.md §8's boundary cases. requested is nil when the client omitted
// team_members entirely — that resolves to the default full team
// (every mandatory worker plus every optional one). A non-nil but empty
// slice means the client explicitly sent team_members: [] and is a
// validation failure, same as an unknown worker name or a roster that
// omits a mandatory worker: none of these are silently repaired.
func ValidateRoster(requested *[]string) ([]Worker, error) {
	var names []string
	switch {
	case requested == nil:
		names = append(MandatoryNames(), OptionalDefaults()...)
	case len(*requested) == 0:
		return nil, fmt.Errorf("team_members must not be empty")
	default:
		names = *requested
	}

	seen := map[Worker]struct{}{}
	roster := make([]Worker, 0, len(names))
	for _, name := range names {
		w := Worker(strings.TrimSpace(name))
		if w == "" {
			continue
		}
		if _, ok := Get(w); !ok {
			return nil, fmt.Errorf("unknown worker %q in team_members", name)
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		roster = append(roster, w)
	}
	for _, name := range MandatoryNames() {
		if _, ok := seen[Worker(name)]; !ok {
			return nil, fmt.Errorf("team_members is missing mandatory worker %q", name)
		}
	}
	if len(roster) == 0 {
		return nil, fmt.Errorf("team_members must not be empty")
	}
	return roster, nil
}

// OptionalDefaults is the roster used when a client supplies no
// team_members at all: every optional worker, matching the behaviour of
// the DeepMedical front end which preselects the full team.
func OptionalDefaults() []string {
	var out []string
	for _, e := range List() {
		if e.Optional {
			out = append(out, string(e.Name))
		}
	}
	return out
}

// InRoster reports whether w is present in roster.
func InRoster(roster []Worker, w Worker) bool {
	for _, r := range roster {
		if r == w {
			return true
		}
	}
	return false
}

func init() {
	RegisterBuiltins()
}
