package prompt

import (
	"fmt"
	"time"

	"github.com/deepmedical/core/types"
)

// BindInput is the subset of live Workflow State the Prompt Binder needs.
// Declared locally (instead of importing the workflow package) so prompt
// stays a leaf package with no dependency on the engine it serves.
type BindInput struct {
	Worker               string
	Now                  time.Time
	Roster               []string
	DeepThinking         bool
	SearchBeforePlanning bool
	Plan                 string
	Messages             []types.Message
}

// Bind resolves the worker's prompt.Spec and renders its System template
// against BindInput. It returns the rendered system instruction and the
// conversation to append after it, mirroring types.Request's split
// between SystemPrompt and Messages. Pure function of its inputs, as
// spec.md §4.2 requires.
func Bind(in BindInput) (system string, messages []types.Message, err error) {
	spec, ok := Resolve(in.Worker)
	if !ok {
		return "", nil, fmt.Errorf("prompt: no template registered for worker %q", in.Worker)
	}

	vars := map[string]any{
		"current_time":           CurrentTime(in.Now, ""),
		"team_roster":            in.Roster,
		"deep_thinking":          in.DeepThinking,
		"search_before_planning": in.SearchBeforePlanning,
		"plan":                   in.Plan,
	}
	system, err = Render(spec.System, vars)
	if err != nil {
		return "", nil, fmt.Errorf("prompt: bind %q: %w", in.Worker, err)
	}
	return system, in.Messages, nil
}
