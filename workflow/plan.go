package workflow

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Plan is the planner's structured breakdown of a user turn into steps
// for the team, per the GLOSSARY's Plan shape.
type Plan struct {
	Thought string     `json:"thought"`
	Title   string     `json:"title"`
	Steps   []PlanStep `json:"steps"`
}

type PlanStep struct {
	AgentName   string `json:"agent_name"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Note        string `json:"note,omitempty"`
}

// SupervisorDecision is the structured reply the supervisor node demands
// from the LLM Adapter: the next worker to run, or the terminal sentinel.
type SupervisorDecision struct {
	Next string `json:"next" jsonschema:"required"`
}

var (
	planSchemaReflector       = &jsonschema.Reflector{ExpandedStruct: true}
	supervisorSchemaReflector = &jsonschema.Reflector{ExpandedStruct: true}
)

// PlanSchema reflects Plan into the JSON Schema the LLM Adapter
// validates the planner's structured reply against.
func PlanSchema() map[string]any {
	return schemaToMap(planSchemaReflector.Reflect(&Plan{}))
}

// SupervisorSchema reflects SupervisorDecision into the JSON Schema the
// LLM Adapter validates the supervisor's structured reply against.
func SupervisorSchema() map[string]any {
	return schemaToMap(supervisorSchemaReflector.Reflect(&SupervisorDecision{}))
}

func schemaToMap(schema *jsonschema.Schema) map[string]any {
	raw, err := schema.MarshalJSON()
	if err != nil {
		return nil
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
