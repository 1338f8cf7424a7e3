package orchestrator

import (
	"encoding/json"

	"github.com/deepmedical/core/registry"
)

// workflowEnvelope is the type="workflow" message shape a planner or
// researcher turn is persisted as, per the nested envelope
// original_source/service/workflow_service.py builds for these two
// workers before writing to the session store.
type workflowEnvelope struct {
	Workflow workflowBody `json:"workflow"`
}

type workflowBody struct {
	WorkflowID string         `json:"workflow_id"`
	Steps      []workflowStep `json:"steps"`
}

type workflowStep struct {
	AgentName string         `json:"agent_name"`
	Title     string         `json:"title"`
	Tasks     []workflowTask `json:"tasks"`
}

type workflowTask struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// stepTitles gives each workflow-typed worker's turn a display title.
var stepTitles = map[registry.Worker]string{
	registry.Planner:    "Plan",
	registry.Researcher: "Research findings",
}

// isWorkflowTyped reports whether worker's turns persist as a
// type="workflow" envelope rather than plain text.
func isWorkflowTyped(worker registry.Worker) bool {
	switch worker {
	case registry.Planner, registry.Researcher:
		return true
	default:
		return false
	}
}

// encodeWorkflowMessage wraps a worker's full turn text in the nested
// workflow envelope so the session store can persist it as a
// self-describing type="workflow" message.
func encodeWorkflowMessage(workflowID string, worker registry.Worker, content string) (string, error) {
	envelope := workflowEnvelope{
		Workflow: workflowBody{
			WorkflowID: workflowID,
			Steps: []workflowStep{
				{
					AgentName: string(worker),
					Title:     stepTitles[worker],
					Tasks: []workflowTask{
						{Type: "thinking", Payload: content},
					},
				},
			},
		},
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
