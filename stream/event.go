// Package stream is the Event Projector and its Stream Transport: it
// turns engine internals into the closed event set a client consumes
// over a long-lived push channel.
package stream

// EventType is the closed set of events a run can produce. Anything the
// engine emits that doesn't map to one of these is dropped by the
// Projector rather than forwarded, per the "filters noise" rule.
type EventType string

const (
	EventSessionID        EventType = "session_id"
	EventStartOfWorkflow  EventType = "start_of_workflow"
	EventStartOfAgent     EventType = "start_of_agent"
	EventEndOfAgent       EventType = "end_of_agent"
	EventStartOfLLM       EventType = "start_of_llm"
	EventEndOfLLM         EventType = "end_of_llm"
	EventMessage          EventType = "message"
	EventToolCall         EventType = "tool_call"
	EventToolCallResult   EventType = "tool_call_result"
	EventEndOfWorkflow    EventType = "end_of_workflow"
	EventFinalSessionState EventType = "final_session_state"
)

// Event is the wire shape the Stream Transport frames as
// "event: <type>\ndata: <json>\n\n". Data is already the exact payload
// named in each event's contract — callers build it with the typed
// constructors below rather than assembling maps ad hoc.
type Event struct {
	Type EventType `json:"-"`
	Data any       `json:"-"`
}

func SessionIDEvent(sessionID string) Event {
	return Event{Type: EventSessionID, Data: map[string]any{"session_id": sessionID}}
}

func StartOfWorkflowEvent(workflowID, input string) Event {
	return Event{Type: EventStartOfWorkflow, Data: map[string]any{"workflow_id": workflowID, "input": input}}
}

func StartOfAgentEvent(agentID, agentName string) Event {
	return Event{Type: EventStartOfAgent, Data: map[string]any{"agent_id": agentID, "agent_name": agentName}}
}

func EndOfAgentEvent(agentID string) Event {
	return Event{Type: EventEndOfAgent, Data: map[string]any{"agent_id": agentID}}
}

func StartOfLLMEvent(agentName string) Event {
	return Event{Type: EventStartOfLLM, Data: map[string]any{"agent_name": agentName}}
}

func EndOfLLMEvent(agentName string) Event {
	return Event{Type: EventEndOfLLM, Data: map[string]any{"agent_name": agentName}}
}

// MessageDelta carries one token group of a streamed message. Content is
// set for ordinary text; ReasoningContent is set when a reasoning-tier
// model surfaces its chain-of-thought separately from its answer.
type MessageDelta struct {
	Content          string `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

func MessageEvent(messageID string, delta MessageDelta) Event {
	return Event{Type: EventMessage, Data: map[string]any{"message_id": messageID, "delta": delta}}
}

func ToolCallEvent(toolCallID, toolName string, input any) Event {
	return Event{Type: EventToolCall, Data: map[string]any{
		"tool_call_id": toolCallID,
		"tool_name":    toolName,
		"tool_input":   input,
	}}
}

func ToolCallResultEvent(toolCallID, toolName string, result any) Event {
	return Event{Type: EventToolCallResult, Data: map[string]any{
		"tool_call_id": toolCallID,
		"tool_name":    toolName,
		"tool_result":  result,
	}}
}

// EndOfWorkflowEvent closes the workflow envelope. debug is nil unless
// the request set debug=true, in which case it carries a per-node
// wall-clock timing breakdown rather than anything that affects control
// flow.
func EndOfWorkflowEvent(workflowID string, messages any, debug any) Event {
	data := map[string]any{"workflow_id": workflowID, "messages": messages}
	if debug != nil {
		data["debug"] = debug
	}
	return Event{Type: EventEndOfWorkflow, Data: data}
}

func FinalSessionStateEvent(messages any) Event {
	return Event{Type: EventFinalSessionState, Data: map[string]any{"messages": messages}}
}
