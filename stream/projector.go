package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/deepmedical/core/observe"
	"github.com/deepmedical/core/tools"
	"github.com/deepmedical/core/types"
)

// Projector turns graph.Executor instrumentation, a ReAct worker's own
// LLM/tool activity, and the Request Orchestrator's workflow-level
// bookends into the closed event set a client consumes. It implements
// observe.Sink itself (for the graph-level wiring, where a node's id
// already names the worker) and hands out a second, worker-scoped sink
// via ForWorker for each ReactNode's inner agent.Agent, whose own
// LLM-call events carry no worker identity of their own.
type Projector struct {
	workflowID string
	publish    func(Event)

	mu          sync.Mutex
	agentSeq    map[string]int
	lastAgentID map[string]string
	toolSeq     map[string]int
	toolCallIDs map[string]string
	msgSeq      map[string]int
	messages    []RecordedMessage
	nodeStart   map[string]time.Time
	timings     []NodeTiming
}

// NodeTiming is one worker turn's wall-clock duration, attached to
// end_of_workflow's debug payload when a request asked for it.
type NodeTiming struct {
	Worker     string `json:"worker"`
	DurationMs int64  `json:"duration_ms"`
}

// RecordedMessage is a worker's full-text turn, kept alongside the wire
// message event so the Request Orchestrator can persist it without
// having to parse a worker name back out of a message_id string.
type RecordedMessage struct {
	Worker  string
	Content string
}

// graphWorkers is every node id the medical topology ever registers;
// anything else reaching Emit is framework noise the projector drops.
var graphWorkers = map[string]bool{
	"coordinator": true, "planner": true, "supervisor": true,
	"researcher": true, "coder": true, "browser": true,
	"reporter": true, "translator": true,
}

func NewProjector(workflowID string, publish func(Event)) *Projector {
	return &Projector{
		workflowID:  workflowID,
		publish:     publish,
		agentSeq:    map[string]int{},
		lastAgentID: map[string]string{},
		toolSeq:     map[string]int{},
		toolCallIDs: map[string]string{},
		msgSeq:      map[string]int{},
		nodeStart:   map[string]time.Time{},
	}
}

func (p *Projector) emit(e Event) {
	if p == nil || p.publish == nil {
		return
	}
	p.publish(e)
}

func (p *Projector) StartOfWorkflow(input string) {
	if p == nil {
		return
	}
	p.emit(StartOfWorkflowEvent(p.workflowID, input))
}

// EndOfWorkflow closes the workflow envelope. debug is nil unless the
// caller wants the per-node timing breakdown attached.
func (p *Projector) EndOfWorkflow(messages any, debug any) {
	if p == nil {
		return
	}
	p.emit(EndOfWorkflowEvent(p.workflowID, messages, debug))
}

// NodeTimings returns every worker turn's wall-clock duration recorded so
// far, in completion order.
func (p *Projector) NodeTimings() []NodeTiming {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]NodeTiming, len(p.timings))
	copy(out, p.timings)
	return out
}

// StartOfLLM and EndOfLLM bracket a single hand-written node's adapter
// call (coordinator/planner/supervisor have no agent.Agent of their own
// to source this from ForWorker's observe.Sink translation).
func (p *Projector) StartOfLLM(worker string) { p.emit(StartOfLLMEvent(worker)) }

func (p *Projector) EndOfLLM(worker string) { p.emit(EndOfLLMEvent(worker)) }

func (p *Projector) SessionID(sessionID string) { p.emit(SessionIDEvent(sessionID)) }

func (p *Projector) FinalSessionState(messages any) { p.emit(FinalSessionStateEvent(messages)) }

// Emit bridges graph.Executor's node-started/node-completed instrumentation
// into start_of_agent/end_of_agent. Every other observe.Kind this sink
// sees (run-level, checkpoint) is intentionally ignored here.
func (p *Projector) Emit(ctx context.Context, event observe.Event) error {
	if p == nil {
		return nil
	}
	if event.Kind != observe.KindGraph {
		return nil
	}
	worker := event.ToolName
	if worker == "" || !graphWorkers[worker] {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch event.Status {
	case observe.StatusStarted:
		p.agentSeq[worker]++
		agentID := fmt.Sprintf("%s_%s_%d", p.workflowID, worker, p.agentSeq[worker])
		p.lastAgentID[worker] = agentID
		p.nodeStart[worker] = time.Now()
		p.emit(StartOfAgentEvent(agentID, worker))
	case observe.StatusCompleted, observe.StatusFailed:
		agentID := p.lastAgentID[worker]
		if agentID == "" {
			agentID = fmt.Sprintf("%s_%s_%d", p.workflowID, worker, 1)
		}
		if started, ok := p.nodeStart[worker]; ok {
			p.timings = append(p.timings, NodeTiming{Worker: worker, DurationMs: time.Since(started).Milliseconds()})
			delete(p.nodeStart, worker)
		}
		p.emit(EndOfAgentEvent(agentID))
	}
	return nil
}

// ForWorker returns a sink scoped to one worker's inner agent.Agent, used
// as its agent.WithObserver value. The agent's own before/after-generate
// events carry no identity beyond the shared runtime event shape, so the
// worker name is closed over here instead of parsed back out of them.
func (p *Projector) ForWorker(worker string) observe.Sink {
	return observe.SinkFunc(func(ctx context.Context, event observe.Event) error {
		if p == nil || event.Kind != observe.KindProvider {
			return nil
		}
		switch event.Status {
		case observe.StatusStarted:
			p.emit(StartOfLLMEvent(worker))
		case observe.StatusCompleted, observe.StatusFailed:
			p.emit(EndOfLLMEvent(worker))
		}
		return nil
	})
}

// Message emits a single-delta message event carrying worker's full
// output text. Worker turns come from non-streaming Generate calls, so a
// worker's whole turn lands as one delta rather than many; invariant #2 (concatenated
// deltas equal the final text) holds trivially for a delta of one.
// Callers emit it while the worker's start_of_agent/end_of_agent bracket
// is still open, per invariant #4.
func (p *Projector) Message(worker, content string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.msgSeq[worker]++
	messageID := fmt.Sprintf("%s_%s_%d", p.workflowID, worker, p.msgSeq[worker])
	p.messages = append(p.messages, RecordedMessage{Worker: worker, Content: content})
	p.mu.Unlock()
	p.emit(MessageEvent(messageID, MessageDelta{Content: content}))
}

// FailureMessage emits worker's content as a message wrapped in its own
// start_of_agent/end_of_agent bracket, for a turn that never went through
// the graph executor (a run that failed before or outside any node
// execution) and so would otherwise leave the message with no bracket at
// all, violating invariant #4.
func (p *Projector) FailureMessage(worker, content string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.agentSeq[worker]++
	agentID := fmt.Sprintf("%s_%s_%d", p.workflowID, worker, p.agentSeq[worker])
	p.mu.Unlock()
	p.emit(StartOfAgentEvent(agentID, worker))
	p.Message(worker, content)
	p.emit(EndOfAgentEvent(agentID))
}

// Messages returns every worker turn recorded by Message calls so far,
// in emission order.
func (p *Projector) Messages() []RecordedMessage {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]RecordedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

func (p *Projector) toolCallID(worker, toolName string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := worker + ":" + toolName
	p.toolSeq[key]++
	return fmt.Sprintf("%s_%s_%s_%d", p.workflowID, worker, toolName, p.toolSeq[key])
}

// WrapTool instruments a tool so every invocation by worker brackets a
// tool_call/tool_call_result pair around it, with the exact
// tool_call_id format spec.md §4.7 names.
func (p *Projector) WrapTool(worker string, tool tools.Tool) tools.Tool {
	if p == nil || tool == nil {
		return tool
	}
	return &instrumentedTool{projector: p, worker: worker, inner: tool}
}

type instrumentedTool struct {
	projector *Projector
	worker    string
	inner     tools.Tool
}

func (t *instrumentedTool) Definition() types.ToolDefinition { return t.inner.Definition() }

func (t *instrumentedTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	name := t.inner.Definition().Name
	callID := t.projector.toolCallID(t.worker, name)

	var input any
	if err := json.Unmarshal(args, &input); err != nil {
		input = string(args)
	}
	t.projector.emit(ToolCallEvent(callID, name, input))

	result, err := t.inner.Execute(ctx, args)
	if err != nil {
		t.projector.emit(ToolCallResultEvent(callID, name, map[string]any{"error": err.Error()}))
		return result, err
	}
	t.projector.emit(ToolCallResultEvent(callID, name, result))
	return result, nil
}
