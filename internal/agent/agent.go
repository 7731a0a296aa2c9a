package agent

import (
	"context"

	"github.com/hivemindctl/hivemind/internal/parser"
	"github.com/hivemindctl/hivemind/pkg/models"
)

// TransitionToolName is the reserved built-in tool name that Agent turns
// into a StateChangeRequest event rather than a ToolRequest for
// ToolExecutor. The parser stays ignorant of state-machine semantics (it
// only ever emits ToolCall/WorkflowTrigger/Thought/Malformed); this
// translation happens here, at the one place that already knows about both
// tool calls and agent state.
const TransitionToolName = "transition"

// EventKind tags the union Agent.ProcessMessage yields.
type EventKind string

const (
	EventResponseChunk     EventKind = "response_chunk"
	EventToolRequest       EventKind = "tool_request"
	EventWorkflowTrigger   EventKind = "workflow_trigger"
	EventStateChangeRequest EventKind = "state_change_request"
	EventAgentThought      EventKind = "agent_thought"
	EventFinalResponse     EventKind = "final_response"
	EventMalformed         EventKind = "malformed"
	EventStreamError       EventKind = "stream_error"
)

// Event is one unit of the tagged-union stream Agent.ProcessMessage yields
// (spec section 4.6). Exactly one of the payload fields is populated,
// selected by Kind.
type Event struct {
	Kind EventKind

	// ResponseChunk
	Text string

	// ToolRequest
	ToolCall *models.ToolCall

	// WorkflowTrigger
	Workflow *parser.WorkflowTrigger

	// StateChangeRequest
	RequestedState string

	// AgentThought
	Thought string

	// FinalResponse holds the full accumulated assistant text.
	FinalResponse string

	// Malformed/StreamError
	Span string
	Err  error
}

// Agent wraps an LLMProvider and drives one streaming completion into the
// tagged-union event stream the CycleHandler consumes. Agent never mutates
// shared state (history, agent table, bus) itself — it only produces
// events; all of that happens in the CycleHandler per spec section 4.6's
// "the agent never mutates shared state itself."
type Agent struct {
	provider LLMProvider
}

// New creates an Agent that drives completions through provider.
func New(provider LLMProvider) *Agent {
	return &Agent{provider: provider}
}

// ProcessMessage opens a streaming completion for req and returns a channel
// of Events. The channel is closed once the stream ends (after a
// FinalResponse, StreamError, or ctx cancellation). Each ResponseChunk
// carries a raw text delta; parsed structures (tool calls, workflow
// triggers, thoughts) are yielded as soon as their closing tag is seen,
// tolerating tags split across provider chunk boundaries.
func (a *Agent) ProcessMessage(ctx context.Context, req *CompletionRequest) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		chunks, err := a.provider.Complete(ctx, req)
		if err != nil {
			emit(ctx, out, Event{Kind: EventStreamError, Err: err})
			return
		}

		p := parser.New()
		var full []byte

		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-chunks:
				if !ok {
					for _, ev := range translate(p.Flush()) {
						if !emit(ctx, out, ev) {
							return
						}
					}
					if !emit(ctx, out, Event{Kind: EventFinalResponse, FinalResponse: string(full)}) {
						return
					}
					return
				}
				if chunk.Error != nil {
					emit(ctx, out, Event{Kind: EventStreamError, Err: chunk.Error})
					return
				}
				if chunk.ToolCall != nil {
					if !emit(ctx, out, toolRequestOrStateChange(chunk.ToolCall)) {
						return
					}
					continue
				}
				if chunk.Text != "" {
					full = append(full, chunk.Text...)
					if !emit(ctx, out, Event{Kind: EventResponseChunk, Text: chunk.Text}) {
						return
					}
					for _, ev := range translate(p.Feed(chunk.Text)) {
						if !emit(ctx, out, ev) {
							return
						}
					}
				}
				if chunk.Done {
					for _, ev := range translate(p.Flush()) {
						if !emit(ctx, out, ev) {
							return
						}
					}
					if !emit(ctx, out, Event{Kind: EventFinalResponse, FinalResponse: string(full)}) {
						return
					}
					return
				}
			}
		}
	}()

	return out
}

// toolRequestOrStateChange recognizes the reserved transition tool and
// reroutes it to a StateChangeRequest event per this file's doc comment.
func toolRequestOrStateChange(tc *models.ToolCall) Event {
	if tc.Name == TransitionToolName {
		var params struct {
			To string `json:"to"`
		}
		_ = decodeToolInput(tc.Input, &params)
		return Event{Kind: EventStateChangeRequest, RequestedState: params.To}
	}
	return Event{Kind: EventToolRequest, ToolCall: tc}
}

// translate maps parser.Events (C5's output) onto the Agent's own event
// union, performing the transition-tool special case for parser-detected
// tool calls too (the provider's native tool-call channel is only one of
// the two paths a transition request can arrive by; text-embedded
// `<transition><to>...</to></transition>` calls go through the parser).
func translate(events []parser.Event) []Event {
	out := make([]Event, 0, len(events))
	for _, pe := range events {
		switch pe.Kind {
		case parser.KindToolCall:
			tc := &models.ToolCall{Name: pe.ToolCall.Name, Input: toolCallInput(pe.ToolCall)}
			out = append(out, toolRequestOrStateChange(tc))
		case parser.KindWorkflowTrigger:
			out = append(out, Event{Kind: EventWorkflowTrigger, Workflow: pe.Workflow})
		case parser.KindThought:
			out = append(out, Event{Kind: EventAgentThought, Thought: pe.Thought})
		case parser.KindMalformed:
			out = append(out, Event{Kind: EventMalformed, Span: pe.Span})
		}
	}
	return out
}

// emit sends ev on out, respecting ctx cancellation. Returns false if the
// caller should stop producing further events.
func emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
