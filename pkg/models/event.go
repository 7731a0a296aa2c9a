package models

import (
	"encoding/json"
	"time"
)

// EventType enumerates the AgentEvent payload kinds flowing through the bus.
type EventType string

const (
	EventAgentThinking          EventType = "AgentThinking"
	EventResponseChunk          EventType = "ResponseChunk"
	EventResponseComplete       EventType = "ResponseComplete"
	EventToolExecutionStart     EventType = "ToolExecutionStart"
	EventToolExecutionComplete  EventType = "ToolExecutionComplete"
	EventStateChange            EventType = "StateChange"
	EventError                  EventType = "Error"
	EventConstitutionalCheck    EventType = "ConstitutionalCheck"
	EventConstitutionalViolation EventType = "ConstitutionalViolation"
	EventPlanCreated            EventType = "PlanCreated"
	EventTaskListCreated        EventType = "TaskListCreated"
	EventWorkerCreated          EventType = "WorkerCreated"
)

// AgentEvent is the canonical bus payload (spec section 6, external interfaces).
//
// For any correlation id the bus emits a (possibly empty) ordered sequence of
// ResponseChunk events followed by exactly one terminal event (ResponseComplete
// or Error) within the configured timeout, or the correlation is canceled.
type AgentEvent struct {
	Type          EventType       `json:"type"`
	AgentID       string          `json:"agent_id"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Compliant     *bool           `json:"compliant,omitempty"`
}
