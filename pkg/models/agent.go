package models

import "time"

// Role identifies an agent's position in the hierarchy.
type Role string

const (
	RoleAdmin    Role = "admin"
	RolePM       Role = "pm"
	RoleWorker   Role = "worker"
	RoleGuardian Role = "guardian"
)

// MessageRole identifies the author of a history entry.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// Message is a single entry in an agent's append-only history.
//
// ID and Metadata exist for internal/agent/context's packing, pruning, and
// summarization machinery (a summary message is tagged via Metadata so later
// passes can find and skip it); plain conversational messages leave both
// zero.
type Message struct {
	ID          string         `json:"id,omitempty"`
	Role        MessageRole    `json:"role"`
	Content     string         `json:"content"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Status is the per-agent in-flight flag enforcing "at most one cycle in flight".
type Status string

const (
	StatusIdle       Status = "idle"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
)

// Metrics tracks per-agent cycle accounting.
type Metrics struct {
	Cycles        int           `json:"cycles"`
	Errors        int           `json:"errors"`
	LastCycleTime time.Duration `json:"last_cycle_time"`
}

// Agent is the per-agent record owned by the manager's agent table.
//
// Invariants: State is always a legal state for Role (enforced by
// internal/statemachine); History is append-only within a cycle except for
// the bounded summarization operation; Status is Processing for at most one
// cycle at a time.
type Agent struct {
	ID       string  `json:"id"`
	Role     Role    `json:"role"`
	State    string  `json:"state"`
	Status   Status  `json:"status"`
	History  []Message `json:"history"`
	Metrics  Metrics `json:"metrics"`
	Model    string  `json:"model"`
	Provider string  `json:"provider"`
	ParentID string  `json:"parent_id,omitempty"`

	// FallbackModels lists additional "provider/model" candidates (parsed by
	// internal/models.ParseModelRef) RunCycle tries, in order, when the
	// primary model's attempt fails with a provider/model-specific error
	// (spec section 4.7.3: "optionally switching model"). Empty means no
	// fallback: a failing attempt only retries the primary model.
	FallbackModels []string `json:"fallback_models,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// AppendHistory appends a message to the agent's history. Callers must hold
// the agent table mutex or otherwise guarantee single-writer access; Agent
// itself performs no locking since per-agent mutation only ever happens
// inside that agent's own cycle (see CONCURRENCY & RESOURCE MODEL).
func (a *Agent) AppendHistory(msg Message) {
	a.History = append(a.History, msg)
}
