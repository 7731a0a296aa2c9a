package agent

import (
	"context"
	"encoding/json"

	"github.com/hivemindctl/hivemind/pkg/models"
)

// LLMProvider defines the interface for Large Language Model backends.
//
// Implementations handle the specifics of communicating with a given LLM API
// (Anthropic, OpenAI, Bedrock, Google) while presenting a unified streaming
// interface to the cycle handler. Implementations must be safe for concurrent
// use: multiple goroutines may call Complete for different requests.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response. Errors
	// surfacing on the channel are pre-classified by the provider as
	// transient or permanent so the caller does not need to inspect
	// provider-specific status codes.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider identifier used for routing and logging.
	Name() string

	// Models returns the models this provider knows about.
	Models() []Model

	// SupportsTools returns whether the provider supports tool calling.
	SupportsTools() bool
}

// CompletionRequest contains all parameters for an LLM completion request.
type CompletionRequest struct {
	Model     string               `json:"model"`
	System    string                `json:"system,omitempty"`
	Messages  []CompletionMessage   `json:"messages"`
	Tools     []Tool                `json:"tools,omitempty"`
	MaxTokens int                   `json:"max_tokens,omitempty"`
}

// CompletionMessage represents a single message in a conversation sent to a provider.
type CompletionMessage struct {
	Role        string             `json:"role"`
	Content     string             `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// CompletionChunk represents a single chunk in a streaming LLM response.
type CompletionChunk struct {
	Text         string           `json:"text,omitempty"`
	ToolCall     *models.ToolCall `json:"tool_call,omitempty"`
	Done         bool             `json:"done,omitempty"`
	Error        error            `json:"-"`
	InputTokens  int              `json:"input_tokens,omitempty"`
	OutputTokens int              `json:"output_tokens,omitempty"`
}

// Model describes an available LLM model.
type Model struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ContextSize    int    `json:"context_size"`
	SupportsVision bool   `json:"supports_vision"`
}

// Tool defines the interface for an executable capability, mirroring the
// tool contract exposed to the LLM for function calling.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult contains the output from a tool execution.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}
