package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hivemindctl/hivemind/internal/agent"
	"github.com/hivemindctl/hivemind/pkg/models"
)

// Limits mirror the teacher's resource-exhaustion guards in ToolRegistry.Execute.
const (
	MaxToolNameLength  = 256
	MaxToolParamsBytes = 10 << 20
)

// ErrorKind categorizes a failed tool invocation for the {status: error,
// kind, message} payload spec section 4.4 describes.
type ErrorKind string

const (
	ErrorNotFound        ErrorKind = "not_found"
	ErrorInvalidParams   ErrorKind = "invalid_params"
	ErrorOversized       ErrorKind = "oversized"
	ErrorExecutionFailed ErrorKind = "execution_failed"
)

// AgentContext is the caller identity injected into every tool invocation,
// per spec section 4.4's "injects the caller agent's id and role".
type AgentContext struct {
	AgentID string
	Role    models.Role
}

type agentContextKey struct{}

// WithAgentContext attaches actx to ctx so tools can retrieve the caller's
// identity via AgentContextFrom without changing the agent.Tool signature.
func WithAgentContext(ctx context.Context, actx AgentContext) context.Context {
	return context.WithValue(ctx, agentContextKey{}, actx)
}

// AgentContextFrom retrieves the AgentContext a caller attached via
// WithAgentContext. ok is false if none was attached.
func AgentContextFrom(ctx context.Context) (AgentContext, bool) {
	actx, ok := ctx.Value(agentContextKey{}).(AgentContext)
	return actx, ok
}

// errorPayload is the JSON body placed in the tool-role message's content on
// failure; never an error type on the return signature itself, matching
// spec section 4.4: tool errors never abort the cycle.
type errorPayload struct {
	Status  string    `json:"status"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func wrapError(kind ErrorKind, message string) string {
	payload, err := json.Marshal(errorPayload{Status: "error", Kind: kind, Message: message})
	if err != nil {
		return fmt.Sprintf(`{"status":"error","kind":%q,"message":%q}`, kind, message)
	}
	return string(payload)
}

// Executor validates tool arguments against each tool's declared schema,
// invokes the tool with the caller's identity attached to ctx, and wraps
// the outcome into a tool-role models.Message ready to append to the
// caller's history (spec section 4.4).
type Executor struct {
	registry *Registry

	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

// NewExecutor creates an Executor dispatching through registry.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{registry: registry, compiled: make(map[string]*jsonschema.Schema)}
}

// Execute runs the named tool for actx with params, returning a tool-role
// message ready to append to the caller's history. It never returns a Go
// error: every failure mode (unknown tool, oversized payload, schema
// violation, tool execution error) is captured into the message content
// as an errorPayload and IsError on the embedded ToolResult.
func (e *Executor) Execute(ctx context.Context, actx AgentContext, call models.ToolCall) models.Message {
	result := e.execute(ctx, actx, call)
	return models.Message{
		Role:        models.RoleTool,
		Content:     result.Content,
		ToolResults: []models.ToolResult{{ToolCallID: call.ID, Content: result.Content, IsError: result.IsError}},
	}
}

func (e *Executor) execute(ctx context.Context, actx AgentContext, call models.ToolCall) *agent.ToolResult {
	if len(call.Name) > MaxToolNameLength {
		return errResult(ErrorInvalidParams, fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength))
	}
	if len(call.Input) > MaxToolParamsBytes {
		return errResult(ErrorOversized, fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsBytes))
	}

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return errResult(ErrorNotFound, "tool not found: "+call.Name)
	}

	if err := e.validate(tool, call.Input); err != nil {
		return errResult(ErrorInvalidParams, err.Error())
	}

	execCtx := WithAgentContext(ctx, actx)
	res, err := tool.Execute(execCtx, call.Input)
	if err != nil {
		return errResult(ErrorExecutionFailed, err.Error())
	}
	if res == nil {
		return errResult(ErrorExecutionFailed, "tool returned no result")
	}
	return res
}

// validate compiles and caches the tool's declared schema, then validates
// params against it. An empty/absent input is treated as {} since most
// tools declare "required": [] or no required fields at all.
func (e *Executor) validate(tool agent.Tool, input json.RawMessage) error {
	schema, err := e.schemaFor(tool)
	if err != nil {
		return fmt.Errorf("compiling schema for %s: %w", tool.Name(), err)
	}
	if schema == nil {
		return nil
	}

	var payload any
	if len(input) == 0 {
		payload = map[string]any{}
	} else if err := json.Unmarshal(input, &payload); err != nil {
		return fmt.Errorf("invalid JSON params: %w", err)
	}
	return schema.Validate(payload)
}

func (e *Executor) schemaFor(tool agent.Tool) (*jsonschema.Schema, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.compiled[tool.Name()]; ok {
		return s, nil
	}
	raw := tool.Schema()
	if len(raw) == 0 {
		e.compiled[tool.Name()] = nil
		return nil, nil
	}
	resourceName := "tool_" + tool.Name() + "_" + uuid.NewString()
	schema, err := jsonschema.CompileString(resourceName, string(raw))
	if err != nil {
		return nil, err
	}
	e.compiled[tool.Name()] = schema
	return schema, nil
}

func errResult(kind ErrorKind, message string) *agent.ToolResult {
	return &agent.ToolResult{Content: wrapError(kind, message), IsError: true}
}
