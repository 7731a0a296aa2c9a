package toolkit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hivemindctl/hivemind/internal/agent"
)

// SendMessageToolName is the reserved built-in tool name spec section 4.4
// names explicitly: agents communicate with each other only through this
// tool, never by reaching into sibling state directly.
const SendMessageToolName = "SendMessage"

// MessageDeliverer is the narrow slice of AgentManager a SendMessage tool
// needs: append a message to a target's history and schedule it if idle.
// Defined here rather than depending on internal/manager directly to avoid
// an import cycle (manager registers this tool against itself).
type MessageDeliverer interface {
	DeliverMessage(ctx context.Context, fromAgentID, targetAgentID, content string) error
}

// SendMessageTool implements the SendMessage built-in: appends
// "[From @sender]: content" to the target agent's history and schedules the
// target if idle (spec section 4.4).
type SendMessageTool struct {
	deliverer MessageDeliverer
}

// NewSendMessageTool creates the SendMessage tool dispatching through deliverer.
func NewSendMessageTool(deliverer MessageDeliverer) *SendMessageTool {
	return &SendMessageTool{deliverer: deliverer}
}

func (t *SendMessageTool) Name() string { return SendMessageToolName }

func (t *SendMessageTool) Description() string {
	return "Send a message to another agent by id. The target's history receives " +
		"the message tagged with your agent id, and the target is scheduled if idle. " +
		"When assigning a task to a worker, include taskId so the assignment is tracked."
}

func (t *SendMessageTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"targetAgentId": {"type": "string", "description": "Id of the agent to message."},
			"content": {"type": "string", "description": "Message body to deliver."},
			"taskId": {"type": "string", "description": "Optional: the task id being assigned to the target."}
		},
		"required": ["targetAgentId", "content"]
	}`)
}

func (t *SendMessageTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		TargetAgentID string `json:"targetAgentId"`
		Content       string `json:"content"`
		TaskID        string `json:"taskId"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: "invalid SendMessage params: " + err.Error(), IsError: true}, nil
	}
	if input.TargetAgentID == "" || input.Content == "" {
		return &agent.ToolResult{Content: "targetAgentId and content are required", IsError: true}, nil
	}

	actx, ok := AgentContextFrom(ctx)
	if !ok {
		return &agent.ToolResult{Content: "SendMessage called outside of an agent context", IsError: true}, nil
	}

	if err := t.deliverer.DeliverMessage(ctx, actx.AgentID, input.TargetAgentID, input.Content); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to deliver message: %s", err), IsError: true}, nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("message delivered to %s", input.TargetAgentID)}, nil
}
