package agent

import (
	"encoding/json"

	"github.com/hivemindctl/hivemind/internal/parser"
)

// toolCallInput converts a parser-detected `<toolName><action>…</action>
// <paramN>…</paramN></toolName>` call into the JSON object ToolExecutor's
// schema validation expects: {"action": "...", "paramN": "..."}.
func toolCallInput(tc *parser.ToolCall) json.RawMessage {
	fields := make(map[string]string, len(tc.Params)+1)
	for k, v := range tc.Params {
		fields[k] = v
	}
	if tc.Action != "" {
		fields["action"] = tc.Action
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

// decodeToolInput unmarshals a tool call's JSON input into dst, swallowing
// decode errors since a malformed transition request degrades to an empty
// RequestedState, which StateMachine.Apply rejects on its own.
func decodeToolInput(input json.RawMessage, dst any) error {
	if len(input) == 0 {
		return nil
	}
	return json.Unmarshal(input, dst)
}
