package cycle

import (
	"encoding/json"
	"time"

	"github.com/hivemindctl/hivemind/pkg/models"
)

func mkEvent(typ models.EventType, agentID, correlationID string, data any) models.AgentEvent {
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}
	return models.AgentEvent{
		Type:          typ,
		AgentID:       agentID,
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
		Data:          raw,
	}
}

func responseChunkEvent(agentID, correlationID, text string) models.AgentEvent {
	return mkEvent(models.EventResponseChunk, agentID, correlationID, map[string]string{"text": text})
}

func responseCompleteEvent(agentID, correlationID, text string) models.AgentEvent {
	return mkEvent(models.EventResponseComplete, agentID, correlationID, map[string]string{"text": text})
}

func agentThinkingEvent(agentID, thought string) models.AgentEvent {
	return mkEvent(models.EventAgentThinking, agentID, "", map[string]string{"thought": thought})
}

func toolExecutionStartEvent(agentID string, call models.ToolCall) models.AgentEvent {
	return mkEvent(models.EventToolExecutionStart, agentID, "", map[string]any{"tool_call_id": call.ID, "name": call.Name})
}

func toolExecutionCompleteEvent(agentID string, call models.ToolCall, isError bool) models.AgentEvent {
	return mkEvent(models.EventToolExecutionComplete, agentID, "", map[string]any{"tool_call_id": call.ID, "name": call.Name, "is_error": isError})
}

func stateChangeEvent(agentID, from, to string) models.AgentEvent {
	return mkEvent(models.EventStateChange, agentID, "", map[string]string{"from": from, "to": to})
}

func errorEvent(agentID, message string) models.AgentEvent {
	return mkEvent(models.EventError, agentID, "", map[string]string{"message": message})
}

func constitutionalCheckEvent(agentID string, v *models.Violation) models.AgentEvent {
	ev := mkEvent(models.EventConstitutionalCheck, agentID, "", v)
	compliant := true
	ev.Compliant = &compliant
	return ev
}

func constitutionalViolationEvent(agentID string, v *models.Violation) models.AgentEvent {
	ev := mkEvent(models.EventConstitutionalViolation, agentID, "", v)
	compliant := false
	ev.Compliant = &compliant
	return ev
}
