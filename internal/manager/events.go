package manager

import (
	"encoding/json"
	"time"

	"github.com/hivemindctl/hivemind/pkg/models"
)

func mkEvent(typ models.EventType, agentID string, data any) models.AgentEvent {
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}
	return models.AgentEvent{
		Type:      typ,
		AgentID:   agentID,
		Timestamp: time.Now(),
		Data:      raw,
	}
}

func queueFullEvent(agentID string) models.AgentEvent {
	return mkEvent(models.EventError, agentID, map[string]string{"error": "schedule queue full, dropping cycle"})
}

func cycleErrorEvent(agentID, message string) models.AgentEvent {
	return mkEvent(models.EventError, agentID, map[string]string{"error": message})
}
