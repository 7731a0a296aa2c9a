package workflow

import (
	"encoding/json"
	"time"

	"github.com/hivemindctl/hivemind/pkg/models"
)

func planCreatedEvent(adminID, pmID string) models.AgentEvent {
	data, _ := json.Marshal(map[string]string{"pm_agent_id": pmID})
	return models.AgentEvent{
		Type:      models.EventPlanCreated,
		AgentID:   adminID,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func taskListCreatedEvent(pmID string, tasks []models.TaskSpec) models.AgentEvent {
	data, _ := json.Marshal(map[string]any{"tasks": tasks})
	return models.AgentEvent{
		Type:      models.EventTaskListCreated,
		AgentID:   pmID,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func workerCreatedEvent(pmID, workerID, role string) models.AgentEvent {
	data, _ := json.Marshal(map[string]string{"worker_agent_id": workerID, "role": role})
	return models.AgentEvent{
		Type:      models.EventWorkerCreated,
		AgentID:   pmID,
		Timestamp: time.Now(),
		Data:      data,
	}
}
