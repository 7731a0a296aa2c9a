package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hivemindctl/hivemind/internal/statemachine"
	"github.com/hivemindctl/hivemind/pkg/models"
)

// GetAgent implements workflow.ManagerFacade: a defensive value copy so
// callers outside an agent's own cycle can never mutate the live record
// (only the cycle goroutine holding the pointer may, per pkg/models.Agent's
// AppendHistory doc comment).
func (m *Manager) GetAgent(agentID string) (models.Agent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.agents[agentID]
	if !ok {
		return models.Agent{}, false
	}
	return *entry.agent, true
}

// CreateAgent implements workflow.ManagerFacade: allocates a new agent
// record in its role's initial state, seeds it with initialMessage if
// given, and registers it in the table. It does not schedule the agent;
// callers that want it run immediately call Schedule separately (as
// handlePlan does; handleCreateWorker leaves the new worker unscheduled).
func (m *Manager) CreateAgent(role models.Role, parentID string, initialMessage *models.Message) (models.Agent, error) {
	ag := &models.Agent{
		ID:        uuid.NewString(),
		Role:      role,
		ParentID:  parentID,
		State:     statemachine.InitialState(role),
		Status:    models.StatusIdle,
		Model:     m.cfg.DefaultModel,
		Provider:  m.cfg.DefaultProvider,
		CreatedAt: time.Now(),
	}
	if initialMessage != nil {
		ag.AppendHistory(*initialMessage)
	}

	m.mu.Lock()
	m.agents[ag.ID] = &agentEntry{agent: ag}
	m.mu.Unlock()

	return *ag, nil
}

// AppendMessage implements workflow.ManagerFacade: appends msg to
// agentID's history outside of that agent's own cycle (e.g. a rejection
// notice, a new-worker notification). Safe because the agent is guaranteed
// not Processing when a caller outside its cycle reaches this (workflow
// triggers only fire from inside the acting agent's own cycle, and never
// target a different agent's history through this path).
func (m *Manager) AppendMessage(agentID string, msg models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.agents[agentID]
	if !ok {
		return fmt.Errorf("manager: unknown agent %s", agentID)
	}
	entry.agent.AppendHistory(msg)
	return nil
}

// ApplyTransition implements workflow.ManagerFacade.
func (m *Manager) ApplyTransition(agentID, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.agents[agentID]
	if !ok {
		return fmt.Errorf("manager: unknown agent %s", agentID)
	}
	return m.machine.Apply(entry.agent, to)
}

// Schedule implements workflow.ManagerFacade: schedules agentID for an
// internally-triggered cycle (no externally-awaited correlation id).
func (m *Manager) Schedule(agentID string) {
	m.scheduleCycle(agentID, nil)
}

// Emit implements workflow.ManagerFacade.
func (m *Manager) Emit(event models.AgentEvent) {
	m.bus.Emit(event)
}

// DeliverMessage implements toolkit.MessageDeliverer: the SendMessage
// tool's path for agent-to-agent communication (spec section 4.4).
// Appends "[From @fromAgentID]: content" to the target's history and
// schedules the target if it is idle, per spec section 4.4's description of
// the tool.
func (m *Manager) DeliverMessage(ctx context.Context, fromAgentID, targetAgentID, content string) error {
	m.mu.Lock()
	entry, ok := m.agents[targetAgentID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("manager: unknown target agent %s", targetAgentID)
	}
	entry.agent.AppendHistory(models.Message{
		Role:      models.RoleUser,
		Content:   fmt.Sprintf("[From @%s]: %s", fromAgentID, content),
		CreatedAt: time.Now(),
	})
	m.mu.Unlock()

	m.auditLog.LogAgentHandoff(ctx, fromAgentID, targetAgentID, "SendMessage", "", 0, fromAgentID)
	m.scheduleCycle(targetAgentID, nil)
	return nil
}
