// Package workflow implements the WorkflowManager (spec component C8):
// pattern-matches the workflow triggers OutputParser detects and performs
// the corresponding framework-level multi-agent action (spawn PM, build a
// task list, spawn workers, track task assignment). Grounded on the
// teacher's internal/multiagent.Orchestrator (agent lifecycle bookkeeping
// under a single mutex) and internal/tools/subagent's spawn pattern.
package workflow

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/hivemindctl/hivemind/internal/parser"
	"github.com/hivemindctl/hivemind/internal/statemachine"
	"github.com/hivemindctl/hivemind/pkg/models"
)

// ManagerFacade is the narrow slice of AgentManager the WorkflowManager
// needs: read agent state, create agents, append messages, apply state
// transitions, schedule, and emit bus events. Defined here (not in
// internal/manager) so manager can implement it structurally without
// workflow importing manager, avoiding an import cycle.
type ManagerFacade interface {
	GetAgent(agentID string) (models.Agent, bool)
	CreateAgent(role models.Role, parentID string, initialMessage *models.Message) (models.Agent, error)
	AppendMessage(agentID string, msg models.Message) error
	ApplyTransition(agentID, to string) error
	Schedule(agentID string)
	Emit(event models.AgentEvent)
}

// pmWorkflowState tracks the per-PM bookkeeping needed to know when enough
// workers have been created (spec section 4.8: "equals the distinct roles
// referenced in the task list") and when every task has been assigned.
type pmWorkflowState struct {
	tasks         []models.TaskSpec
	distinctRoles map[string]bool
	createdRoles  map[string]bool
}

// Manager is the WorkflowManager. The zero value is not usable; construct
// with New.
type Manager struct {
	facade ManagerFacade

	mu      sync.Mutex
	pmState map[string]*pmWorkflowState
}

// New creates a Manager dispatching framework actions through facade.
func New(facade ManagerFacade) *Manager {
	return &Manager{facade: facade, pmState: make(map[string]*pmWorkflowState)}
}

// HandleTrigger converts a parsed workflow trigger into a framework action
// on behalf of actingAgentID. Illegal-state triggers are rejected with a
// system message appended to the actor's history; HandleTrigger itself
// never returns an error for a rejection, only for facade failures (spec
// section 4.8: "no framework action occurs", not "the cycle fails").
func (m *Manager) HandleTrigger(ctx context.Context, actingAgentID string, trigger *parser.WorkflowTrigger) error {
	actor, ok := m.facade.GetAgent(actingAgentID)
	if !ok {
		return fmt.Errorf("workflow: unknown agent %s", actingAgentID)
	}

	switch trigger.Tag {
	case parser.TagPlan:
		return m.handlePlan(ctx, actor, trigger)
	case parser.TagTaskList:
		return m.handleTaskList(ctx, actor, trigger)
	case parser.TagCreateWorker:
		return m.handleCreateWorker(ctx, actor, trigger)
	default:
		return m.reject(actor, fmt.Sprintf("unrecognized workflow trigger <%s>", trigger.Tag))
	}
}

func (m *Manager) handlePlan(ctx context.Context, actor models.Agent, trigger *parser.WorkflowTrigger) error {
	if actor.Role != models.RoleAdmin || actor.State != statemachine.AdminPlanning {
		return m.reject(actor, fmt.Sprintf("<plan> requires Admin in %s state (currently %s/%s)",
			statemachine.AdminPlanning, actor.Role, actor.State))
	}

	pm, err := m.facade.CreateAgent(models.RolePM, actor.ID, &models.Message{
		Role:    models.RoleUser,
		Content: trigger.Body,
	})
	if err != nil {
		return fmt.Errorf("workflow: creating PM: %w", err)
	}
	m.facade.Schedule(pm.ID)
	m.facade.Emit(planCreatedEvent(actor.ID, pm.ID))

	if err := m.facade.ApplyTransition(actor.ID, statemachine.AdminConversation); err != nil {
		return fmt.Errorf("workflow: returning Admin to Conversation: %w", err)
	}
	return nil
}

func (m *Manager) handleTaskList(ctx context.Context, actor models.Agent, trigger *parser.WorkflowTrigger) error {
	if actor.Role != models.RolePM || actor.State != statemachine.PMStartup {
		return m.reject(actor, fmt.Sprintf("<task_list> requires PM in %s state (currently %s/%s)",
			statemachine.PMStartup, actor.Role, actor.State))
	}

	tasks := make([]models.TaskSpec, 0, len(trigger.Tasks))
	distinctRoles := make(map[string]bool)
	for _, te := range trigger.Tasks {
		id := te.Attrs["id"]
		if id == "" {
			id = uuid.NewString()
		}
		priority, _ := strconv.Atoi(te.Attrs["priority"])
		role := te.Attrs["role"]
		tasks = append(tasks, models.TaskSpec{
			ID:          id,
			Description: te.Attrs["description"],
			Role:        role,
			Status:      models.TaskPending,
			Priority:    priority,
		})
		if role != "" {
			distinctRoles[role] = true
		}
	}

	m.mu.Lock()
	m.pmState[actor.ID] = &pmWorkflowState{
		tasks:         tasks,
		distinctRoles: distinctRoles,
		createdRoles:  make(map[string]bool),
	}
	m.mu.Unlock()

	m.facade.Emit(taskListCreatedEvent(actor.ID, tasks))
	return m.facade.ApplyTransition(actor.ID, statemachine.PMBuildTeamTasks)
}

func (m *Manager) handleCreateWorker(ctx context.Context, actor models.Agent, trigger *parser.WorkflowTrigger) error {
	if actor.Role != models.RolePM || actor.State != statemachine.PMBuildTeamTasks {
		return m.reject(actor, fmt.Sprintf("<create_worker> requires PM in %s state (currently %s/%s)",
			statemachine.PMBuildTeamTasks, actor.Role, actor.State))
	}

	role := trigger.Attrs["role"]
	skills := trigger.Attrs["skills"]

	worker, err := m.facade.CreateAgent(models.RoleWorker, actor.ID, nil)
	if err != nil {
		return fmt.Errorf("workflow: creating worker: %w", err)
	}

	if err := m.facade.AppendMessage(actor.ID, models.Message{
		Role:    models.RoleSystem,
		Content: fmt.Sprintf("Worker %s created with role %q (skills: %s)", worker.ID, role, skills),
	}); err != nil {
		return fmt.Errorf("workflow: notifying PM of new worker: %w", err)
	}
	m.facade.Emit(workerCreatedEvent(actor.ID, worker.ID, role))

	m.mu.Lock()
	state := m.pmState[actor.ID]
	allRolesCovered := false
	if state != nil {
		state.createdRoles[role] = true
		allRolesCovered = len(state.distinctRoles) > 0 && coversAll(state.distinctRoles, state.createdRoles)
	}
	m.mu.Unlock()

	if allRolesCovered {
		return m.facade.ApplyTransition(actor.ID, statemachine.PMActivateWorkers)
	}
	return nil
}

// MarkTaskAssigned records that taskID has been handed to workerAgentID
// (driven by CycleHandler observing a SendMessage tool call carrying a
// taskId argument while the PM is in ActivateWorkers — see DESIGN.md's
// "task assignment signal" note) and transitions the PM to Manage once
// every tracked task reaches Assigned, per spec section 4.8.
func (m *Manager) MarkTaskAssigned(pmAgentID, taskID, workerAgentID string) error {
	m.mu.Lock()
	state := m.pmState[pmAgentID]
	if state == nil {
		m.mu.Unlock()
		return fmt.Errorf("workflow: no tracked task list for PM %s", pmAgentID)
	}
	found := false
	allAssigned := true
	for i := range state.tasks {
		if state.tasks[i].ID == taskID {
			state.tasks[i].Status = models.TaskAssigned
			state.tasks[i].AssignedWorker = workerAgentID
			found = true
		}
		if state.tasks[i].Status != models.TaskAssigned && state.tasks[i].Status != models.TaskCompleted {
			allAssigned = false
		}
	}
	m.mu.Unlock()

	if !found {
		return fmt.Errorf("workflow: unknown task %s for PM %s", taskID, pmAgentID)
	}
	if allAssigned {
		return m.facade.ApplyTransition(pmAgentID, statemachine.PMManage)
	}
	return nil
}

// TasksFor returns a copy of the tracked TaskSpecs for pmAgentID, mostly
// for tests and diagnostics.
func (m *Manager) TasksFor(pmAgentID string) []models.TaskSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.pmState[pmAgentID]
	if state == nil {
		return nil
	}
	out := make([]models.TaskSpec, len(state.tasks))
	copy(out, state.tasks)
	return out
}

func (m *Manager) reject(actor models.Agent, reason string) error {
	return m.facade.AppendMessage(actor.ID, models.Message{
		Role:    models.RoleSystem,
		Content: reason,
	})
}

func coversAll(want, got map[string]bool) bool {
	for role := range want {
		if !got[role] {
			return false
		}
	}
	return true
}
