package cycle

import (
	"fmt"

	"github.com/hivemindctl/hivemind/internal/statemachine"
	"github.com/hivemindctl/hivemind/pkg/models"
)

// PromptTable is the static role+state → system prompt lookup spec section
// 4.7 step 1 describes ("role+state system prompt from a static table").
type PromptTable map[models.Role]map[string]string

// DefaultPromptTable returns the built-in prompts for every (role, state)
// pair the state machine defines. Unlisted combinations fall back to a
// generic prompt built from the role/state names (see SystemPrompt).
func DefaultPromptTable() PromptTable {
	return PromptTable{
		models.RoleAdmin: {
			statemachine.AdminIdle:          "You are the Admin agent. Await a user request.",
			statemachine.AdminConversation:  "You are the Admin agent, talking directly with the user. Decide whether the request needs decomposition into a plan; if so, emit a <plan> and transition to Planning.",
			statemachine.AdminPlanning:      "You are the Admin agent, producing a plan. Emit a <plan>...</plan> describing the work to delegate, then return to Conversation.",
			statemachine.AdminAwaitingReview: "Your last response is under review. Wait for the reviewer's decision before responding further.",
			statemachine.AdminError:        "You encountered a fatal error. Await operator reset.",
		},
		models.RolePM: {
			statemachine.PMStartup:         "You are a Project Manager agent. Break the plan into a <task_list> of concrete tasks, each tagged with the role needed to perform it.",
			statemachine.PMBuildTeamTasks:  "You are building your team. Emit <create_worker role=\"...\" skills=\"...\"/> for each distinct role your task list references.",
			statemachine.PMActivateWorkers: "Your team is built. Use the SendMessage tool to assign each task to its worker, including the task id.",
			statemachine.PMManage:          "You are managing an active team. Monitor progress and re-assign or escalate as needed.",
			statemachine.PMStandby:         "All tasks are complete. Stand by for further instructions.",
			statemachine.PMError:           "You encountered a fatal error. Await operator reset.",
		},
		models.RoleWorker: {
			statemachine.WorkerWork: "You are a Worker agent. Complete your assigned task and report completion.",
			statemachine.WorkerWait: "You are a Worker agent awaiting assignment.",
			statemachine.WorkerError: "You encountered a fatal error. Await operator reset.",
		},
		models.RoleGuardian: {
			statemachine.GuardianMonitoring:  "You are the Guardian, passively monitoring.",
			statemachine.GuardianReviewing:   "You are the Guardian, reviewing a terminal response for principle violations.",
			statemachine.GuardianRemediating: "You are the Guardian, remediating a flagged violation.",
		},
	}
}

// SystemPrompt returns the prompt for (role, state), falling back to a
// generic description if the table has no specific entry.
func (t PromptTable) SystemPrompt(role models.Role, state string) string {
	if byState, ok := t[role]; ok {
		if prompt, ok := byState[state]; ok {
			return prompt
		}
	}
	return fmt.Sprintf("You are an agent with role %s in state %s.", role, state)
}
