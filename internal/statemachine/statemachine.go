// Package statemachine implements the authoritative per-role state
// transition table (spec component C3). It replaces the ad hoc "inspect
// state before allowing a handoff" checks the teacher scatters through its
// orchestrator with a single table-driven source of truth, per spec section
// 9's note on re-architecting exceptions-for-control-flow into explicit
// result values.
package statemachine

import (
	"errors"
	"fmt"

	"github.com/hivemindctl/hivemind/pkg/models"
)

// Admin states.
const (
	AdminIdle          = "Idle"
	AdminConversation  = "Conversation"
	AdminPlanning      = "Planning"
	AdminAwaitingReview = "AwaitingReview"
	AdminError         = "Error"
)

// PM states.
const (
	PMStartup         = "Startup"
	PMBuildTeamTasks  = "BuildTeamTasks"
	PMActivateWorkers = "ActivateWorkers"
	PMManage          = "Manage"
	PMStandby         = "Standby"
	PMError           = "Error"
)

// Worker states.
const (
	WorkerWork  = "Work"
	WorkerWait  = "Wait"
	WorkerError = "Error"
)

// Guardian states.
const (
	GuardianMonitoring   = "Monitoring"
	GuardianReviewing    = "Reviewing"
	GuardianRemediating  = "Remediating"
)

// ErrInvalidTransition is returned by Apply when the requested transition is
// not legal for the agent's role.
var ErrInvalidTransition = errors.New("statemachine: invalid transition")

// ErrUnknownRole is returned when a role has no registered transition table.
var ErrUnknownRole = errors.New("statemachine: unknown role")

// table[role][fromState] = set of legal next states.
var table = map[models.Role]map[string]map[string]bool{
	models.RoleAdmin: {
		AdminIdle:           set(AdminConversation),
		AdminConversation:   set(AdminIdle, AdminPlanning, AdminAwaitingReview, AdminError),
		AdminPlanning:       set(AdminConversation, AdminAwaitingReview, AdminError),
		AdminAwaitingReview: set(AdminConversation, AdminError),
		AdminError:          set(AdminIdle),
	},
	models.RolePM: {
		PMStartup:         set(PMBuildTeamTasks, PMError),
		PMBuildTeamTasks:  set(PMActivateWorkers, PMError),
		PMActivateWorkers: set(PMManage, PMError),
		PMManage:          set(PMStandby, PMBuildTeamTasks, PMError),
		PMStandby:         set(PMManage, PMError),
		PMError:           set(),
	},
	models.RoleWorker: {
		WorkerWork:  set(WorkerWait, WorkerError),
		WorkerWait:  set(WorkerWork, WorkerError),
		WorkerError: set(),
	},
	models.RoleGuardian: {
		GuardianMonitoring:  set(GuardianReviewing),
		GuardianReviewing:   set(GuardianMonitoring, GuardianRemediating),
		GuardianRemediating: set(GuardianMonitoring),
	},
}

// every role may transition to Error from any state except the ones already
// defined as terminal above; Admin/PM/Worker all carry an explicit Error
// state reachable from "any" state per spec section 4.3.
func init() {
	for role, states := range table {
		if role == models.RoleGuardian {
			continue // Guardian has no Error state in the spec.
		}
		errState := terminalErrorState(role)
		for from, next := range states {
			if from == errState {
				continue
			}
			next[errState] = true
		}
	}
}

func terminalErrorState(role models.Role) string {
	switch role {
	case models.RoleAdmin:
		return AdminError
	case models.RolePM:
		return PMError
	case models.RoleWorker:
		return WorkerError
	default:
		return ""
	}
}

// displayName renders a role the way spec prose and rejection messages do
// ("Worker", "PM"), independent of the lowercase wire value models.Role
// stores.
func displayName(role models.Role) string {
	switch role {
	case models.RoleAdmin:
		return "Admin"
	case models.RolePM:
		return "PM"
	case models.RoleWorker:
		return "Worker"
	case models.RoleGuardian:
		return "Guardian"
	default:
		return string(role)
	}
}

func set(states ...string) map[string]bool {
	m := make(map[string]bool, len(states))
	for _, s := range states {
		m[s] = true
	}
	return m
}

// InitialState returns the state a freshly created agent of role starts in.
func InitialState(role models.Role) string {
	switch role {
	case models.RoleAdmin:
		return AdminConversation
	case models.RolePM:
		return PMStartup
	case models.RoleWorker:
		return WorkerWait
	case models.RoleGuardian:
		return GuardianMonitoring
	default:
		return ""
	}
}

// CanTransition reports whether role may move from `from` to `to`.
func CanTransition(role models.Role, from, to string) bool {
	roleTable, ok := table[role]
	if !ok {
		return false
	}
	next, ok := roleTable[from]
	if !ok {
		return false
	}
	return next[to]
}

// Machine applies legal transitions and emits a rejection reason for
// illegal ones. StateChange emission is the caller's responsibility (the
// cycle handler emits StateChange events so that emission and audit
// recording stay in one place); Machine itself only validates and mutates.
type Machine struct{}

// New returns a ready-to-use Machine. Machine holds no state of its own;
// the transition table above is read-only and safe for concurrent use.
func New() *Machine { return &Machine{} }

// Apply validates and applies a transition on agent, mutating agent.State
// on success. On failure it returns ErrInvalidTransition wrapped with a
// human-readable reason describing what was rejected and does not mutate
// agent.
func (m *Machine) Apply(agent *models.Agent, to string) error {
	if agent == nil {
		return fmt.Errorf("statemachine: nil agent")
	}
	if _, ok := table[agent.Role]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRole, agent.Role)
	}
	if !CanTransition(agent.Role, agent.State, to) {
		return fmt.Errorf("%w: %s", ErrInvalidTransition, RejectionMessage(agent.Role, agent.State, to))
	}
	agent.State = to
	return nil
}

// RejectionMessage formats the system-role message appended to an agent's
// history when a requested transition is rejected (spec section 8, scenario
// 5: "transition Work->Manage is not allowed for role Worker").
func RejectionMessage(role models.Role, from, to string) string {
	return fmt.Sprintf("transition %s->%s is not allowed for role %s", from, to, displayName(role))
}
