package statemachine_test

import (
	"errors"
	"testing"

	"github.com/hivemindctl/hivemind/internal/statemachine"
	"github.com/hivemindctl/hivemind/pkg/models"
)

func TestInitialState(t *testing.T) {
	cases := []struct {
		role models.Role
		want string
	}{
		{models.RoleAdmin, statemachine.AdminConversation},
		{models.RolePM, statemachine.PMStartup},
		{models.RoleWorker, statemachine.WorkerWait},
		{models.RoleGuardian, statemachine.GuardianMonitoring},
	}
	for _, c := range cases {
		if got := statemachine.InitialState(c.role); got != c.want {
			t.Errorf("InitialState(%s) = %q, want %q", c.role, got, c.want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name string
		role models.Role
		from string
		to   string
		want bool
	}{
		{"admin idle to conversation", models.RoleAdmin, statemachine.AdminIdle, statemachine.AdminConversation, true},
		{"admin conversation to planning", models.RoleAdmin, statemachine.AdminConversation, statemachine.AdminPlanning, true},
		{"admin planning back to conversation", models.RoleAdmin, statemachine.AdminPlanning, statemachine.AdminConversation, true},
		{"admin idle cannot jump to planning", models.RoleAdmin, statemachine.AdminIdle, statemachine.AdminPlanning, false},
		{"admin any to error", models.RoleAdmin, statemachine.AdminPlanning, statemachine.AdminError, true},
		{"admin error resets to idle", models.RoleAdmin, statemachine.AdminError, statemachine.AdminIdle, true},
		{"admin error cannot go to planning", models.RoleAdmin, statemachine.AdminError, statemachine.AdminPlanning, false},

		{"pm startup to build team tasks", models.RolePM, statemachine.PMStartup, statemachine.PMBuildTeamTasks, true},
		{"pm cannot skip to manage", models.RolePM, statemachine.PMStartup, statemachine.PMManage, false},
		{"pm manage to standby", models.RolePM, statemachine.PMManage, statemachine.PMStandby, true},
		{"pm manage back to build team tasks", models.RolePM, statemachine.PMManage, statemachine.PMBuildTeamTasks, true},
		{"pm any to error", models.RolePM, statemachine.PMActivateWorkers, statemachine.PMError, true},
		{"pm error is terminal", models.RolePM, statemachine.PMError, statemachine.PMStartup, false},

		{"worker work to wait", models.RoleWorker, statemachine.WorkerWork, statemachine.WorkerWait, true},
		{"worker wait to work", models.RoleWorker, statemachine.WorkerWait, statemachine.WorkerWork, true},
		{"worker any to error", models.RoleWorker, statemachine.WorkerWork, statemachine.WorkerError, true},
		{"worker error is terminal", models.RoleWorker, statemachine.WorkerError, statemachine.WorkerWait, false},
		{"worker cannot go straight to manage", models.RoleWorker, statemachine.WorkerWork, statemachine.PMManage, false},

		{"guardian monitoring to reviewing", models.RoleGuardian, statemachine.GuardianMonitoring, statemachine.GuardianReviewing, true},
		{"guardian reviewing to remediating", models.RoleGuardian, statemachine.GuardianReviewing, statemachine.GuardianRemediating, true},
		{"guardian monitoring cannot jump to remediating", models.RoleGuardian, statemachine.GuardianMonitoring, statemachine.GuardianRemediating, false},
		{"guardian has no error state", models.RoleGuardian, statemachine.GuardianMonitoring, statemachine.AdminError, false},

		{"unknown role", models.Role("Bogus"), "Idle", "Conversation", false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := statemachine.CanTransition(c.role, c.from, c.to); got != c.want {
				t.Errorf("CanTransition(%s, %s, %s) = %v, want %v", c.role, c.from, c.to, got, c.want)
			}
		})
	}
}

func TestMachineApplySuccess(t *testing.T) {
	m := statemachine.New()
	agent := &models.Agent{ID: "a1", Role: models.RoleWorker, State: statemachine.WorkerWait}

	if err := m.Apply(agent, statemachine.WorkerWork); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if agent.State != statemachine.WorkerWork {
		t.Fatalf("agent.State = %q, want %q", agent.State, statemachine.WorkerWork)
	}
}

func TestMachineApplyRejectsIllegalTransition(t *testing.T) {
	m := statemachine.New()
	agent := &models.Agent{ID: "w1", Role: models.RoleWorker, State: statemachine.WorkerWork}

	err := m.Apply(agent, statemachine.PMManage)
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	if !errors.Is(err, statemachine.ErrInvalidTransition) {
		t.Fatalf("error %v does not wrap ErrInvalidTransition", err)
	}
	if agent.State != statemachine.WorkerWork {
		t.Fatalf("agent.State mutated to %q after a rejected transition", agent.State)
	}

	want := "transition Work->Manage is not allowed for role Worker"
	if err.Error() != "statemachine: invalid transition: "+want {
		t.Fatalf("error message = %q, want suffix %q", err.Error(), want)
	}
}

func TestMachineApplyUnknownRole(t *testing.T) {
	m := statemachine.New()
	agent := &models.Agent{ID: "x1", Role: models.Role("Bogus"), State: "Idle"}

	err := m.Apply(agent, "Anything")
	if !errors.Is(err, statemachine.ErrUnknownRole) {
		t.Fatalf("error %v does not wrap ErrUnknownRole", err)
	}
}

func TestRejectionMessageMatchesApplyError(t *testing.T) {
	got := statemachine.RejectionMessage(models.RoleWorker, statemachine.WorkerWork, statemachine.PMManage)
	want := "transition Work->Manage is not allowed for role Worker"
	if got != want {
		t.Fatalf("RejectionMessage = %q, want %q", got, want)
	}
}
