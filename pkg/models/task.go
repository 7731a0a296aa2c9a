package models

// TaskStatus is the lifecycle state of a TaskSpec.
type TaskStatus string

const (
	TaskPending    TaskStatus = "Pending"
	TaskAssigned   TaskStatus = "Assigned"
	TaskInProgress TaskStatus = "InProgress"
	TaskCompleted  TaskStatus = "Completed"
	TaskFailed     TaskStatus = "Failed"
)

// TaskSpec is a declarative description of a unit of work a Worker is
// expected to perform, owned by the PM that created it until session end.
type TaskSpec struct {
	ID             string     `json:"id"`
	Description    string     `json:"description"`
	Role           string     `json:"role"`
	AssignedWorker string     `json:"assigned_worker,omitempty"`
	Status         TaskStatus `json:"status"`
	Priority       int        `json:"priority"`
}
