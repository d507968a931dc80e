package model

import "time"

// TaskStatus is the lifecycle state of a task. Transitions happen only
// through the quest engine's conditional writes.
type TaskStatus string

const (
	StatusTodo            TaskStatus = "todo"
	StatusPendingApproval TaskStatus = "pending_approval"
	StatusDone            TaskStatus = "done"
	StatusFailed          TaskStatus = "failed"
)

// Valid reports whether s is one of the four known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusPendingApproval, StatusDone, StatusFailed:
		return true
	}
	return false
}

type Task struct {
	ID               int64      `json:"id"`
	HouseID          int64      `json:"house_id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	RewardPoints     int        `json:"reward_points"`
	PunishmentDesc   string     `json:"punishment_desc"`
	Deadline         *time.Time `json:"deadline"`
	RequiresProof    bool       `json:"requires_proof"`
	NotifyAllParents bool       `json:"notify_all_parents"`
	AssignedTo       *int64     `json:"assigned_to"`
	CreatedBy        int64      `json:"created_by"`
	Status           TaskStatus `json:"status"`
	ProofURL         string     `json:"proof_url"`
	RejectionReason  string     `json:"rejection_reason"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TaskWithAssignee is a task joined with its assignee's display name,
// used by dashboard listings.
type TaskWithAssignee struct {
	Task
	AssigneeName string `json:"assignee_name,omitempty"`
}
