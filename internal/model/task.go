package model

import "time"

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskOverdue   TaskStatus = "overdue"
	TaskCompleted TaskStatus = "completed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskCancelled
}

type Task struct {
	ID            int64      `json:"id"`
	FamilyID      int64      `json:"family_id"`
	AssigneeID    int64      `json:"assignee_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Points        int        `json:"points"`
	IsDefault     bool       `json:"is_default"`
	Frequency     string     `json:"frequency"`
	DueAt         time.Time  `json:"due_at"`
	Status        TaskStatus `json:"status"`
	ConsequenceID *int64     `json:"consequence_id"`
	CompletedAt   *time.Time `json:"completed_at"`
	CreatedBy     *int64     `json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
