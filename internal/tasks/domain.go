package tasks

import (
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusArchived:
		return true
	}
	return false
}

// Task is a to-do item owned by one user.
type Task struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	Title      string     `json:"title"`
	Status     Status     `json:"status"`
	DueDate    *time.Time `json:"due_date,omitempty"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Input carries the editable fields of a task.
type Input struct {
	Title   string `json:"title" validate:"required,max=200"`
	Status  Status `json:"status" validate:"omitempty,oneof=active completed archived"`
	DueDate string `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
}

// Patch is a partial update. Nil fields stay untouched; an empty due date
// clears it.
type Patch struct {
	Title   *string `json:"title" validate:"omitempty,min=1,max=200"`
	Status  *Status `json:"status" validate:"omitempty,oneof=active completed archived"`
	DueDate *string `json:"due_date"`
}

// ListFilters is the repository form of a table view state.
type ListFilters struct {
	UserID       int64
	Search       string
	Title        string
	Status       Status
	DueDate      *time.Time
	ArchivedFrom *time.Time
	ArchivedTo   *time.Time
	CreatedFrom  *time.Time
	CreatedTo    *time.Time
	SortBy       string
	SortDir      string
	Limit        int
	Offset       int
}
