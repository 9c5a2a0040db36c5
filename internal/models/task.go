package models

import "time"

// TaskStatus is the progress of a task.
type TaskStatus string

const (
	TaskTodo  TaskStatus = "todo"
	TaskDoing TaskStatus = "doing"
	TaskDone  TaskStatus = "done"
)

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskDoing, TaskDone:
		return true
	}
	return false
}

// Task is an execution item attached to an event.
type Task struct {
	ID         int64      `json:"id"`
	EventSlug  string     `json:"-"`
	Title      string     `json:"title"`
	Status     TaskStatus `json:"status"`
	AssignedTo *int64     `json:"assigned_to_id"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// IsAssignedTo reports whether userID is the task's current assignee.
func (t Task) IsAssignedTo(userID int64) bool {
	return t.AssignedTo != nil && *t.AssignedTo == userID
}
