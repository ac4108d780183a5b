package task

import (
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is the in-memory record of one synthesis request. The JSON shape is
// the status-endpoint payload; the output path is located via the store and
// not exposed to clients.
type Task struct {
	ID          string     `json:"task_id"`
	Status      Status     `json:"status"`
	Error       string     `json:"message,omitempty"`
	OutputPath  string     `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
