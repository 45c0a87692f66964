package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a task.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Kind distinguishes the two pipelines.
type Kind string

const (
	KindVideo         Kind = "video"
	KindTranscription Kind = "transcription"
)

// InterruptedReason is recorded for tasks left unfinished by a daemon crash.
const InterruptedReason = "interrupted: daemon stopped before the task finished"

var allStatuses = []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed}

var transitions = map[Status][]Status{
	StatusPending: {StatusRunning},
	StatusRunning: {StatusCompleted, StatusFailed},
}

// ParseStatus normalizes a user-provided status string.
func ParseStatus(value string) (Status, bool) {
	candidate := Status(strings.ToUpper(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == candidate {
			return status, true
		}
	}
	return "", false
}

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether from -> to is a lifecycle edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Event is one appended status change.
type Event struct {
	Seq          int64     `json:"seq"`
	TaskID       string    `json:"task_id"`
	Owner        string    `json:"owner"`
	Kind         Kind      `json:"kind"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	LogRef       string    `json:"log_ref,omitempty"`
	Artifacts    []string  `json:"artifacts,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Task is the current state of a task, derived from its latest event.
type Task struct {
	ID           string    `json:"id"`
	Owner        string    `json:"owner"`
	Kind         Kind      `json:"kind"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Artifacts    []string  `json:"artifacts"`
	LogRef       string    `json:"log_ref,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateParams describes a new task.
type CreateParams struct {
	ID     string
	Owner  string
	Kind   Kind
	LogRef string
}

// TransitionOptions carries the payload of a status change.
type TransitionOptions struct {
	ErrorMessage string
	Artifacts    []string
}

// ListOptions filters List. Zero values match everything; Limit <= 0 means 100.
type ListOptions struct {
	Owner  string
	Status Status
	Kind   Kind
	Limit  int
}

// Stats counts tasks by current status.
type Stats struct {
	Total  int            `json:"total"`
	Counts map[Status]int `json:"counts"`
}

// Active returns pending plus running tasks.
func (s Stats) Active() int {
	return s.Counts[StatusPending] + s.Counts[StatusRunning]
}
