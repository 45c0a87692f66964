package queue

import "errors"

var (
	// ErrTaskExists is returned by Create when the task id was used before.
	ErrTaskExists = errors.New("task already exists")
	// ErrTaskNotFound is returned when no event exists for a task id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidTransition is returned when a status change skips or reverses
	// the lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")
)
