package jobqueue

import (
	"context"
	"errors"
)

var (
	// ErrQueueFull is returned when the pending backlog is at capacity.
	ErrQueueFull = errors.New("job queue full")
	// ErrQueueClosed is returned for submissions after Stop, and is the result
	// of jobs still pending when the queue stopped.
	ErrQueueClosed = errors.New("job queue closed")
	// ErrDuplicateJob is returned when a job id is already pending or running.
	ErrDuplicateJob = errors.New("duplicate job id")
)

// RunFunc executes a job. The returned strings are the job's artifacts.
type RunFunc func(ctx context.Context) ([]string, error)

// Job is a unit of queued work.
type Job struct {
	ID  string
	Run RunFunc
}

// Result is the outcome of a finished job.
type Result struct {
	Artifacts []string
	Err       error
}

// Handle tracks a submitted job.
type Handle struct {
	ID string

	done   chan struct{}
	result Result
}

func newHandle(id string) *Handle {
	return &Handle{ID: id, done: make(chan struct{})}
}

// Done is closed once the job has finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the job finishes or ctx is done. A ctx error leaves the
// job running.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the outcome and true once the job has finished.
func (h *Handle) Result() (Result, bool) {
	select {
	case <-h.done:
		return h.result, true
	default:
		return Result{}, false
	}
}

func (h *Handle) finish(result Result) {
	h.result = result
	close(h.done)
}
