package api

import (
	"context"
	"errors"

	"clipforge/internal/queue"
)

// TaskReader abstracts the task store queries needed for API reads.
type TaskReader interface {
	Latest(ctx context.Context, taskID string) (*queue.Task, error)
	History(ctx context.Context, taskID string) ([]queue.Event, error)
	List(ctx context.Context, opts queue.ListOptions) ([]*queue.Task, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

// TaskService exposes read-only task operations returning API DTOs.
type TaskService struct {
	store TaskReader
}

// NewTaskService constructs a TaskService around the provided reader.
func NewTaskService(store TaskReader) *TaskService {
	if store == nil {
		return nil
	}
	return &TaskService{store: store}
}

// List returns tasks matching opts, most recent first.
func (s *TaskService) List(ctx context.Context, opts queue.ListOptions) ([]Task, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	tasks, err := s.store.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	return FromTasks(tasks), nil
}

// Stats returns task counts keyed by status string.
func (s *TaskService) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeTaskStats(stats), nil
}

// Describe fetches a single task, with its history when withHistory is set.
// A missing task yields (nil, nil).
func (s *TaskService) Describe(ctx context.Context, taskID string, withHistory bool) (*TaskResponse, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	task, err := s.store.Latest(ctx, taskID)
	if errors.Is(err, queue.ErrTaskNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	resp := &TaskResponse{Task: FromTask(task)}
	if withHistory {
		events, err := s.store.History(ctx, taskID)
		if err != nil {
			return nil, err
		}
		resp.History = FromEvents(events)
	}
	return resp, nil
}
