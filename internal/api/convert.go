package api

import (
	"time"

	"clipforge/internal/queue"
	"clipforge/internal/workflow"
)

// FromTask converts a task record to its API representation.
func FromTask(task *queue.Task) Task {
	if task == nil {
		return Task{}
	}
	return Task{
		ID:           task.ID,
		Owner:        task.Owner,
		Kind:         string(task.Kind),
		Status:       string(task.Status),
		ErrorMessage: task.ErrorMessage,
		LogRef:       task.LogRef,
		Artifacts:    task.Artifacts,
		CreatedAt:    formatTime(task.CreatedAt),
		UpdatedAt:    formatTime(task.UpdatedAt),
	}
}

// FromTasks converts a slice of task records into API DTOs.
func FromTasks(tasks []*queue.Task) []Task {
	out := make([]Task, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, FromTask(task))
	}
	return out
}

// FromEvents converts a task history.
func FromEvents(events []queue.Event) []TaskEvent {
	if len(events) == 0 {
		return nil
	}
	out := make([]TaskEvent, 0, len(events))
	for _, event := range events {
		out = append(out, TaskEvent{
			Seq:          event.Seq,
			Status:       string(event.Status),
			ErrorMessage: event.ErrorMessage,
			CreatedAt:    formatTime(event.CreatedAt),
		})
	}
	return out
}

// FromStatusSummary converts workflow diagnostics.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	status := WorkflowStatus{
		Running:    summary.Running,
		LastError:  summary.LastError,
		Queues:     make([]QueueStatus, 0, len(summary.Queues)),
		TaskCounts: MergeTaskStats(summary.Tasks),
		Lock:       LockStatus{Backend: summary.LockBackend},
	}
	for _, q := range summary.Queues {
		status.Queues = append(status.Queues, QueueStatus{
			Name:      q.Name,
			Workers:   q.Workers,
			Capacity:  q.Capacity,
			Pending:   q.Pending,
			Running:   q.Running,
			Completed: q.Completed,
			Failed:    q.Failed,
		})
	}
	if holder := summary.LockHolder; holder != nil {
		status.Lock.Held = true
		status.Lock.Holder = holder.Label
		if status.Lock.Holder == "" {
			status.Lock.Holder = holder.Owner
		}
		status.Lock.HolderPID = holder.PID
		status.Lock.HolderHost = holder.Host
		status.Lock.AcquiredAt = formatTime(holder.AcquiredAt)
		status.Lock.ExpiresAt = formatTime(holder.ExpiresAt)
	}
	return status
}

// MergeTaskStats keys counts by status string, including statuses with no
// tasks so clients render a stable set of columns.
func MergeTaskStats(stats queue.Stats) map[string]int {
	out := make(map[string]int, len(queue.AllStatuses()))
	for _, status := range queue.AllStatuses() {
		out[string(status)] = stats.Counts[status]
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
