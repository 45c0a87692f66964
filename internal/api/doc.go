// Package api defines the wire-format types exchanged with the daemon's HTTP
// surface, converters from internal models, and a client used by the CLI.
//
// # Key Types
//
// Task/TaskEvent: transport representation of a task's latest state and its
// status history.
//
// WorkflowStatus: queue counters, task counts by status and the GPU lock
// holder.
//
// DaemonStatus: aggregated runtime information for `clipforge status`.
//
// # Converters
//
// FromTask, FromTasks, FromEvents: queue models -> DTOs.
//
// FromStatusSummary: workflow.StatusSummary -> WorkflowStatus.
//
// # Design Notes
//
// DTOs use camelCase JSON tags except for the submission bodies, which keep the
// snake_case field names existing clients send (url, user_id, request_id).
// Timestamps use RFC3339 with milliseconds in UTC.
package api
