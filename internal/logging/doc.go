// Package logging assembles structured slog loggers and formatting helpers used
// across clipforge.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so stage code can tag log lines
// with task IDs, owners, and stages. Each task also gets its own log file
// (OpenTaskLog) whose name is stored as the task's log reference.
package logging
