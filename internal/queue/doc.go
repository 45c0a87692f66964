// Package queue persists task lifecycle events in SQLite.
//
// The Store is an append-only event log: every status change inserts a row in
// task_events and nothing is ever updated or deleted. The current state of a
// task is its most recent event (the task_latest view). Transitions are
// validated against that latest event inside one transaction, so only
// PENDING -> RUNNING -> COMPLETED|FAILED is ever recorded.
//
// Schema changes ship as numbered files under migrations/ and are applied in
// order at Open.
package queue
