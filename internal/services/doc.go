// Package services defines shared utilities consumed by the pipeline stages.
//
// Key responsibilities:
//   - Scope, carried on the context, naming the task, owner, stage and
//     HTTP request a piece of work belongs to so loggers can tag it.
//   - Failure markers plus the Wrap helper so every stage error can be
//     classified with errors.Is and recorded verbatim.
//   - ToolError, which carries the exit status and stderr of a failed
//     external process.
package services
