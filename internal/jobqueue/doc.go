// Package jobqueue runs submitted jobs in arrival order on a fixed-size
// worker pool.
//
// A single dispatcher goroutine pops the oldest pending job whenever a worker
// slot is free, so jobs start in FIFO order while completion order depends on
// job duration. Submit returns a Handle immediately; SubmitAndWait blocks until
// the job finishes. Cancelling a job cancels the context passed to its Run
// function, which unblocks any GPU lock wait inside it. A job cancelled before
// it started still runs once with an already-cancelled context so the owner
// can record the outcome.
package jobqueue
