// Package workflow runs submitted tasks through the media pipelines.
//
// The Manager owns two job queues, one per pipeline, and one GPU lock shared
// by both. A video task normalizes its source URL, downloads the media, fixes
// up the file name, probes it, transcodes when the profile or resolution
// requires it, and splits the result when it exceeds the size ceiling. A
// transcription task extracts audio from an upload, runs speech-to-text and
// renders the transcript. Every accelerator-bound stage runs inside the GPU
// lock so at most one such stage executes across all processes sharing the
// lock backend.
//
// Each task is recorded in the queue store as PENDING at submission, RUNNING
// once a worker picks it up, and COMPLETED or FAILED at the end. The store is
// only written from the goroutine executing the task. Per-task logs are
// written next to the daemon log and referenced from the task record.
package workflow
