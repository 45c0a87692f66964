// Package daemon runs the long-lived clipforge process.
//
// It ties configuration, the task store and the workflow manager into one
// lifecycle guarded by a flock so only one instance serves a log directory.
// On start it fails tasks an earlier process left unfinished, then serves the
// HTTP API: task submission and inspection under /api, plus /healthz and the
// Prometheus /metrics endpoint. Task log retention runs in the background.
//
// Pipeline logic belongs in workflow and its stage packages; this package only
// handles startup, shutdown and the transport surface.
package daemon
