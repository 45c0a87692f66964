// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Inspect runs ffprobe through a command.Runner and returns the parsed
// Result; Parse decodes output captured elsewhere.
package ffprobe
