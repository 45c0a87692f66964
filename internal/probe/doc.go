// Package probe turns ffprobe output into media.Profile values.
//
// Adapter.Probe is the only way the pipeline learns about a file: it never
// zero-fills fields when ffprobe fails, returning *Error instead. The two
// documented fallbacks are the default audio bitrate when a stream reports none
// and the .mp4 extension when DetectExtension cannot classify a container.
package probe
