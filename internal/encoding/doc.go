// Package encoding implements the transcode and split stages of the video
// pipeline.
//
// DecideTranscode and DecideSplit are pure functions over a probed
// media.Profile; Transcoder and Splitter drive ffmpeg through a
// command.Runner. Neither stage acquires the GPU lock itself: callers pass a
// Gate so each ffmpeg invocation runs inside the lock window they choose.
//
// Keep ffmpeg argument construction here so the workflow package never builds
// command lines directly.
package encoding
