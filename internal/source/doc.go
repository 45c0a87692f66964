// Package source turns a caller-supplied reference into a local media file.
//
// Remote URLs are normalized and fetched with yt-dlp; uploads are copied into
// the task directory. Either way the result then passes through
// EnsureExtension and NormalizeName so later stages see a classified,
// filesystem-safe file name.
package source
