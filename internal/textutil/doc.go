// Package textutil provides filename normalization and sanitization helpers.
//
// NormalizeFileName is applied to every downloaded or uploaded file before it is
// probed: it transliterates to ASCII, collapses whitespace, strips characters
// that are unsafe on common filesystems, and truncates while keeping the
// extension. The result is stable under repeated application.
package textutil
