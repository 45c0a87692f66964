package services

import (
	"errors"
	"fmt"
	"strings"
)

// Pipeline failure markers. Every stage failure wraps exactly one of these so
// callers can classify it with errors.Is.
var (
	ErrSource            = errors.New("invalid source")
	ErrDownload          = errors.New("download failed")
	ErrProbe             = errors.New("probe failed")
	ErrTranscode         = errors.New("transcode failed")
	ErrSplit             = errors.New("split failed")
	ErrTranscription     = errors.New("transcription failed")
	ErrLockTimeout       = errors.New("gpu lock timeout")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrCancelled         = errors.New("cancelled")
	ErrConfiguration     = errors.New("configuration error")
)

var markers = []struct {
	err  error
	kind string
}{
	{ErrCancelled, "cancelled"},
	{ErrLockTimeout, "lock_timeout"},
	{ErrUnsupportedFormat, "unsupported_format"},
	{ErrSource, "source"},
	{ErrDownload, "download"},
	{ErrProbe, "probe"},
	{ErrTranscode, "transcode"},
	{ErrSplit, "split"},
	{ErrTranscription, "transcription"},
	{ErrConfiguration, "configuration"},
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrConfiguration
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind returns a short machine-readable label for the first marker found in err.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range markers {
		if errors.Is(err, m.err) {
			return m.kind
		}
	}
	return "internal"
}

// ToolError records a failed external process invocation. Stderr is kept
// verbatim so the task record shows exactly what the tool reported.
type ToolError struct {
	Tool     string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	var b strings.Builder
	b.WriteString(e.Tool)
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, " exited with status %d", e.ExitCode)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		b.WriteString(": ")
		b.WriteString(stderr)
	}
	return b.String()
}

func (e *ToolError) Unwrap() error { return e.Err }

// CommandLine renders the invocation for logs.
func (e *ToolError) CommandLine() string {
	return strings.TrimSpace(e.Tool + " " + strings.Join(e.Args, " "))
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
