package workflow

import (
	"errors"
	"fmt"
	"io"
	"regexp"

	"clipforge/internal/jobqueue"
	"clipforge/internal/queue"
	"clipforge/internal/transcription"
)

var (
	// ErrInvalidRequest marks submissions rejected before a task is created.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInsufficientDisk marks submissions rejected by the free-space check.
	ErrInsufficientDisk = errors.New("insufficient disk space")
)

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// VideoRequest asks for a URL to be downloaded and made deliverable.
type VideoRequest struct {
	URL   string
	Owner string
	// RequestID is the caller's id for the task; one is generated when empty.
	RequestID string
}

// TranscriptionRequest carries an uploaded media file for speech-to-text.
type TranscriptionRequest struct {
	Owner     string
	RequestID string
	FileName  string
	Body      io.Reader
	Options   transcription.Options
}

// Submission is an accepted task and the handle of its queued job.
type Submission struct {
	Task   *queue.Task
	Handle *jobqueue.Handle
}

// TaskID joins owner and request id into the store key.
func TaskID(owner, requestID string) string {
	return owner + ":" + requestID
}

func validateToken(field, value string) error {
	if !tokenPattern.MatchString(value) {
		return fmt.Errorf("%w: %s %q must match %s", ErrInvalidRequest, field, value, tokenPattern.String())
	}
	return nil
}
