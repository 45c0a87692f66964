package logging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// TaskLog is an isolated log stream for one task. Records written through
// Logger go both to the daemon logger and to the task's own file.
type TaskLog struct {
	Logger *slog.Logger
	// Ref is the file name relative to the task log directory; it is stored
	// with the task record.
	Ref  string
	Path string
	file *os.File
}

// TaskLogRef returns the log file name for a task. A task id already
// prefixed with "owner:" is not repeated.
func TaskLogRef(owner, taskID string) string {
	taskID = strings.TrimPrefix(taskID, owner+":")
	return safeToken(owner) + "_" + safeToken(taskID) + ".log"
}

// OpenTaskLog creates (or appends to) the task's log file under dir.
func OpenTaskLog(base *slog.Logger, dir, owner, taskID string) (*TaskLog, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, errors.New("task log: task id required")
	}
	ref := TaskLogRef(owner, taskID)
	path := filepath.Join(dir, ref)
	file, err := openLogFile(path)
	if err != nil {
		return nil, fmt.Errorf("task log: %w", err)
	}

	level := new(slog.LevelVar)
	level.Set(slog.LevelDebug)
	fileHandler := newPrettyHandler(file, level, false)

	var primary slog.Handler = slog.DiscardHandler
	if base != nil {
		primary = base.Handler()
	}
	logger := slog.New(&teeHandler{handlers: []slog.Handler{primary, fileHandler}}).
		With(String(FieldTaskID, taskID), String(FieldOwner, owner))

	return &TaskLog{Logger: logger, Ref: ref, Path: path, file: file}, nil
}

// Close flushes and closes the task log file.
func (t *TaskLog) Close() error {
	if t == nil || t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

// ResolveTaskLog maps a stored log reference back to a path inside dir,
// refusing references that would escape it.
func ResolveTaskLog(dir, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return "", fmt.Errorf("task log: invalid reference %q", ref)
	}
	return filepath.Join(dir, ref), nil
}

func safeToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "anonymous"
	}
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return strings.TrimLeft(b.String(), ".")
}

// teeHandler duplicates records into every handler that accepts the level.
type teeHandler struct {
	handlers []slog.Handler
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &teeHandler{handlers: next}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &teeHandler{handlers: next}
}
