package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"clipforge/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrTranscode, "transcode", "ffmpeg", "failed", base)
	if !errors.Is(err, services.ErrTranscode) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"transcode", "ffmpeg", "failed", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestKindClassification(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{services.Wrap(services.ErrProbe, "probe", "", "", nil), "probe"},
		{services.Wrap(services.ErrLockTimeout, "transcode", "acquire", "", nil), "lock_timeout"},
		{fmt.Errorf("outer: %w", services.Wrap(services.ErrSplit, "split", "", "", nil)), "split"},
		{errors.New("plain"), "internal"},
	}
	for _, tt := range tests {
		if got := services.Kind(tt.err); got != tt.want {
			t.Fatalf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestToolErrorKeepsStderrVerbatim(t *testing.T) {
	stderr := "Unknown encoder 'h264_nvenc'\nConversion failed!"
	toolErr := &services.ToolError{Tool: "ffmpeg", Args: []string{"-i", "in.mp4"}, ExitCode: 1, Stderr: stderr}
	err := services.Wrap(services.ErrTranscode, "transcode", "ffmpeg", "", toolErr)

	var target *services.ToolError
	if !errors.As(err, &target) {
		t.Fatalf("expected ToolError in chain: %v", err)
	}
	if target.Stderr != stderr {
		t.Fatalf("stderr altered: %q", target.Stderr)
	}
	if !strings.Contains(err.Error(), "Conversion failed!") {
		t.Fatalf("expected stderr in message: %q", err.Error())
	}
	if target.CommandLine() != "ffmpeg -i in.mp4" {
		t.Fatalf("unexpected command line %q", target.CommandLine())
	}
}
