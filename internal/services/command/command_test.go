package command_test

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"clipforge/internal/services"
	"clipforge/internal/services/command"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunnerCapturesStdout(t *testing.T) {
	requireShell(t)
	runner := command.NewExecRunner(0)
	out, err := runner.Run(context.Background(), "sh", "-c", "printf hello")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(out) != "hello" {
		t.Fatalf("unexpected stdout %q", out)
	}
}

func TestExecRunnerReportsToolError(t *testing.T) {
	requireShell(t)
	runner := command.NewExecRunner(0)
	_, err := runner.Run(context.Background(), "sh", "-c", "echo 'bad input' >&2; exit 3")
	var toolErr *services.ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected ToolError, got %v", err)
	}
	if toolErr.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", toolErr.ExitCode)
	}
	if toolErr.Stderr != "bad input" {
		t.Fatalf("unexpected stderr %q", toolErr.Stderr)
	}
	if !strings.Contains(err.Error(), "exited with status 3") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestExecRunnerHonoursCancellation(t *testing.T) {
	requireShell(t)
	runner := &command.ExecRunner{Grace: 100 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := runner.Run(ctx, "sh", "-c", "sleep 5 & sleep 5; wait")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("cancellation took too long: %s", elapsed)
	}
}

func TestRunnerFuncAdapts(t *testing.T) {
	var got []string
	runner := command.RunnerFunc(func(_ context.Context, name string, args ...string) ([]byte, error) {
		got = append([]string{name}, args...)
		return []byte("ok"), nil
	})
	out, err := runner.Run(context.Background(), "ffprobe", "-v", "error")
	if err != nil || string(out) != "ok" {
		t.Fatalf("unexpected result %q %v", out, err)
	}
	if strings.Join(got, " ") != "ffprobe -v error" {
		t.Fatalf("unexpected invocation %q", got)
	}
}
