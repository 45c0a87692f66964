package command

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"clipforge/internal/services"
)

// Runner executes an external program and returns its standard output.
// Failures are reported as *services.ToolError.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return f(ctx, name, args...)
}

const defaultGrace = 5 * time.Second

// ExecRunner runs commands in their own process group so cancellation reaches
// every child the tool spawns.
type ExecRunner struct {
	// Timeout bounds a single invocation. Zero means no limit beyond ctx.
	Timeout time.Duration
	// Grace is how long a cancelled process group gets between SIGTERM and SIGKILL.
	Grace time.Duration
	// Env entries appended to the inherited environment.
	Env []string
}

// NewExecRunner returns an ExecRunner with the given per-invocation timeout.
func NewExecRunner(timeout time.Duration) *ExecRunner {
	return &ExecRunner{Timeout: timeout, Grace: defaultGrace}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return terminateGroup(cmd) }
	cmd.WaitDelay = r.grace()
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	toolErr := &services.ToolError{
		Tool:   name,
		Args:   append([]string(nil), args...),
		Stderr: strings.TrimRight(stderr.String(), "\n"),
		Err:    err,
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		toolErr.Err = ctxErr
	} else {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			toolErr.ExitCode = exitErr.ExitCode()
		}
	}
	return stdout.Bytes(), toolErr
}

func (r *ExecRunner) grace() time.Duration {
	if r.Grace > 0 {
		return r.Grace
	}
	return defaultGrace
}
