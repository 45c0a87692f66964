package testsupport

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
)

// ToolFunc handles one fake tool invocation.
type ToolFunc func(ctx context.Context, args []string) ([]byte, error)

// Call records one invocation seen by FakeRunner.
type Call struct {
	Tool string
	Args []string
}

// FakeRunner dispatches invocations to per-tool handlers by binary base name
// and records every call. It satisfies command.Runner.
type FakeRunner struct {
	mu       sync.Mutex
	handlers map[string]ToolFunc
	calls    []Call
}

// NewFakeRunner returns an empty runner; unknown tools fail.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{handlers: make(map[string]ToolFunc)}
}

// Handle registers fn for tool.
func (f *FakeRunner) Handle(tool string, fn ToolFunc) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[tool] = fn
	return f
}

// Run implements command.Runner.
func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	tool := filepath.Base(name)
	f.mu.Lock()
	f.calls = append(f.calls, Call{Tool: tool, Args: append([]string(nil), args...)})
	fn := f.handlers[tool]
	f.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("fake runner: no handler for %s", tool)
	}
	return fn(ctx, args)
}

// Calls returns a snapshot of recorded invocations.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns recorded invocations of tool.
func (f *FakeRunner) CallsTo(tool string) []Call {
	var out []Call
	for _, call := range f.Calls() {
		if call.Tool == tool {
			out = append(out, call)
		}
	}
	return out
}
