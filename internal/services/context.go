package services

import "context"

// Scope identifies the unit of work a context belongs to. Loggers and error
// reports read it to tag output without threading ids through every call.
type Scope struct {
	TaskID    string
	Owner     string
	Stage     string
	RequestID string
}

type scopeKey struct{}

// WithScope returns ctx carrying the fields of s merged over any scope
// already present. Empty fields keep the inherited value.
func WithScope(ctx context.Context, s Scope) context.Context {
	merged := ScopeFrom(ctx)
	if s.TaskID != "" {
		merged.TaskID = s.TaskID
	}
	if s.Owner != "" {
		merged.Owner = s.Owner
	}
	if s.Stage != "" {
		merged.Stage = s.Stage
	}
	if s.RequestID != "" {
		merged.RequestID = s.RequestID
	}
	if merged == (Scope{}) {
		return ctx
	}
	return context.WithValue(ctx, scopeKey{}, merged)
}

// ScopeFrom returns the scope attached to ctx, or the zero Scope.
func ScopeFrom(ctx context.Context) Scope {
	if ctx == nil {
		return Scope{}
	}
	s, _ := ctx.Value(scopeKey{}).(Scope)
	return s
}

// WithTask scopes ctx to one task.
func WithTask(ctx context.Context, owner, taskID string) context.Context {
	return WithScope(ctx, Scope{TaskID: taskID, Owner: owner})
}

// WithStage scopes ctx to a pipeline stage of the current task.
func WithStage(ctx context.Context, stage string) context.Context {
	return WithScope(ctx, Scope{Stage: stage})
}
