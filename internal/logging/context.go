package logging

import (
	"context"
	"log/slog"

	"clipforge/internal/services"
)

// Standard attribute keys. The console handler lifts the task, owner,
// stage and component keys into the line prefix.
const (
	FieldComponent     = "component"
	FieldTaskID        = "task_id"
	FieldOwner         = "owner"
	FieldStage         = "stage"
	FieldCorrelationID = "correlation_id"
	FieldEventType     = "event_type"
	FieldErrorHint     = "error_hint"
	FieldImpact        = "impact"
	FieldErrorKind     = "error_kind"
	FieldDecisionType  = "decision_type"
)

// WithContext returns logger tagged with the services.Scope carried by ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	scope := services.ScopeFrom(ctx)
	args := make([]any, 0, 4)
	for _, field := range []struct{ key, value string }{
		{FieldTaskID, scope.TaskID},
		{FieldOwner, scope.Owner},
		{FieldStage, scope.Stage},
		{FieldCorrelationID, scope.RequestID},
	} {
		if field.value != "" {
			args = append(args, slog.String(field.key, field.value))
		}
	}
	if len(args) == 0 {
		return logger
	}
	return logger.With(args...)
}
