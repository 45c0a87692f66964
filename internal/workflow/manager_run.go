package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"clipforge/internal/encoding"
	"clipforge/internal/gpulock"
	"clipforge/internal/logging"
	"clipforge/internal/queue"
	"clipforge/internal/services"
)

// runContext carries per-task state through a pipeline.
type runContext struct {
	adm    admission
	logger *slog.Logger
}

type pipelineFunc func(ctx context.Context, rc *runContext) ([]string, error)

// execute is the job body for every task: RUNNING, pipeline, then COMPLETED
// or FAILED. Store writes ignore cancellation so a cancelled task is still
// recorded.
func (m *Manager) execute(ctx context.Context, adm admission, pipeline pipelineFunc) ([]string, error) {
	started := time.Now()
	ctx = services.WithTask(ctx, adm.owner, adm.taskID)
	recordCtx := context.WithoutCancel(ctx)

	logger := logging.WithContext(ctx, m.logger)
	taskLog, err := logging.OpenTaskLog(m.logger, m.cfg.TaskLogDir(), adm.owner, adm.taskID)
	if err != nil {
		logging.WarnWithContext(logger, "task log unavailable; logging to daemon log only", "task_log_unavailable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check log_dir permissions"),
		)
	} else {
		defer taskLog.Close()
		logger = taskLog.Logger
	}

	if _, err := m.store.Transition(recordCtx, adm.taskID, queue.StatusRunning, queue.TransitionOptions{}); err != nil {
		logger.Error("failed to mark task running",
			logging.Error(err),
			logging.String(logging.FieldEventType, "task_record_failed"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
		m.setLastError(err)
		return nil, err
	}
	logger.Info("task started",
		logging.String("kind", string(adm.kind)),
		logging.String(logging.FieldEventType, "task_start"),
	)

	rc := &runContext{adm: adm, logger: logger}
	var artifacts []string
	if ctx.Err() != nil {
		err = ctx.Err()
	} else {
		artifacts, err = pipeline(ctx, rc)
	}

	if err != nil {
		err = classifyCancellation(ctx, err)
		m.recordFailure(recordCtx, rc, err)
		tasksFinished.WithLabelValues(string(adm.kind), outcomeLabel(err)).Inc()
		return nil, err
	}

	if _, err := m.store.Transition(recordCtx, adm.taskID, queue.StatusCompleted, queue.TransitionOptions{Artifacts: artifacts}); err != nil {
		logger.Error("failed to mark task completed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "task_record_failed"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
		m.setLastError(err)
		return nil, err
	}
	tasksFinished.WithLabelValues(string(adm.kind), "completed").Inc()
	logger.Info("task completed",
		logging.Int("artifacts", len(artifacts)),
		logging.Duration("task_duration", time.Since(started)),
		logging.String(logging.FieldEventType, "task_complete"),
	)
	return artifacts, nil
}

// classifyCancellation tags errors caused by a cancelled task context so the
// record reads as a cancellation rather than a tool failure.
func classifyCancellation(ctx context.Context, err error) error {
	if ctx.Err() == nil || errors.Is(err, services.ErrCancelled) {
		return err
	}
	return services.Wrap(services.ErrCancelled, "workflow", "run", "task cancelled", err)
}

func outcomeLabel(err error) string {
	if errors.Is(err, services.ErrCancelled) {
		return "cancelled"
	}
	return "failed"
}

func (m *Manager) recordFailure(ctx context.Context, rc *runContext, stageErr error) {
	message := strings.TrimSpace(stageErr.Error())
	if message == "" {
		message = "workflow failed without error detail"
	}
	attrs := []logging.Attr{
		logging.String("resolved_status", string(queue.StatusFailed)),
		logging.String(logging.FieldErrorKind, services.Kind(stageErr)),
		logging.Error(stageErr),
		logging.String(logging.FieldEventType, "task_failure"),
	}
	var toolErr *services.ToolError
	if errors.As(stageErr, &toolErr) {
		attrs = append(attrs, logging.String("tool", toolErr.Tool), logging.Int("exit_code", toolErr.ExitCode))
	}
	rc.logger.Error("task failed", logging.Args(attrs...)...)

	if _, err := m.store.Transition(ctx, rc.adm.taskID, queue.StatusFailed, queue.TransitionOptions{ErrorMessage: message}); err != nil {
		rc.logger.Error("failed to persist task failure",
			logging.Error(err),
			logging.String(logging.FieldEventType, "task_record_failed"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
	}
	m.setLastError(stageErr)
}

// stage runs one pipeline stage with timing, logging and metrics.
func (m *Manager) stage(ctx context.Context, rc *runContext, name string, fn func(context.Context) error) error {
	ctx = services.WithStage(ctx, name)
	logger := rc.logger.With(logging.String(logging.FieldStage, name))
	start := time.Now()
	logger.Debug("stage started", logging.String(logging.FieldEventType, "stage_start"))

	err := fn(ctx)
	outcome := "completed"
	if err != nil {
		outcome = "failed"
	}
	stageSeconds.WithLabelValues(string(rc.adm.kind), name, outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	logger.Info("stage completed",
		logging.Duration("stage_duration", time.Since(start)),
		logging.String(logging.FieldEventType, "stage_complete"),
	)
	return nil
}

// gpuGate returns a Gate that runs fn while holding the GPU lock.
func (m *Manager) gpuGate(rc *runContext) encoding.Gate {
	timeout := time.Duration(m.cfg.GPU.AcquireTimeoutSeconds) * time.Second
	return func(ctx context.Context, stage string, fn func(context.Context) error) error {
		waitStart := time.Now()
		return gpulock.Guard(ctx, m.lock, timeout, func(ctx context.Context) error {
			rc.logger.Debug("gpu lock acquired",
				logging.String(logging.FieldStage, stage),
				logging.Duration("lock_wait", time.Since(waitStart)),
				logging.String(logging.FieldEventType, "gpu_lock_acquired"),
			)
			gpuStagesActive.Inc()
			defer gpuStagesActive.Dec()
			return fn(ctx)
		})
	}
}
