package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/google/uuid"

	"clipforge/internal/config"
	"clipforge/internal/daemon"
	"clipforge/internal/gpulock"
	"clipforge/internal/logging"
	"clipforge/internal/preflight"
	"clipforge/internal/queue"
	"clipforge/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the clipforge daemon and blocks until SIGINT/SIGTERM or ctx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	logger, err := logging.NewFromConfig(cfg, opts.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String("run_id", uuid.NewString()))

	logDependencySnapshot(signalCtx, logger, cfg)
	logging.CleanupOldLogs(logger, cfg.TaskLogDir(), cfg.Logging.RetentionDays)

	pidPath := filepath.Join(cfg.Paths.LogDir, "clipforged.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open task store", logging.Error(err))
		return err
	}
	defer store.Close()

	lock, lockCloser, err := gpulock.Open(signalCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open gpu lock: %w", err)
	}
	defer lockCloser.Close()

	manager, err := workflow.NewManager(workflow.Deps{
		Config: cfg,
		Store:  store,
		Lock:   lock,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("create workflow manager: %w", err)
	}

	d, err := daemon.New(cfg, store, logger, manager)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	if err := d.Run(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon stopped with error", "daemon_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check api_bind and the daemon lock file"),
		)
		return err
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// logDependencySnapshot records preflight results so missing tools surface at
// startup rather than on the first task that needs them.
func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	results := preflight.RunAll(ctx, cfg)
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("gpu_lock_backend", cfg.GPU.LockBackend),
		logging.String("api_bind", cfg.Paths.APIBind),
	}
	for _, result := range results {
		attrs = append(attrs, logging.Bool(result.Name, result.Passed))
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)

	for _, failed := range preflight.Failed(results) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", failed.Name),
			logging.String("detail", failed.Detail),
			logging.String(logging.FieldImpact, "tasks needing this will fail"),
		)
	}
}
