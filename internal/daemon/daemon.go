package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"clipforge/internal/api"
	"clipforge/internal/config"
	"clipforge/internal/logging"
	"clipforge/internal/queue"
	"clipforge/internal/workflow"
)

// retentionInterval is how often old task logs are pruned while running.
const retentionInterval = 6 * time.Hour

// Daemon coordinates the pipeline queues and the HTTP surface and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Workflow     workflow.StatusSummary
	QueueDBPath  string
	LockFilePath string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, wf *workflow.Manager) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, logger, and workflow manager")
	}

	lockPath := cfg.DaemonLockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		workflow: wf,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(apiDeps{
		cfg:      cfg,
		workflow: wf,
		tasks:    store,
		status:   d.apiStatus,
		logger:   logger,
	})
	return d, nil
}

// Start acquires the instance lock, fails tasks a previous run left
// unfinished, binds the API listener and launches the workflow queues.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another clipforge daemon instance is already running")
	}

	recovered, err := d.store.FailInterrupted(ctx, queue.InterruptedReason)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("recover interrupted tasks: %w", err)
	}
	if recovered > 0 {
		logging.WarnWithContext(d.logger, "failed tasks left unfinished by a previous run", "tasks_recovered",
			logging.Int("tasks", recovered),
			logging.String(logging.FieldImpact, "interrupted tasks must be resubmitted"),
		)
	}

	if err := d.api.listen(); err != nil {
		_ = d.lock.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		d.api.close()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	d.cancel = cancel

	d.running.Store(true)
	d.logger.Info("clipforge daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.addr()),
		logging.String(logging.FieldEventType, "daemon_start"),
	)
	return nil
}

// Run starts the daemon and serves the API until ctx is done or the server
// fails. Queued and running tasks are cancelled on return.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	defer d.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.api.serve(gctx)
	})
	g.Go(func() error {
		d.pruneLogs(gctx)
		return nil
	})
	err := g.Wait()
	d.logger.Info("clipforge daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return err
}

func (d *Daemon) pruneLogs(ctx context.Context) {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		removed := logging.CleanupOldLogs(d.logger, d.cfg.TaskLogDir(), d.cfg.Logging.RetentionDays)
		if removed > 0 {
			d.logger.Info("task logs pruned",
				logging.Int("removed", removed),
				logging.String(logging.FieldEventType, "log_retention"),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.close()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("clipforge daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Addr returns the bound API address, or "" before Start.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Workflow:     d.workflow.Status(ctx),
		QueueDBPath:  d.cfg.QueueDBPath(),
		LockFilePath: d.lockPath,
	}
}

func (d *Daemon) apiStatus(ctx context.Context) api.DaemonStatus {
	status := d.Status(ctx)
	return api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		QueueDBPath:  status.QueueDBPath,
		LockFilePath: status.LockFilePath,
		Workflow:     api.FromStatusSummary(status.Workflow),
	}
}
