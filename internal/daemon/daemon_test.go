package daemon_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"clipforge/internal/api"
	"clipforge/internal/config"
	"clipforge/internal/daemon"
	"clipforge/internal/gpulock"
	"clipforge/internal/logging"
	"clipforge/internal/queue"
	"clipforge/internal/testsupport"
	"clipforge/internal/workflow"
)

func newDaemon(t *testing.T, cfg *config.Config, store *queue.Store) *daemon.Daemon {
	t.Helper()
	lock := gpulock.New(gpulock.NewMemoryBackend(), gpulock.Options{PollInterval: 5 * time.Millisecond})
	mgr, err := workflow.NewManager(workflow.Deps{
		Config: cfg,
		Store:  store,
		Lock:   lock,
		Runner: testsupport.NewFakeRunner(),
		Logger: logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("workflow.NewManager: %v", err)
	}
	d, err := daemon.New(cfg, store, logging.NewNop(), mgr)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	d := newDaemon(t, cfg, store)
	t.Cleanup(d.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.QueueDBPath != cfg.QueueDBPath() || status.LockFilePath != cfg.DaemonLockPath() {
		t.Fatalf("unexpected paths in status: %#v", status)
	}
	if d.Addr() == "" {
		t.Fatal("expected bound API address")
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
	if d.Addr() != "" {
		t.Fatalf("expected listener to be released, got %q", d.Addr())
	}
}

func TestSecondInstanceRefused(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	first := newDaemon(t, cfg, store)
	second := newDaemon(t, cfg, store)
	t.Cleanup(first.Stop)
	t.Cleanup(second.Stop)

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		t.Fatal("expected second instance to be refused")
	}

	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("second Start after release failed: %v", err)
	}
}

func TestStartFailsInterruptedTasks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewTask(t, store, "alice:pending", "alice")
	testsupport.NewTask(t, store, "alice:running", "alice")
	if _, err := store.Transition(ctx, "alice:running", queue.StatusRunning, queue.TransitionOptions{}); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	d := newDaemon(t, cfg, store)
	t.Cleanup(d.Stop)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for _, id := range []string{"alice:pending", "alice:running"} {
		task, err := store.Latest(ctx, id)
		if err != nil {
			t.Fatalf("Latest(%s) failed: %v", id, err)
		}
		if task.Status != queue.StatusFailed || task.ErrorMessage != queue.InterruptedReason {
			t.Fatalf("expected %s failed as interrupted, got %s %q", id, task.Status, task.ErrorMessage)
		}
	}
}

func TestRunServesAPIUntilCancelled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	d := newDaemon(t, cfg, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for d.Addr() == "" {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("daemon never bound its API listener")
		}
		time.Sleep(10 * time.Millisecond)
	}

	client, err := api.NewClient(d.Addr())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	reqCtx, reqCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer reqCancel()
	status, err := client.Status(reqCtx)
	if err != nil {
		t.Fatalf("Status over HTTP failed: %v", err)
	}
	if !status.Running || status.Workflow.Lock.Backend != "memory" {
		t.Fatalf("unexpected status: %#v", status)
	}
	if len(status.Workflow.Queues) != 2 {
		t.Fatalf("expected both pipeline queues, got %#v", status.Workflow.Queues)
	}

	_, err = client.Task(reqCtx, "nobody:nothing", false)
	var statusErr *api.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown task, got %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if d.Status(context.Background()).Running {
		t.Fatal("expected daemon stopped after Run returned")
	}
}
