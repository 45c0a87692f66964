package testsupport

import (
	"context"
	"testing"

	"clipforge/internal/config"
	"clipforge/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewTask records a pending task for tests using the provided store.
func NewTask(t testing.TB, store *queue.Store, taskID, owner string) *queue.Task {
	t.Helper()

	task, err := store.Create(context.Background(), queue.CreateParams{ID: taskID, Owner: owner, Kind: queue.KindVideo})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return task
}
