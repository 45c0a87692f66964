package gpulock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"
)

const guardRetryDelay = 10 * time.Millisecond

// FileBackend stores the lease as JSON at path. Each read-modify-write holds
// an advisory flock on path+".guard", so processes sharing the filesystem see
// a consistent lease. A holder that dies stops renewing and its lease expires.
type FileBackend struct {
	path  string
	guard string
	now   func() time.Time
}

// NewFileBackend returns a lease file backend rooted at path.
func NewFileBackend(path string) (*FileBackend, error) {
	if path == "" {
		return nil, errors.New("gpu lock: lease path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("gpu lock: ensure lease dir: %w", err)
	}
	return &FileBackend{path: path, guard: path + ".guard", now: time.Now}, nil
}

func (f *FileBackend) Name() string { return "lease" }

func (f *FileBackend) Expiring() bool { return true }

func (f *FileBackend) TryAcquire(ctx context.Context, holder Holder, ttl time.Duration) (bool, error) {
	var acquired bool
	err := f.withGuard(ctx, func() error {
		current, found, err := f.read()
		if err != nil {
			return err
		}
		now := f.now()
		if found && !current.Expired(now) && current.Owner != holder.Owner {
			return nil
		}
		holder.ExpiresAt = now.Add(ttl)
		if err := f.write(holder); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	return acquired, err
}

func (f *FileBackend) Renew(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	var renewed bool
	err := f.withGuard(ctx, func() error {
		current, found, err := f.read()
		if err != nil {
			return err
		}
		now := f.now()
		if !found || current.Owner != owner || current.Expired(now) {
			return nil
		}
		current.ExpiresAt = now.Add(ttl)
		if err := f.write(current); err != nil {
			return err
		}
		renewed = true
		return nil
	})
	return renewed, err
}

func (f *FileBackend) Release(ctx context.Context, owner string) (bool, error) {
	var released bool
	err := f.withGuard(ctx, func() error {
		current, found, err := f.read()
		if err != nil {
			return err
		}
		if !found || current.Owner != owner {
			return nil
		}
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove lease: %w", err)
		}
		released = true
		return nil
	})
	return released, err
}

func (f *FileBackend) Current(ctx context.Context) (Holder, bool, error) {
	var (
		holder Holder
		found  bool
	)
	err := f.withGuard(ctx, func() error {
		var err error
		holder, found, err = f.read()
		if found && holder.Expired(f.now()) {
			found = false
		}
		return err
	})
	return holder, found, err
}

func (f *FileBackend) withGuard(ctx context.Context, fn func() error) error {
	guard := flock.New(f.guard)
	locked, err := guard.TryLockContext(ctx, guardRetryDelay)
	if err != nil {
		return fmt.Errorf("lock guard %s: %w", f.guard, err)
	}
	if !locked {
		return fmt.Errorf("lock guard %s: not acquired", f.guard)
	}
	defer guard.Unlock() //nolint:errcheck
	return fn()
}

func (f *FileBackend) read() (Holder, bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Holder{}, false, nil
	}
	if err != nil {
		return Holder{}, false, fmt.Errorf("read lease: %w", err)
	}
	var holder Holder
	if err := json.Unmarshal(data, &holder); err != nil {
		// A torn or foreign file cannot be honoured; treat it as free.
		return Holder{}, false, nil
	}
	if holder.Owner == "" {
		return Holder{}, false, nil
	}
	return holder, true, nil
}

func (f *FileBackend) write(holder Holder) error {
	data, err := json.MarshalIndent(holder, "", "  ")
	if err != nil {
		return fmt.Errorf("encode lease: %w", err)
	}
	if err := renameio.WriteFile(f.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write lease: %w", err)
	}
	return nil
}
