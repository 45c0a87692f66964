package gpulock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
)

// FlagBackend is the legacy "file exists means busy" lock. The flag never
// expires, so a crashed holder leaves it behind until removed by hand. It is
// kept for compatibility with older deployments and parity tests.
type FlagBackend struct {
	path string
}

// NewFlagBackend returns a flag-file backend at path.
func NewFlagBackend(path string) (*FlagBackend, error) {
	if path == "" {
		return nil, errors.New("gpu lock: flag path required")
	}
	return &FlagBackend{path: path}, nil
}

func (b *FlagBackend) Name() string { return "flag" }

func (b *FlagBackend) Expiring() bool { return false }

func (b *FlagBackend) TryAcquire(_ context.Context, holder Holder, _ time.Duration) (bool, error) {
	file, err := os.OpenFile(b.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create flag: %w", err)
	}
	_, writeErr := fmt.Fprintf(file, "%s %d\n", holder.Owner, holder.PID)
	closeErr := file.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(b.path)
		return false, fmt.Errorf("write flag: %w", err)
	}
	return true, nil
}

func (b *FlagBackend) Renew(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}

func (b *FlagBackend) Release(_ context.Context, owner string) (bool, error) {
	current, found, err := b.read()
	if err != nil || !found || current.Owner != owner {
		return false, err
	}
	if err := os.Remove(b.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("remove flag: %w", err)
	}
	return true, nil
}

func (b *FlagBackend) Current(context.Context) (Holder, bool, error) {
	return b.read()
}

func (b *FlagBackend) read() (Holder, bool, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Holder{}, false, nil
	}
	if err != nil {
		return Holder{}, false, fmt.Errorf("read flag: %w", err)
	}
	var holder Holder
	fields := strings.Fields(string(data))
	if len(fields) > 0 {
		holder.Owner = fields[0]
	}
	if len(fields) > 1 {
		fmt.Sscanf(fields[1], "%d", &holder.PID) //nolint:errcheck
	}
	return holder, true, nil
}
