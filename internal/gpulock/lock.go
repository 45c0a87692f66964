package gpulock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"clipforge/internal/logging"
	"clipforge/internal/services"
)

// Holder describes who currently owns the accelerator.
type Holder struct {
	Owner      string    `json:"owner"`
	Label      string    `json:"label,omitempty"`
	PID        int       `json:"pid"`
	Host       string    `json:"host,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
	// ExpiresAt is zero for backends without expiry.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Expired reports whether the holder's lease ran out before now.
func (h Holder) Expired(now time.Time) bool {
	return !h.ExpiresAt.IsZero() && !now.Before(h.ExpiresAt)
}

// Backend stores the single lease. Implementations must make TryAcquire atomic
// with respect to every other process sharing the backend.
type Backend interface {
	Name() string
	// TryAcquire claims the lease for holder.Owner if it is free or expired.
	TryAcquire(ctx context.Context, holder Holder, ttl time.Duration) (bool, error)
	// Renew extends the lease; false means the lease is no longer ours.
	Renew(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	// Release drops the lease; false means it was not ours to drop.
	Release(ctx context.Context, owner string) (bool, error)
	// Current returns the live holder, if any.
	Current(ctx context.Context) (Holder, bool, error)
	// Expiring reports whether leases time out when not renewed.
	Expiring() bool
}

// Options tune a Lock.
type Options struct {
	TTL          time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
}

const (
	defaultTTL          = 30 * time.Second
	defaultPollInterval = time.Second
	releaseTimeout      = 5 * time.Second
)

// Lock serializes access to one accelerator across goroutines and, through
// the backend, across processes.
type Lock struct {
	backend Backend
	ttl     time.Duration
	poll    time.Duration
	logger  *slog.Logger
	host    string

	// local is an in-process token so that only one goroutine polls the
	// backend at a time; channel senders queue in arrival order.
	local chan struct{}
}

// New wraps backend in a Lock.
func New(backend Backend, opts Options) *Lock {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	host, _ := os.Hostname()
	return &Lock{
		backend: backend,
		ttl:     opts.TTL,
		poll:    opts.PollInterval,
		logger:  logging.NewComponentLogger(opts.Logger, "gpulock"),
		host:    host,
		local:   make(chan struct{}, 1),
	}
}

// Backend returns the lock's storage backend name.
func (l *Lock) Backend() string {
	return l.backend.Name()
}

// Acquire blocks until the accelerator is free or ctx is done.
func (l *Lock) Acquire(ctx context.Context) (*Lease, error) {
	return l.acquire(ctx, ctx)
}

// TryAcquire waits at most timeout. A timeout yields services.ErrLockTimeout;
// a non-positive timeout behaves like Acquire.
func (l *Lock) TryAcquire(ctx context.Context, timeout time.Duration) (*Lease, error) {
	if timeout <= 0 {
		return l.Acquire(ctx)
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return l.acquire(ctx, waitCtx)
}

// Current reports the live holder as seen by the backend.
func (l *Lock) Current(ctx context.Context) (Holder, bool, error) {
	return l.backend.Current(ctx)
}

func (l *Lock) acquire(parent, ctx context.Context) (*Lease, error) {
	start := time.Now()
	logger := logging.WithContext(parent, l.logger)

	select {
	case l.local <- struct{}{}:
	case <-ctx.Done():
		return nil, l.waitError(parent, ctx, start)
	}

	holder := Holder{
		Owner: shortuuid.New(),
		PID:   os.Getpid(),
		Host:  l.host,
		Label: services.ScopeFrom(parent).TaskID,
	}

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	logged := false
	for {
		holder.AcquiredAt = time.Now()
		if l.backend.Expiring() {
			holder.ExpiresAt = holder.AcquiredAt.Add(l.ttl)
		}
		ok, err := l.backend.TryAcquire(ctx, holder, l.ttl)
		if err != nil && ctx.Err() == nil {
			<-l.local
			return nil, fmt.Errorf("gpu lock %s: acquire: %w", l.backend.Name(), err)
		}
		if ok {
			break
		}
		if !logged {
			logged = true
			if current, found, _ := l.backend.Current(ctx); found {
				logger.Info("waiting for gpu lock",
					logging.String("holder", current.Label),
					logging.Int("holder_pid", current.PID),
					logging.String(logging.FieldEventType, "gpu_lock_wait"),
				)
			}
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			<-l.local
			return nil, l.waitError(parent, ctx, start)
		}
	}

	wait := time.Since(start)
	lockWaitSeconds.WithLabelValues(l.backend.Name()).Observe(wait.Seconds())
	lockHeld.WithLabelValues(l.backend.Name()).Set(1)
	logger.Debug("gpu lock acquired",
		logging.Duration("wait", wait),
		logging.String(logging.FieldEventType, "gpu_lock_acquired"),
	)

	lease := &Lease{lock: l, holder: holder, logger: logger, acquired: time.Now()}
	if l.backend.Expiring() {
		renewCtx, cancel := context.WithCancel(context.Background())
		lease.stopRenew = cancel
		lease.renewDone = make(chan struct{})
		go lease.renew(renewCtx)
	}
	return lease, nil
}

func (l *Lock) waitError(parent, ctx context.Context, start time.Time) error {
	if parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		lockTimeouts.WithLabelValues(l.backend.Name()).Inc()
		return services.Wrap(services.ErrLockTimeout, "gpu", "acquire",
			fmt.Sprintf("gave up after %s", time.Since(start).Round(time.Millisecond)), nil)
	}
	return services.Wrap(services.ErrCancelled, "gpu", "acquire", "", ctx.Err())
}

// Lease is one successful acquisition. Release is idempotent and never waits
// for other holders.
type Lease struct {
	lock     *Lock
	holder   Holder
	logger   *slog.Logger
	acquired time.Time

	stopRenew context.CancelFunc
	renewDone chan struct{}

	mu       sync.Mutex
	released bool
	lost     bool
}

// Holder returns the identity recorded with the lease.
func (s *Lease) Holder() Holder {
	return s.holder
}

// Lost reports whether renewal discovered that another holder took over.
func (s *Lease) Lost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost
}

// Release gives the accelerator back. Calling it again is a logged no-op.
func (s *Lease) Release() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		s.logger.Debug("gpu lock release ignored; already released",
			logging.String(logging.FieldEventType, "gpu_lock_release_noop"))
		return nil
	}
	s.released = true
	s.mu.Unlock()

	if s.stopRenew != nil {
		s.stopRenew()
		<-s.renewDone
	}

	l := s.lock
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	ok, err := l.backend.Release(ctx, s.holder.Owner)
	lockHeld.WithLabelValues(l.backend.Name()).Set(0)
	<-l.local

	held := time.Since(s.acquired)
	lockHoldSeconds.WithLabelValues(l.backend.Name()).Observe(held.Seconds())
	if err != nil {
		return fmt.Errorf("gpu lock %s: release: %w", l.backend.Name(), err)
	}
	if !ok {
		logging.WarnWithContext(s.logger, "gpu lock release was a no-op; lease no longer held", "gpu_lock_release_noop",
			logging.Duration("held", held),
			logging.String(logging.FieldErrorHint, "raise gpu.lease_ttl_seconds if stages outlive renewals"),
			logging.String(logging.FieldImpact, "another holder may have overlapped this stage"),
		)
		return nil
	}
	s.logger.Debug("gpu lock released",
		logging.Duration("held", held),
		logging.String(logging.FieldEventType, "gpu_lock_released"),
	)
	return nil
}

func (s *Lease) renew(ctx context.Context) {
	defer close(s.renewDone)
	l := s.lock
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		ok, err := l.backend.Renew(ctx, s.holder.Owner, l.ttl)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("gpu lock renewal failed; will retry",
				logging.Error(err),
				logging.String(logging.FieldEventType, "gpu_lock_renew_failed"),
			)
			continue
		}
		if !ok {
			s.mu.Lock()
			s.lost = true
			s.mu.Unlock()
			lockLost.WithLabelValues(l.backend.Name()).Inc()
			logging.ErrorWithContext(s.logger, "gpu lock lease lost", "gpu_lock_lost",
				logging.String(logging.FieldErrorHint, "check for clock skew or a stalled process"))
			return
		}
	}
}

// Guard runs fn while holding the lock and releases it afterwards, including
// when fn panics. If the lease was lost while fn ran, a successful fn still
// yields an ErrLockTimeout-marked error.
func Guard(ctx context.Context, l *Lock, timeout time.Duration, fn func(context.Context) error) (err error) {
	lease, err := l.TryAcquire(ctx, timeout)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := lease.Release(); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}()
	if err := fn(ctx); err != nil {
		return err
	}
	if lease.Lost() {
		return services.Wrap(services.ErrLockTimeout, "gpu", "renew",
			"lease lost while the stage ran; another holder may have overlapped it", nil)
	}
	return nil
}
