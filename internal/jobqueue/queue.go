package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"clipforge/internal/logging"
	"clipforge/internal/services"
)

type entry struct {
	job       Job
	handle    *Handle
	ctx       context.Context
	cancel    context.CancelFunc
	submitted time.Time
	running   bool
}

// Queue is a FIFO job queue served by a bounded worker pool.
type Queue struct {
	name     string
	capacity int
	workers  int
	logger   *slog.Logger

	mu       sync.Mutex
	pending  []*entry
	jobs     map[string]*entry
	notify   chan struct{}
	slots    chan struct{}
	baseCtx  context.Context
	stop     context.CancelFunc
	started  bool
	closed   bool
	abandon  func(id string)
	stats    Stats
	wg       sync.WaitGroup
	dispatch sync.WaitGroup
}

// Stats is a point-in-time view of a queue.
type Stats struct {
	Name      string `json:"name"`
	Workers   int    `json:"workers"`
	Capacity  int    `json:"capacity"`
	Pending   int    `json:"pending"`
	Running   int    `json:"running"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

// New builds a stopped queue. capacity bounds the pending backlog and workers
// bounds concurrent jobs; non-positive values fall back to 1.
func New(name string, capacity, workers int, logger *slog.Logger) *Queue {
	capacity = max(capacity, 1)
	workers = max(workers, 1)
	return &Queue{
		name:     name,
		capacity: capacity,
		workers:  workers,
		logger:   logging.NewComponentLogger(logger, "jobqueue").With(logging.String("queue", name)),
		jobs:     make(map[string]*entry),
		notify:   make(chan struct{}, 1),
		slots:    make(chan struct{}, workers),
		baseCtx:  context.Background(),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// OnAbandon registers fn to run for each job Stop drops unstarted, before the
// job's handle is finished.
func (q *Queue) OnAbandon(fn func(id string)) {
	q.mu.Lock()
	q.abandon = fn
	q.mu.Unlock()
}

// Start launches the dispatcher. Jobs run with contexts derived from ctx.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if q.started {
		return fmt.Errorf("job queue %s already started", q.name)
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.baseCtx = runCtx
	q.stop = cancel
	q.started = true
	for _, e := range q.pending {
		q.rebind(runCtx, e)
	}

	q.dispatch.Add(1)
	go q.dispatchLoop(runCtx)
	q.logger.Info("job queue started",
		logging.Int("workers", q.workers),
		logging.Int("capacity", q.capacity),
		logging.String(logging.FieldEventType, "queue_started"),
	)
	return nil
}

// rebind moves a job submitted before Start onto the run context, keeping an
// earlier cancellation.
func (q *Queue) rebind(parent context.Context, e *entry) {
	cancelled := e.ctx.Err() != nil
	e.cancel()
	e.ctx, e.cancel = context.WithCancel(parent)
	if cancelled {
		e.cancel()
	}
}

// Stop refuses new submissions, cancels running jobs, waits for them to return
// and fails every job still pending with ErrQueueClosed. The OnAbandon hook
// sees each pending job first.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	stop := q.stop
	q.mu.Unlock()

	if stop != nil {
		stop()
	}
	q.dispatch.Wait()
	q.wg.Wait()

	q.mu.Lock()
	abandoned := q.pending
	q.pending = nil
	for _, e := range abandoned {
		delete(q.jobs, e.job.ID)
		if e.cancel != nil {
			e.cancel()
		}
	}
	q.stats.Pending = 0
	queueDepth.WithLabelValues(q.name).Set(0)
	abandon := q.abandon
	q.mu.Unlock()

	for _, e := range abandoned {
		if abandon != nil {
			abandon(e.job.ID)
		}
		e.handle.finish(Result{Err: ErrQueueClosed})
	}
	if len(abandoned) > 0 {
		logging.WarnWithContext(q.logger, "job queue stopped with pending jobs", "queue_abandoned",
			logging.Int("pending", len(abandoned)),
			logging.String(logging.FieldImpact, "pending jobs were not started"),
		)
	}
	q.logger.Info("job queue stopped", logging.String(logging.FieldEventType, "queue_stopped"))
}

// Submit enqueues job and returns its handle without waiting.
func (q *Queue) Submit(job Job) (*Handle, error) {
	job.ID = strings.TrimSpace(job.ID)
	if job.ID == "" {
		return nil, errors.New("submit job: empty id")
	}
	if job.Run == nil {
		return nil, fmt.Errorf("submit job %s: nil run func", job.ID)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	if _, exists := q.jobs[job.ID]; exists {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}
	if len(q.pending) >= q.capacity {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %d pending", ErrQueueFull, len(q.pending))
	}
	ctx, cancel := context.WithCancel(q.baseCtx)
	e := &entry{
		job:       job,
		handle:    newHandle(job.ID),
		ctx:       ctx,
		cancel:    cancel,
		submitted: time.Now(),
	}
	q.pending = append(q.pending, e)
	q.jobs[job.ID] = e
	q.stats.Pending = len(q.pending)
	queueDepth.WithLabelValues(q.name).Set(float64(len(q.pending)))
	q.mu.Unlock()

	q.signal()
	q.logger.Debug("job submitted",
		logging.String(logging.FieldTaskID, job.ID),
		logging.String(logging.FieldEventType, "job_submitted"),
	)
	return e.handle, nil
}

// SubmitAndWait submits job and blocks until it finishes. When ctx ends first
// the job keeps running and ctx.Err() is returned.
func (q *Queue) SubmitAndWait(ctx context.Context, job Job) ([]string, error) {
	handle, err := q.Submit(job)
	if err != nil {
		return nil, err
	}
	result, err := handle.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return result.Artifacts, result.Err
}

// Cancel cancels a pending or running job. A pending job leaves the backlog
// and runs at once with a cancelled context. It reports whether the id was
// known.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	e, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return false
	}
	e.cancel()
	if e.running || !q.started || q.closed {
		q.mu.Unlock()
		return true
	}
	q.removePending(e)
	e.running = true
	q.stats.Running++
	q.wg.Add(1)
	q.mu.Unlock()

	q.logger.Info("pending job cancelled",
		logging.String(logging.FieldTaskID, id),
		logging.String(logging.FieldEventType, "job_cancelled"),
	)
	go q.execute(e, false)
	return true
}

// Stats returns current counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := q.stats
	stats.Name = q.name
	stats.Workers = q.workers
	stats.Capacity = q.capacity
	return stats
}

// Len returns the number of pending jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) removePending(target *entry) {
	for i, e := range q.pending {
		if e == target {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	q.stats.Pending = len(q.pending)
	queueDepth.WithLabelValues(q.name).Set(float64(len(q.pending)))
}

func (q *Queue) dispatchLoop(ctx context.Context) {
	defer q.dispatch.Done()
	for {
		select {
		case q.slots <- struct{}{}:
		case <-ctx.Done():
			return
		}

		e := q.next(ctx)
		if e == nil {
			<-q.slots
			return
		}
		queueWaitSeconds.WithLabelValues(q.name).Observe(time.Since(e.submitted).Seconds())
		go q.execute(e, true)
	}
}

// next blocks until a pending job exists or ctx is done. The returned entry is
// already marked running and counted in the worker wait group.
func (q *Queue) next(ctx context.Context) *entry {
	for {
		if ctx.Err() != nil {
			return nil
		}
		q.mu.Lock()
		if len(q.pending) > 0 {
			e := q.pending[0]
			q.removePending(e)
			e.running = true
			q.stats.Running++
			q.wg.Add(1)
			q.mu.Unlock()
			return e
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil
		}
	}
}

func (q *Queue) execute(e *entry, holdsSlot bool) {
	defer q.wg.Done()
	if holdsSlot {
		defer func() { <-q.slots }()
	}
	queueRunning.WithLabelValues(q.name).Inc()
	defer queueRunning.WithLabelValues(q.name).Dec()

	result := q.run(e)
	e.cancel()

	outcome := "completed"
	q.mu.Lock()
	q.stats.Running--
	if result.Err != nil {
		q.stats.Failed++
		outcome = "failed"
		if errors.Is(result.Err, context.Canceled) || errors.Is(result.Err, services.ErrCancelled) {
			outcome = "cancelled"
		}
	} else {
		q.stats.Completed++
	}
	delete(q.jobs, e.job.ID)
	q.mu.Unlock()

	jobsFinished.WithLabelValues(q.name, outcome).Inc()
	e.handle.finish(result)
}

func (q *Queue) run(e *entry) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("job panicked",
				logging.String(logging.FieldTaskID, e.job.ID),
				logging.Any("panic", r),
				logging.String(logging.FieldEventType, "job_panic"),
			)
			result = Result{Err: fmt.Errorf("job %s panicked: %v", e.job.ID, r)}
		}
	}()
	artifacts, err := e.job.Run(e.ctx)
	return Result{Artifacts: artifacts, Err: err}
}
