package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"clipforge/internal/config"
	"clipforge/internal/encoding"
	"clipforge/internal/gpulock"
	"clipforge/internal/jobqueue"
	"clipforge/internal/logging"
	"clipforge/internal/probe"
	"clipforge/internal/queue"
	"clipforge/internal/services/command"
	"clipforge/internal/source"
	"clipforge/internal/transcription"
)

// DiskFreeFunc reports free bytes on the filesystem holding path.
type DiskFreeFunc func(path string) (uint64, error)

// Deps are the collaborators a Manager is built from.
type Deps struct {
	Config *config.Config
	Store  *queue.Store
	Lock   *gpulock.Lock
	Runner command.Runner
	Logger *slog.Logger
	// DiskFree defaults to a gopsutil usage query.
	DiskFree DiskFreeFunc
}

// Manager admits tasks and executes them on the pipeline queues.
type Manager struct {
	cfg      *config.Config
	store    *queue.Store
	lock     *gpulock.Lock
	logger   *slog.Logger
	diskFree DiskFreeFunc

	prober      *probe.Adapter
	downloader  *source.Downloader
	transcoder  *encoding.Transcoder
	splitter    *encoding.Splitter
	extractor   *transcription.AudioExtractor
	transcriber *transcription.Whisper

	videoQueue         *jobqueue.Queue
	transcriptionQueue *jobqueue.Queue

	mu      sync.RWMutex
	running bool
	lastErr error
}

// NewManager wires the pipeline stages and queues.
func NewManager(deps Deps) (*Manager, error) {
	if deps.Config == nil || deps.Store == nil || deps.Lock == nil {
		return nil, errors.New("workflow: config, store and lock are required")
	}
	runner := deps.Runner
	if runner == nil {
		runner = command.NewExecRunner(time.Duration(deps.Config.Tools.ToolTimeoutSeconds) * time.Second)
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	diskFree := deps.DiskFree
	if diskFree == nil {
		diskFree = gopsutilDiskFree
	}
	cfg := deps.Config

	transcoder, err := encoding.NewTranscoder(cfg, runner, logger)
	if err != nil {
		return nil, fmt.Errorf("workflow: %w", err)
	}
	splitter, err := encoding.NewSplitter(cfg, runner, logger)
	if err != nil {
		return nil, fmt.Errorf("workflow: %w", err)
	}
	transcriber, err := transcription.NewWhisper(cfg, runner, logger)
	if err != nil {
		return nil, fmt.Errorf("workflow: %w", err)
	}
	prober := probe.NewAdapter(cfg, runner, logger)

	m := &Manager{
		cfg:                cfg,
		store:              deps.Store,
		lock:               deps.Lock,
		logger:             logging.NewComponentLogger(logger, "workflow"),
		diskFree:           diskFree,
		prober:             prober,
		downloader:         source.NewDownloader(cfg, runner, logger),
		transcoder:         transcoder,
		splitter:           splitter,
		extractor:          transcription.NewAudioExtractor(cfg, runner, prober, logger),
		transcriber:        transcriber,
		videoQueue:         jobqueue.New(string(queue.KindVideo), cfg.Workflow.QueueCapacity, cfg.Workflow.Workers, logger),
		transcriptionQueue: jobqueue.New(string(queue.KindTranscription), cfg.Workflow.QueueCapacity, cfg.Workflow.Workers, logger),
	}
	m.videoQueue.OnAbandon(m.abandoned)
	m.transcriptionQueue.OnAbandon(m.abandoned)
	return m, nil
}

// abandoned fails a task whose job was still queued at shutdown.
func (m *Manager) abandoned(taskID string) {
	m.failUnstarted(context.Background(), taskID, "shutdown", jobqueue.ErrQueueClosed)
}

func gopsutilDiskFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// Start launches both pipeline queues.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	if err := m.videoQueue.Start(ctx); err != nil {
		return fmt.Errorf("start video queue: %w", err)
	}
	if err := m.transcriptionQueue.Start(ctx); err != nil {
		m.videoQueue.Stop()
		return fmt.Errorf("start transcription queue: %w", err)
	}
	m.running = true
	return nil
}

// Stop cancels running tasks and waits for the queues to drain. Tasks that
// never started are recorded as FAILED.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, q := range []*jobqueue.Queue{m.videoQueue, m.transcriptionQueue} {
		wg.Go(q.Stop)
	}
	wg.Wait()
}

// Cancel cancels a queued or running task. It reports whether a job with
// that id was found in either queue.
func (m *Manager) Cancel(taskID string) bool {
	if m.videoQueue.Cancel(taskID) {
		return true
	}
	return m.transcriptionQueue.Cancel(taskID)
}

// Task returns the latest recorded state of a task.
func (m *Manager) Task(ctx context.Context, taskID string) (*queue.Task, error) {
	return m.store.Latest(ctx, taskID)
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
