package workflow

import (
	"context"

	"clipforge/internal/gpulock"
	"clipforge/internal/jobqueue"
	"clipforge/internal/logging"
	"clipforge/internal/queue"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool             `json:"running"`
	LastError   string           `json:"last_error,omitempty"`
	Queues      []jobqueue.Stats `json:"queues"`
	Tasks       queue.Stats      `json:"tasks"`
	LockBackend string           `json:"lock_backend"`
	LockHolder  *gpulock.Holder  `json:"lock_holder,omitempty"`
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	m.mu.RUnlock()

	summary := StatusSummary{
		Running:     running,
		Queues:      []jobqueue.Stats{m.videoQueue.Stats(), m.transcriptionQueue.Stats()},
		LockBackend: m.lock.Backend(),
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read task stats", logging.Error(err))
	}
	summary.Tasks = stats

	holder, held, err := m.lock.Current(ctx)
	if err != nil {
		m.logger.Warn("failed to read gpu lock holder", logging.Error(err))
	} else if held {
		summary.LockHolder = &holder
	}
	return summary
}
