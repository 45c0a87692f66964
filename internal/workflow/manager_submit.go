package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/google/uuid"

	"clipforge/internal/jobqueue"
	"clipforge/internal/logging"
	"clipforge/internal/queue"
	"clipforge/internal/source"
)

type admission struct {
	owner     string
	requestID string
	taskID    string
	kind      queue.Kind
}

func (m *Manager) admit(kind queue.Kind, owner, requestID string) (admission, error) {
	owner = strings.TrimSpace(owner)
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	if err := validateToken("owner", owner); err != nil {
		tasksRejected.WithLabelValues(string(kind), "invalid_request").Inc()
		return admission{}, err
	}
	if err := validateToken("request id", requestID); err != nil {
		tasksRejected.WithLabelValues(string(kind), "invalid_request").Inc()
		return admission{}, err
	}
	if err := m.checkDisk(kind); err != nil {
		tasksRejected.WithLabelValues(string(kind), "disk").Inc()
		return admission{}, err
	}
	return admission{owner: owner, requestID: requestID, taskID: TaskID(owner, requestID), kind: kind}, nil
}

// checkDisk refuses work when the working directory's filesystem has less
// free space than workflow.min_free_disk.
func (m *Manager) checkDisk(kind queue.Kind) error {
	minFree := m.cfg.Workflow.MinFreeDisk
	if minFree == 0 {
		return nil
	}
	dir := m.cfg.Paths.WorkDir
	if kind == queue.KindTranscription {
		dir = m.cfg.Paths.UploadDir
	}
	free, err := m.diskFree(dir)
	if err != nil {
		logging.WarnWithContext(m.logger, "free disk check failed; admitting task", "disk_check_failed",
			logging.String("path", dir),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "verify the working directory exists"),
		)
		return nil
	}
	if datasize.ByteSize(free) < minFree {
		return fmt.Errorf("%w: %s free on %s, need %s", ErrInsufficientDisk,
			datasize.ByteSize(free).HR(), dir, minFree.HR())
	}
	return nil
}

// SubmitVideo records a PENDING video task and queues it.
func (m *Manager) SubmitVideo(ctx context.Context, req VideoRequest) (*Submission, error) {
	adm, err := m.admit(queue.KindVideo, req.Owner, req.RequestID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.URL) == "" {
		tasksRejected.WithLabelValues(string(queue.KindVideo), "invalid_request").Inc()
		return nil, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	rawURL := req.URL
	return m.enqueue(ctx, m.videoQueue, adm, func(ctx context.Context, rc *runContext) ([]string, error) {
		return m.runVideo(ctx, rc, rawURL)
	})
}

// SubmitTranscription stores the upload, records a PENDING transcription task
// and queues it. Uploads with an extension outside the accepted set are
// refused with services.ErrUnsupportedFormat before any task is created.
func (m *Manager) SubmitTranscription(ctx context.Context, req TranscriptionRequest) (*Submission, error) {
	allowed := slices.Concat(m.cfg.Transcription.VideoExtensions, m.cfg.Transcription.AudioExtensions)
	if err := source.CheckExtension(req.FileName, allowed); err != nil {
		tasksRejected.WithLabelValues(string(queue.KindTranscription), "unsupported_format").Inc()
		return nil, err
	}
	if req.Body == nil {
		return nil, fmt.Errorf("%w: upload body is required", ErrInvalidRequest)
	}
	adm, err := m.admit(queue.KindTranscription, req.Owner, req.RequestID)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(m.cfg.Paths.UploadDir, adm.owner, adm.requestID)
	if _, statErr := os.Stat(dir); statErr == nil {
		return nil, fmt.Errorf("create task %s: %w", adm.taskID, queue.ErrTaskExists)
	}
	uploaded, err := source.Ingest(req.Body, dir, req.FileName, m.cfg.Workflow.MaxFilenameLength)
	if err != nil {
		return nil, err
	}
	opts := req.Options
	sub, err := m.enqueue(ctx, m.transcriptionQueue, adm, func(ctx context.Context, rc *runContext) ([]string, error) {
		return m.runTranscription(ctx, rc, uploaded, opts)
	})
	if err != nil && errors.Is(err, queue.ErrTaskExists) {
		_ = os.RemoveAll(dir)
	}
	return sub, err
}

// enqueue creates the PENDING record and submits the job. When the queue
// refuses the job the record is failed so it never lingers as PENDING.
func (m *Manager) enqueue(ctx context.Context, q *jobqueue.Queue, adm admission, pipeline pipelineFunc) (*Submission, error) {
	task, err := m.store.Create(ctx, queue.CreateParams{
		ID:     adm.taskID,
		Owner:  adm.owner,
		Kind:   adm.kind,
		LogRef: logging.TaskLogRef(adm.owner, adm.taskID),
	})
	if err != nil {
		return nil, err
	}

	handle, err := q.Submit(jobqueue.Job{
		ID: adm.taskID,
		Run: func(ctx context.Context) ([]string, error) {
			return m.execute(ctx, adm, pipeline)
		},
	})
	if err != nil {
		tasksRejected.WithLabelValues(string(adm.kind), "queue").Inc()
		m.failUnstarted(ctx, adm.taskID, "admission", err)
		return nil, err
	}

	m.logger.Info("task accepted",
		logging.String(logging.FieldTaskID, adm.taskID),
		logging.String(logging.FieldOwner, adm.owner),
		logging.String("kind", string(adm.kind)),
		logging.Int("queue_depth", q.Len()),
		logging.String(logging.FieldEventType, "task_accepted"),
	)
	return &Submission{Task: task, Handle: handle}, nil
}

// failUnstarted moves a task that never ran through RUNNING to FAILED.
func (m *Manager) failUnstarted(ctx context.Context, taskID, phase string, cause error) {
	ctx = context.WithoutCancel(ctx)
	message := phase + ": " + cause.Error()
	_, err := m.store.Transition(ctx, taskID, queue.StatusRunning, queue.TransitionOptions{})
	if err == nil {
		_, err = m.store.Transition(ctx, taskID, queue.StatusFailed, queue.TransitionOptions{ErrorMessage: message})
	}
	if err != nil {
		m.logger.Error("failed to record unstarted task",
			logging.String(logging.FieldTaskID, taskID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "task_record_failed"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
	}
}

// RunVideo submits a video task and waits for its artifacts.
func (m *Manager) RunVideo(ctx context.Context, req VideoRequest) (string, []string, error) {
	sub, err := m.SubmitVideo(ctx, req)
	if err != nil {
		return "", nil, err
	}
	artifacts, err := waitHandle(ctx, sub.Handle)
	return sub.Task.ID, artifacts, err
}

// RunTranscription submits a transcription task and waits for its artifacts.
func (m *Manager) RunTranscription(ctx context.Context, req TranscriptionRequest) (string, []string, error) {
	sub, err := m.SubmitTranscription(ctx, req)
	if err != nil {
		return "", nil, err
	}
	artifacts, err := waitHandle(ctx, sub.Handle)
	return sub.Task.ID, artifacts, err
}

func waitHandle(ctx context.Context, handle *jobqueue.Handle) ([]string, error) {
	result, err := handle.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return result.Artifacts, result.Err
}
