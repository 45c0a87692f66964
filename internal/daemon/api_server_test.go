package daemon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipforge/internal/api"
	"clipforge/internal/config"
	"clipforge/internal/jobqueue"
	"clipforge/internal/logging"
	"clipforge/internal/queue"
	"clipforge/internal/services"
	"clipforge/internal/testsupport"
	"clipforge/internal/transcription"
	"clipforge/internal/workflow"
)

type recordedUpload struct {
	owner     string
	requestID string
	fileName  string
	body      []byte
	options   transcription.Options
}

// stubWorkflow records tasks in a real store and runs them on a real job
// queue with a configurable run function.
type stubWorkflow struct {
	store *queue.Store
	jobs  *jobqueue.Queue
	run   jobqueue.RunFunc
	err   error

	mu     sync.Mutex
	upload *recordedUpload
}

func newStubWorkflow(t *testing.T, store *queue.Store) *stubWorkflow {
	t.Helper()
	jobs := jobqueue.New("stub", 4, 2, logging.NewNop())
	if err := jobs.Start(context.Background()); err != nil {
		t.Fatalf("jobqueue start: %v", err)
	}
	t.Cleanup(jobs.Stop)
	return &stubWorkflow{
		store: store,
		jobs:  jobs,
		run: func(context.Context) ([]string, error) {
			return []string{"/data/out.mp4"}, nil
		},
	}
}

func (s *stubWorkflow) submit(ctx context.Context, kind queue.Kind, owner, requestID string) (*workflow.Submission, error) {
	if s.err != nil {
		return nil, s.err
	}
	id := workflow.TaskID(owner, requestID)
	task, err := s.store.Create(ctx, queue.CreateParams{ID: id, Owner: owner, Kind: kind, LogRef: logging.TaskLogRef(owner, id)})
	if err != nil {
		return nil, err
	}
	handle, err := s.jobs.Submit(jobqueue.Job{ID: id, Run: s.run})
	if err != nil {
		return nil, err
	}
	return &workflow.Submission{Task: task, Handle: handle}, nil
}

func (s *stubWorkflow) SubmitVideo(ctx context.Context, req workflow.VideoRequest) (*workflow.Submission, error) {
	return s.submit(ctx, queue.KindVideo, req.Owner, req.RequestID)
}

func (s *stubWorkflow) SubmitTranscription(ctx context.Context, req workflow.TranscriptionRequest) (*workflow.Submission, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.upload = &recordedUpload{
		owner:     req.Owner,
		requestID: req.RequestID,
		fileName:  req.FileName,
		body:      body,
		options:   req.Options,
	}
	s.mu.Unlock()
	return s.submit(ctx, queue.KindTranscription, req.Owner, req.RequestID)
}

func (s *stubWorkflow) Cancel(taskID string) bool {
	return s.jobs.Cancel(taskID)
}

func (s *stubWorkflow) lastUpload() *recordedUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upload
}

type apiFixture struct {
	cfg      *config.Config
	store    *queue.Store
	workflow *stubWorkflow
	server   *apiServer
	http     *httptest.Server
}

func newAPIFixture(t *testing.T, mutate func(*config.Config)) *apiFixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	store := testsupport.MustOpenStore(t, cfg)
	wf := newStubWorkflow(t, store)
	srv := newAPIServer(apiDeps{
		cfg:      cfg,
		workflow: wf,
		tasks:    store,
		status: func(context.Context) api.DaemonStatus {
			return api.DaemonStatus{Running: true, PID: 4242, QueueDBPath: cfg.QueueDBPath()}
		},
		logger: logging.NewNop(),
	})
	ts := httptest.NewServer(srv.handler)
	t.Cleanup(ts.Close)
	return &apiFixture{cfg: cfg, store: store, workflow: wf, server: srv, http: ts}
}

func (f *apiFixture) client(t *testing.T) *api.Client {
	t.Helper()
	client, err := api.NewClient(f.http.URL)
	require.NoError(t, err)
	return client
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStatusAndHealth(t *testing.T) {
	fx := newAPIFixture(t, nil)
	ctx := testContext(t)

	status, err := fx.client(t).Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, 4242, status.PID)

	resp, err := http.Get(fx.http.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestSubmitVideoWaitReturnsArtifacts(t *testing.T) {
	fx := newAPIFixture(t, nil)
	ctx := testContext(t)
	client := fx.client(t)

	resp, err := client.SubmitVideo(ctx, api.SubmitVideoRequest{URL: "https://example.com/v", UserID: "alice", RequestID: "r1", Wait: true})
	require.NoError(t, err)
	assert.Equal(t, "alice:r1", resp.TaskID)
	assert.Equal(t, "COMPLETED", resp.Status)
	assert.Equal(t, []string{"/data/out.mp4"}, resp.Artifacts)
	assert.Empty(t, resp.Error)

	tasks, err := client.Tasks(ctx, api.TaskFilter{Owner: "alice", Kind: "video"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "alice:r1", tasks[0].ID)

	detail, err := client.Task(ctx, "alice:r1", true)
	require.NoError(t, err)
	assert.Equal(t, "alice_r1.log", detail.Task.LogRef)
	require.Len(t, detail.History, 1)
	assert.Equal(t, "PENDING", detail.History[0].Status)
}

func TestSubmitVideoWaitReportsFailure(t *testing.T) {
	fx := newAPIFixture(t, nil)
	fx.workflow.run = func(context.Context) ([]string, error) {
		return nil, services.Wrap(services.ErrTranscode, "transcode", "ffmpeg", "encoder crashed", errors.New("exit status 1"))
	}

	resp, err := fx.client(t).SubmitVideo(testContext(t), api.SubmitVideoRequest{URL: "https://example.com/v", UserID: "bob", RequestID: "r2", Wait: true})
	require.NoError(t, err)
	assert.Equal(t, "FAILED", resp.Status)
	assert.Contains(t, resp.Error, "encoder crashed")
	assert.Empty(t, resp.Artifacts)
}

func TestSubmitVideoWithoutWaitIsAccepted(t *testing.T) {
	fx := newAPIFixture(t, nil)
	body := strings.NewReader(`{"url":"https://example.com/v","user_id":"alice","request_id":"r3"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/videos", body)
	w := httptest.NewRecorder()
	fx.server.handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"status":"PENDING"`)
}

func TestSubmitErrorsMapToStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
		kind string
	}{
		{"invalid", fmt.Errorf("%w: user_id", workflow.ErrInvalidRequest), http.StatusBadRequest, "invalid_request"},
		{"unsupported", services.Wrap(services.ErrUnsupportedFormat, "upload", "classify", "not media", nil), http.StatusUnsupportedMediaType, "unsupported_format"},
		{"duplicate", fmt.Errorf("create: %w", queue.ErrTaskExists), http.StatusConflict, "task_exists"},
		{"disk", fmt.Errorf("%w: 1 GB free", workflow.ErrInsufficientDisk), http.StatusInsufficientStorage, "insufficient_disk"},
		{"full", fmt.Errorf("%w: 4 pending", jobqueue.ErrQueueFull), http.StatusServiceUnavailable, "queue_full"},
		{"closed", jobqueue.ErrQueueClosed, http.StatusServiceUnavailable, "queue_closed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newAPIFixture(t, nil)
			fx.workflow.err = tc.err

			_, err := fx.client(t).SubmitVideo(testContext(t), api.SubmitVideoRequest{URL: "https://example.com", UserID: "a", RequestID: "b"})
			var statusErr *api.StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tc.code, statusErr.Code)
			assert.Equal(t, tc.kind, statusErr.Kind)
		})
	}
}

func TestSubmitVideoRejectsMalformedJSON(t *testing.T) {
	fx := newAPIFixture(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/videos", strings.NewReader(`{"url":`))
	w := httptest.NewRecorder()
	fx.server.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitTranscriptionStreamsUpload(t *testing.T) {
	fx := newAPIFixture(t, nil)
	path := filepath.Join(t.TempDir(), "talk.mp4")
	require.NoError(t, os.WriteFile(path, []byte("media-bytes"), 0o644))

	resp, err := fx.client(t).SubmitTranscription(testContext(t), api.TranscriptionUpload{
		Path:      path,
		UserID:    "carol",
		RequestID: "t1",
		Options:   transcription.Options{Language: "de", BeamSize: 3, ChunkLength: 20},
	})
	require.NoError(t, err)
	assert.Equal(t, "carol:t1", resp.TaskID)
	assert.Equal(t, "PENDING", resp.Status)

	upload := fx.workflow.lastUpload()
	require.NotNil(t, upload)
	assert.Equal(t, "carol", upload.owner)
	assert.Equal(t, "t1", upload.requestID)
	assert.Equal(t, "talk.mp4", upload.fileName)
	assert.Equal(t, "media-bytes", string(upload.body))
	assert.Equal(t, transcription.Options{Language: "de", BeamSize: 3, ChunkLength: 20}, upload.options)
}

func TestSubmitTranscriptionRequiresFilePart(t *testing.T) {
	fx := newAPIFixture(t, nil)
	body := "--b\r\nContent-Disposition: form-data; name=\"user_id\"\r\n\r\ncarol\r\n--b--\r\n"
	req := httptest.NewRequest(http.MethodPost, "/api/transcriptions", strings.NewReader(body))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=b")
	w := httptest.NewRecorder()
	fx.server.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "missing file part")
	assert.Nil(t, fx.workflow.lastUpload())
}

func TestTranscriptionOptionsRejectsBadNumbers(t *testing.T) {
	_, err := transcriptionOptions(map[string]string{"beam_size": "many"})
	assert.Error(t, err)

	opts, err := transcriptionOptions(map[string]string{"model": "large-v3", "chunk_length": "15"})
	require.NoError(t, err)
	assert.Equal(t, transcription.Options{Model: "large-v3", ChunkLength: 15}, opts)
}

func TestCancelTask(t *testing.T) {
	fx := newAPIFixture(t, nil)
	ctx := testContext(t)
	started := make(chan struct{})
	fx.workflow.run = func(ctx context.Context) ([]string, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	client := fx.client(t)

	_, err := client.SubmitVideo(ctx, api.SubmitVideoRequest{URL: "https://example.com", UserID: "dave", RequestID: "long"})
	require.NoError(t, err)
	<-started

	resp, err := client.Cancel(ctx, "dave:long")
	require.NoError(t, err)
	assert.True(t, resp.Cancelled)

	_, err = client.Cancel(ctx, "dave:missing")
	var statusErr *api.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)

	testsupport.NewTask(t, fx.store, "dave:done", "dave")
	resp, err = client.Cancel(ctx, "dave:done")
	require.NoError(t, err)
	assert.False(t, resp.Cancelled)
}

func TestTaskLogServed(t *testing.T) {
	fx := newAPIFixture(t, nil)
	ctx := testContext(t)
	client := fx.client(t)

	_, err := fx.store.Create(ctx, queue.CreateParams{ID: "erin:x", Owner: "erin", Kind: queue.KindVideo, LogRef: "erin_x.log"})
	require.NoError(t, err)

	_, err = client.TaskLog(ctx, "erin:x")
	var statusErr *api.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)

	require.NoError(t, os.MkdirAll(fx.cfg.TaskLogDir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(fx.cfg.TaskLogDir(), "erin_x.log"), []byte("stage started\n"), 0o644))
	content, err := client.TaskLog(ctx, "erin:x")
	require.NoError(t, err)
	assert.Equal(t, "stage started\n", string(content))

	_, err = client.TaskLog(ctx, "erin:unknown")
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
}

func TestTaskListValidatesQuery(t *testing.T) {
	fx := newAPIFixture(t, nil)
	for _, target := range []string{"/api/tasks?status=bogus", "/api/tasks?limit=-3", "/api/tasks?limit=ten"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		w := httptest.NewRecorder()
		fx.server.handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/nobody:nothing", nil)
	w := httptest.NewRecorder()
	fx.server.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmissionRateLimit(t *testing.T) {
	fx := newAPIFixture(t, func(cfg *config.Config) { cfg.Workflow.SubmitRateLimit = 2 })
	before := counterValue(t, submissionsThrottled)

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodPost, "/api/videos", bytes.NewReader([]byte(`{"url":`)))
		w := httptest.NewRecorder()
		fx.server.handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			assert.Equal(t, "60", w.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{http.StatusBadRequest, http.StatusBadRequest, http.StatusTooManyRequests}, codes)
	assert.Equal(t, before+1, counterValue(t, submissionsThrottled))

	// Reads are not throttled.
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	fx.server.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	fx := newAPIFixture(t, nil)
	resp, err := http.Get(fx.http.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(fx.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `clipforge_http_requests_total{code="204",method="GET",route="/healthz"}`)
}

func TestAPIServerListenServeClose(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	srv := newAPIServer(apiDeps{
		cfg:      cfg,
		workflow: newStubWorkflow(t, store),
		tasks:    store,
		status:   func(context.Context) api.DaemonStatus { return api.DaemonStatus{Running: true} },
		logger:   logging.NewNop(),
	})
	require.Empty(t, srv.addr())
	require.NoError(t, srv.listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.serve(ctx) }()

	client, err := api.NewClient(srv.addr())
	require.NoError(t, err)
	status, err := client.Status(testContext(t))
	require.NoError(t, err)
	assert.True(t, status.Running)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
	srv.close()
	assert.Empty(t, srv.addr())
}

func counterValue(t *testing.T, counter interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, counter.Write(&metric))
	return metric.GetCounter().GetValue()
}
