package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clipforge/internal/api"
	"clipforge/internal/config"
	"clipforge/internal/jobqueue"
	"clipforge/internal/logging"
	"clipforge/internal/queue"
	"clipforge/internal/services"
	"clipforge/internal/transcription"
	"clipforge/internal/workflow"
)

const maxJSONBody = 1 << 20

// workflowService is the part of workflow.Manager the API drives.
type workflowService interface {
	SubmitVideo(ctx context.Context, req workflow.VideoRequest) (*workflow.Submission, error)
	SubmitTranscription(ctx context.Context, req workflow.TranscriptionRequest) (*workflow.Submission, error)
	Cancel(taskID string) bool
}

type apiDeps struct {
	cfg      *config.Config
	workflow workflowService
	tasks    api.TaskReader
	status   func(context.Context) api.DaemonStatus
	logger   *slog.Logger
}

type apiServer struct {
	bind       string
	logger     *slog.Logger
	workflow   workflowService
	tasks      api.TaskReader
	taskSvc    *api.TaskService
	status     func(context.Context) api.DaemonStatus
	taskLogDir string

	handler http.Handler
	server  *http.Server

	mu       sync.Mutex
	listener net.Listener
}

func newAPIServer(deps apiDeps) *apiServer {
	srv := &apiServer{
		bind:       strings.TrimSpace(deps.cfg.Paths.APIBind),
		logger:     logging.NewComponentLogger(deps.logger, "api-server"),
		workflow:   deps.workflow,
		tasks:      deps.tasks,
		taskSvc:    api.NewTaskService(deps.tasks),
		status:     deps.status,
		taskLogDir: deps.cfg.TaskLogDir(),
	}
	srv.handler = srv.routes(deps.cfg.Workflow.SubmitRateLimit)
	srv.server = &http.Server{
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(submitLimit int) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/tasks", s.handleTasks)
		r.Get("/tasks/{id}", s.handleTask)
		r.Get("/tasks/{id}/log", s.handleTaskLog)
		r.Post("/tasks/{id}/cancel", s.handleCancel)

		r.Group(func(r chi.Router) {
			if submitLimit > 0 {
				r.Use(rateLimit(submitLimit, time.Minute))
			}
			r.Post("/videos", s.handleSubmitVideo)
			r.Post("/transcriptions", s.handleSubmitTranscription)
		})
	})
	return r
}

// observe logs each request and records it under its route pattern.
func (s *apiServer) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := services.WithScope(r.Context(), services.Scope{RequestID: middleware.GetReqID(r.Context())})
		r = r.WithContext(ctx)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(code)).Inc()
		logging.WithContext(ctx, s.logger).Debug("http request",
			logging.String("method", r.Method),
			logging.String("route", route),
			logging.Int("status", code),
			logging.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *apiServer) listen() error {
	if s.bind == "" {
		return errors.New("api listen: paths.api_bind is empty")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// serve blocks until ctx is done or the server fails.
func (s *apiServer) serve(ctx context.Context) error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.New("api serve: not listening")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		return nil
	}
}

func (s *apiServer) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status(r.Context()))
}

func (s *apiServer) handleTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts := queue.ListOptions{
		Owner: strings.TrimSpace(query.Get("user_id")),
		Kind:  queue.Kind(strings.TrimSpace(query.Get("kind"))),
	}
	if value := strings.TrimSpace(query.Get("status")); value != "" {
		status, ok := queue.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "", "unknown status "+value)
			return
		}
		opts.Status = status
	}
	if value := strings.TrimSpace(query.Get("limit")); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "", "invalid limit "+value)
			return
		}
		opts.Limit = limit
	}

	tasks, err := s.taskSvc.List(r.Context(), opts)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.TaskListResponse{Tasks: tasks})
}

func (s *apiServer) handleTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := s.taskIDParam(w, r)
	if !ok {
		return
	}
	history := isTruthy(r.URL.Query().Get("history"))
	resp, err := s.taskSvc.Describe(r.Context(), taskID, history)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	if resp == nil {
		s.writeError(w, http.StatusNotFound, "", "task not found")
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleTaskLog(w http.ResponseWriter, r *http.Request) {
	taskID, ok := s.taskIDParam(w, r)
	if !ok {
		return
	}
	task, err := s.tasks.Latest(r.Context(), taskID)
	if errors.Is(err, queue.ErrTaskNotFound) {
		s.writeError(w, http.StatusNotFound, "", "task not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	path, err := logging.ResolveTaskLog(s.taskLogDir, task.LogRef)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "", "task has no log")
		return
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.writeError(w, http.StatusNotFound, "", "task log not written yet")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	defer file.Close()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := io.Copy(w, file); err != nil {
		s.logger.Warn("task log copy interrupted", logging.String(logging.FieldTaskID, taskID), logging.Error(err))
	}
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	taskID, ok := s.taskIDParam(w, r)
	if !ok {
		return
	}
	if s.workflow.Cancel(taskID) {
		s.logger.Info("task cancellation requested",
			logging.String(logging.FieldTaskID, taskID),
			logging.String(logging.FieldEventType, "task_cancel_requested"),
		)
		s.writeJSON(w, http.StatusOK, api.CancelResponse{TaskID: taskID, Cancelled: true})
		return
	}
	if _, err := s.tasks.Latest(r.Context(), taskID); errors.Is(err, queue.ErrTaskNotFound) {
		s.writeError(w, http.StatusNotFound, "", "task not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.CancelResponse{TaskID: taskID, Cancelled: false})
}

func (s *apiServer) handleSubmitVideo(w http.ResponseWriter, r *http.Request) {
	var body api.SubmitVideoRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := decoder.Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return
	}
	sub, err := s.workflow.SubmitVideo(r.Context(), workflow.VideoRequest{
		URL:       body.URL,
		Owner:     body.UserID,
		RequestID: body.RequestID,
	})
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}
	s.respondSubmission(w, r, sub, body.Wait)
}

// handleSubmitTranscription streams a multipart upload. Form fields must
// precede the "file" part; fields after it are ignored.
func (s *apiServer) handleSubmitTranscription(w http.ResponseWriter, r *http.Request) {
	reader, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "expected multipart/form-data: "+err.Error())
		return
	}

	fields := map[string]string{}
	var file *multipart.Part
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid_request", "read upload: "+err.Error())
			return
		}
		if part.FormName() == "file" {
			file = part
			break
		}
		value, err := io.ReadAll(io.LimitReader(part, 4096))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid_request", "read field "+part.FormName()+": "+err.Error())
			return
		}
		fields[part.FormName()] = strings.TrimSpace(string(value))
	}
	if file == nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "missing file part")
		return
	}

	opts, err := transcriptionOptions(fields)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sub, err := s.workflow.SubmitTranscription(r.Context(), workflow.TranscriptionRequest{
		Owner:     fields["user_id"],
		RequestID: fields["request_id"],
		FileName:  file.FileName(),
		Body:      file,
		Options:   opts,
	})
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}
	s.respondSubmission(w, r, sub, isTruthy(fields["wait"]))
}

func transcriptionOptions(fields map[string]string) (transcription.Options, error) {
	opts := transcription.Options{
		Language:  fields["language"],
		Model:     fields["model"],
		Precision: fields["precision"],
	}
	for key, dst := range map[string]*int{"beam_size": &opts.BeamSize, "chunk_length": &opts.ChunkLength} {
		value := fields[key]
		if value == "" {
			continue
		}
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 {
			return opts, fmt.Errorf("invalid %s %q", key, value)
		}
		*dst = parsed
	}
	return opts, nil
}

// respondSubmission acknowledges an accepted task, or with wait set holds the
// response until the task finishes.
func (s *apiServer) respondSubmission(w http.ResponseWriter, r *http.Request, sub *workflow.Submission, wait bool) {
	resp := api.SubmitResponse{TaskID: sub.Task.ID, Status: string(sub.Task.Status)}
	if !wait {
		s.writeJSON(w, http.StatusAccepted, resp)
		return
	}
	result, err := sub.Handle.Wait(r.Context())
	if err != nil {
		// The client went away; the task keeps running.
		return
	}
	if result.Err != nil {
		resp.Status = string(queue.StatusFailed)
		resp.Error = result.Err.Error()
	} else {
		resp.Status = string(queue.StatusCompleted)
		resp.Artifacts = result.Artifacts
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) writeSubmitError(w http.ResponseWriter, err error) {
	status, kind := classifySubmitError(err)
	if status >= http.StatusInternalServerError {
		logging.WarnWithContext(s.logger, "submission refused", "submission_refused",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, kind),
		)
	}
	s.writeError(w, status, kind, err.Error())
}

func classifySubmitError(err error) (int, string) {
	switch {
	case errors.Is(err, workflow.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, services.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, "unsupported_format"
	case errors.Is(err, queue.ErrTaskExists):
		return http.StatusConflict, "task_exists"
	case errors.Is(err, workflow.ErrInsufficientDisk):
		return http.StatusInsufficientStorage, "insufficient_disk"
	case errors.Is(err, jobqueue.ErrQueueFull):
		return http.StatusServiceUnavailable, "queue_full"
	case errors.Is(err, jobqueue.ErrQueueClosed):
		return http.StatusServiceUnavailable, "queue_closed"
	default:
		return http.StatusInternalServerError, services.Kind(err)
	}
}

func (s *apiServer) taskIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	taskID, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil || strings.TrimSpace(taskID) == "" {
		s.writeError(w, http.StatusBadRequest, "", "invalid task id")
		return "", false
	}
	return taskID, true
}

func isTruthy(value string) bool {
	value = strings.TrimSpace(value)
	return value == "1" || strings.EqualFold(value, "true") || strings.EqualFold(value, "yes")
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, kind, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message, Kind: kind})
}
