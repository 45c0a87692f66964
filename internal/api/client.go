package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"clipforge/internal/transcription"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
	Kind    string
}

func (e *StatusError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("daemon returned %d (%s): %s", e.Code, e.Kind, e.Message)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.Code, e.Message)
}

// Client talks to the daemon's HTTP API.
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient builds a client for the daemon listening on bind ("host:port" or
// a full URL).
func NewClient(bind string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, fmt.Errorf("api client: empty address")
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("api client: %w", err)
	}
	// Waited submissions can run for as long as the pipeline does; callers
	// bound them with their context instead.
	return &Client{base: base, http: &http.Client{}}, nil
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (*DaemonStatus, error) {
	var resp DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, "", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TaskFilter narrows Tasks.
type TaskFilter struct {
	Owner  string
	Status string
	Kind   string
	Limit  int
}

// Tasks lists tasks most recent first.
func (c *Client) Tasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	query := url.Values{}
	if filter.Owner != "" {
		query.Set("user_id", filter.Owner)
	}
	if filter.Status != "" {
		query.Set("status", filter.Status)
	}
	if filter.Kind != "" {
		query.Set("kind", filter.Kind)
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/api/tasks"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var resp TaskListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// Task returns one task and, optionally, its history.
func (c *Client) Task(ctx context.Context, taskID string, history bool) (*TaskResponse, error) {
	path := "/api/tasks/" + url.PathEscape(taskID)
	if history {
		path += "?history=1"
	}
	var resp TaskResponse
	if err := c.do(ctx, http.MethodGet, path, nil, "", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TaskLog returns the raw contents of a task's log file.
func (c *Client) TaskLog(ctx context.Context, taskID string) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(taskID)+"/log", nil, "", &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Cancel asks the daemon to cancel a queued or running task.
func (c *Client) Cancel(ctx context.Context, taskID string) (*CancelResponse, error) {
	var resp CancelResponse
	if err := c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(taskID)+"/cancel", nil, "", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitVideo queues a URL for download and delivery.
func (c *Client) SubmitVideo(ctx context.Context, req SubmitVideoRequest) (*SubmitResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var resp SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/videos", bytes.NewReader(body), "application/json", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TranscriptionUpload describes a local file to transcribe.
type TranscriptionUpload struct {
	Path      string
	UserID    string
	RequestID string
	Options   transcription.Options
	Wait      bool
}

// SubmitTranscription streams a local file as a multipart upload.
func (c *Client) SubmitTranscription(ctx context.Context, upload TranscriptionUpload) (*SubmitResponse, error) {
	file, err := os.Open(upload.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUpload(writer, file, upload))
	}()

	var resp SubmitResponse
	err = c.do(ctx, http.MethodPost, "/api/transcriptions", pr, writer.FormDataContentType(), &resp)
	_ = pr.Close()
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func writeUpload(writer *multipart.Writer, file *os.File, upload TranscriptionUpload) error {
	fields := map[string]string{
		"user_id":    upload.UserID,
		"request_id": upload.RequestID,
		"language":   upload.Options.Language,
		"model":      upload.Options.Model,
		"precision":  upload.Options.Precision,
	}
	if upload.Options.BeamSize > 0 {
		fields["beam_size"] = strconv.Itoa(upload.Options.BeamSize)
	}
	if upload.Options.ChunkLength > 0 {
		fields["chunk_length"] = strconv.Itoa(upload.Options.ChunkLength)
	}
	if upload.Wait {
		fields["wait"] = "true"
	}
	for key, value := range fields {
		if value == "" {
			continue
		}
		if err := writer.WriteField(key, value); err != nil {
			return err
		}
	}
	part, err := writer.CreateFormFile("file", filepath.Base(upload.Path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	return writer.Close()
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	target, err := c.base.Parse(path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &payload) != nil || payload.Error == "" {
			payload.Error = strings.TrimSpace(string(raw))
		}
		return &StatusError{Code: resp.StatusCode, Message: payload.Error, Kind: payload.Kind}
	}
	switch dst := out.(type) {
	case nil:
		return nil
	case *bytes.Buffer:
		_, err = io.Copy(dst, resp.Body)
	default:
		err = json.NewDecoder(resp.Body).Decode(dst)
	}
	if err != nil {
		return fmt.Errorf("%s %s: decode response after %s: %w", method, path, time.Since(start).Round(time.Millisecond), err)
	}
	return nil
}
