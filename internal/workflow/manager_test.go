package workflow_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"clipforge/internal/jobqueue"
	"clipforge/internal/queue"
	"clipforge/internal/services"
	"clipforge/internal/testsupport"
	"clipforge/internal/workflow"
)

func TestVideoPipelineTranscodesAndSplits(t *testing.T) {
	media := newFakeMedia()
	h := newHarness(t, media, nil, testsupport.WithSizeCeiling(1000))

	taskID, artifacts, err := h.manager.RunVideo(waitCtx(t), workflow.VideoRequest{
		URL:       "example.com/watch?v=abc",
		Owner:     "alice",
		RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("RunVideo failed: %v", err)
	}
	if taskID != "alice:req-1" {
		t.Fatalf("task id = %q", taskID)
	}

	dir := filepath.Join(h.cfg.Paths.WorkDir, "alice", "req-1")
	// 60s at 2500 bytes against a 1000 byte ceiling: 24s segments, 12s remainder.
	want := []string{
		filepath.Join(dir, "video_segment_1.mp4"),
		filepath.Join(dir, "video_segment_2.mp4"),
		filepath.Join(dir, "video_segment_3.mp4"),
	}
	if diff := cmp.Diff(want, artifacts); diff != "" {
		t.Fatalf("artifacts mismatch (-want +got):\n%s", diff)
	}

	task, err := h.manager.Task(context.Background(), taskID)
	if err != nil {
		t.Fatalf("Task failed: %v", err)
	}
	if task.Status != queue.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED (error %q)", task.Status, task.ErrorMessage)
	}
	if diff := cmp.Diff(want, task.Artifacts); diff != "" {
		t.Fatalf("stored artifacts mismatch (-want +got):\n%s", diff)
	}
	if task.LogRef != "alice_req-1.log" {
		t.Fatalf("log ref = %q", task.LogRef)
	}
	if _, err := os.Stat(filepath.Join(h.cfg.TaskLogDir(), task.LogRef)); err != nil {
		t.Fatalf("task log missing: %v", err)
	}
	wantStatuses := []queue.Status{queue.StatusPending, queue.StatusRunning, queue.StatusCompleted}
	if diff := cmp.Diff(wantStatuses, statuses(t, h.store, taskID)); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}

	encodes := h.runner.CallsTo("ffmpeg")
	if len(encodes) != 4 {
		t.Fatalf("expected 1 transcode and 3 segment encodes, got %d", len(encodes))
	}
	if !slices.Contains(encodes[0].Args, "scale=1280:720") {
		t.Fatalf("transcode did not scale to 1280x720: %v", encodes[0].Args)
	}
	download := h.runner.CallsTo("yt-dlp")
	if len(download) != 1 || download[0].Args[len(download[0].Args)-1] != "https://example.com/watch?v=abc" {
		t.Fatalf("unexpected download invocation: %#v", download)
	}
}

func TestVideoPipelineSkipsCompatibleSource(t *testing.T) {
	media := newFakeMedia()
	media.sourceWidth, media.sourceHeight = 1280, 720
	media.sourceSize = 512
	h := newHarness(t, media, nil, testsupport.WithSizeCeiling(1000))

	_, artifacts, err := h.manager.RunVideo(waitCtx(t), workflow.VideoRequest{URL: "https://example.com/v", Owner: "bob", RequestID: "small"})
	if err != nil {
		t.Fatalf("RunVideo failed: %v", err)
	}
	want := []string{filepath.Join(h.cfg.Paths.WorkDir, "bob", "small", "video.mp4")}
	if diff := cmp.Diff(want, artifacts); diff != "" {
		t.Fatalf("artifacts mismatch (-want +got):\n%s", diff)
	}
	if calls := h.runner.CallsTo("ffmpeg"); len(calls) != 0 {
		t.Fatalf("expected no encodes, got %d", len(calls))
	}
}

func TestVideoPipelineSplitsWithoutTranscode(t *testing.T) {
	media := newFakeMedia()
	media.sourceWidth, media.sourceHeight = 1280, 720
	media.sourceSize = 1001
	h := newHarness(t, media, nil, testsupport.WithSizeCeiling(1000))

	_, artifacts, err := h.manager.RunVideo(waitCtx(t), workflow.VideoRequest{URL: "https://example.com/v", Owner: "bob", RequestID: "edge"})
	if err != nil {
		t.Fatalf("RunVideo failed: %v", err)
	}
	if len(artifacts) < 2 {
		t.Fatalf("expected a split one byte over the ceiling, got %v", artifacts)
	}
	for _, call := range h.runner.CallsTo("ffmpeg") {
		if !slices.Contains(call.Args, "-ss") {
			t.Fatalf("unexpected non-segment encode: %v", call.Args)
		}
	}
}

func TestVideoFailureIsRecordedVerbatim(t *testing.T) {
	media := newFakeMedia()
	h := newHarness(t, media, nil)
	h.runner.Handle("yt-dlp", func(context.Context, []string) ([]byte, error) {
		return nil, &services.ToolError{Tool: "yt-dlp", ExitCode: 1, Stderr: "ERROR: Unsupported URL"}
	})

	taskID, _, err := h.manager.RunVideo(waitCtx(t), workflow.VideoRequest{URL: "https://example.com/nope", Owner: "carol", RequestID: "bad"})
	if !errors.Is(err, services.ErrDownload) {
		t.Fatalf("expected ErrDownload, got %v", err)
	}
	task, err := h.manager.Task(context.Background(), taskID)
	if err != nil {
		t.Fatalf("Task failed: %v", err)
	}
	if task.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want FAILED", task.Status)
	}
	if !strings.Contains(task.ErrorMessage, "ERROR: Unsupported URL") {
		t.Fatalf("error message lost stderr: %q", task.ErrorMessage)
	}
	if calls := h.runner.CallsTo("ffprobe"); len(calls) != 0 {
		t.Fatalf("later stages ran after failure: %d probes", len(calls))
	}
}

func TestInvalidSourceFailsTask(t *testing.T) {
	h := newHarness(t, newFakeMedia(), nil)

	taskID, _, err := h.manager.RunVideo(waitCtx(t), workflow.VideoRequest{URL: "ftp://example.com/file", Owner: "dave", RequestID: "ftp"})
	if !errors.Is(err, services.ErrSource) {
		t.Fatalf("expected ErrSource, got %v", err)
	}
	task, err := h.manager.Task(context.Background(), taskID)
	if err != nil {
		t.Fatalf("Task failed: %v", err)
	}
	if task.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want FAILED", task.Status)
	}
}

func TestAtMostOneGPUStageRuns(t *testing.T) {
	media := newFakeMedia()
	h := newHarness(t, media, nil, testsupport.WithSizeCeiling(1000), testsupport.WithWorkers(3))
	ctx := waitCtx(t)

	var handles []*jobqueue.Handle
	for i := range 4 {
		sub, err := h.manager.SubmitVideo(ctx, workflow.VideoRequest{
			URL:       "https://example.com/v",
			Owner:     "erin",
			RequestID: fmt.Sprintf("v%d", i),
		})
		if err != nil {
			t.Fatalf("SubmitVideo failed: %v", err)
		}
		handles = append(handles, sub.Handle)
	}
	for i := range 3 {
		sub, err := h.manager.SubmitTranscription(ctx, workflow.TranscriptionRequest{
			Owner:     "erin",
			RequestID: fmt.Sprintf("t%d", i),
			FileName:  "talk.mp4",
			Body:      bytes.NewReader(make([]byte, 128)),
		})
		if err != nil {
			t.Fatalf("SubmitTranscription failed: %v", err)
		}
		handles = append(handles, sub.Handle)
	}

	for _, handle := range handles {
		result, err := handle.Wait(ctx)
		if err != nil {
			t.Fatalf("wait %s: %v", handle.ID, err)
		}
		if result.Err != nil {
			t.Fatalf("task %s failed: %v", handle.ID, result.Err)
		}
	}
	if got := media.maxActive.Load(); got != 1 {
		t.Fatalf("max concurrent GPU stages = %d, want 1", got)
	}
}

func TestTranscriptionPipeline(t *testing.T) {
	media := newFakeMedia()
	h := newHarness(t, media, func(deps *workflow.Deps) {
		deps.Config.Transcription.RemoveAudioAfter = true
	})

	taskID, artifacts, err := h.manager.RunTranscription(waitCtx(t), workflow.TranscriptionRequest{
		Owner:     "frank",
		RequestID: "talk-1",
		FileName:  "Café Talk.mp4",
		Body:      strings.NewReader("video bytes"),
	})
	if err != nil {
		t.Fatalf("RunTranscription failed: %v", err)
	}
	outDir := filepath.Join(h.cfg.Paths.TranscriptionDir, "frank", "talk-1")
	want := []string{filepath.Join(outDir, "talk-1.srt"), filepath.Join(outDir, "talk-1.html")}
	if diff := cmp.Diff(want, artifacts); diff != "" {
		t.Fatalf("artifacts mismatch (-want +got):\n%s", diff)
	}

	html, err := os.ReadFile(want[1])
	if err != nil {
		t.Fatalf("read html: %v", err)
	}
	if !strings.Contains(string(html), "Hello there. General remarks.") {
		t.Fatalf("transcript paragraph missing: %s", html)
	}

	uploadDir := filepath.Join(h.cfg.Paths.UploadDir, "frank", "talk-1")
	if _, err := os.Stat(filepath.Join(uploadDir, "Cafe Talk.mp4")); err != nil {
		t.Fatalf("normalized upload missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(uploadDir, "Cafe Talk.wav")); !os.IsNotExist(err) {
		t.Fatalf("extracted audio should be removed, stat err = %v", err)
	}

	task, err := h.manager.Task(context.Background(), taskID)
	if err != nil {
		t.Fatalf("Task failed: %v", err)
	}
	if task.Kind != queue.KindTranscription || task.Status != queue.StatusCompleted {
		t.Fatalf("unexpected task: %#v", task)
	}
}

func TestEmptyTranscriptStillCompletes(t *testing.T) {
	media := newFakeMedia()
	media.transcript = ""
	h := newHarness(t, media, nil)

	taskID, artifacts, err := h.manager.RunTranscription(waitCtx(t), workflow.TranscriptionRequest{
		Owner:     "gina",
		RequestID: "silent",
		FileName:  "silence.wav",
		Body:      strings.NewReader("RIFF"),
	})
	if err != nil {
		t.Fatalf("RunTranscription failed: %v", err)
	}
	want := []string{filepath.Join(h.cfg.Paths.TranscriptionDir, "gina", "silent", "silent_no_transcription.html")}
	if diff := cmp.Diff(want, artifacts); diff != "" {
		t.Fatalf("artifacts mismatch (-want +got):\n%s", diff)
	}
	if calls := h.runner.CallsTo("ffmpeg"); len(calls) != 0 {
		t.Fatalf("audio upload should not be extracted, got %d ffmpeg calls", len(calls))
	}
	task, err := h.manager.Task(context.Background(), taskID)
	if err != nil {
		t.Fatalf("Task failed: %v", err)
	}
	if task.Status != queue.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", task.Status)
	}
}

func TestTranscriptionRejectsUnsupportedUpload(t *testing.T) {
	h := newHarness(t, newFakeMedia(), nil)

	_, err := h.manager.SubmitTranscription(context.Background(), workflow.TranscriptionRequest{
		Owner:     "hank",
		RequestID: "doc",
		FileName:  "notes.pdf",
		Body:      strings.NewReader("%PDF"),
	})
	if !errors.Is(err, services.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := h.manager.Task(context.Background(), "hank:doc"); !errors.Is(err, queue.ErrTaskNotFound) {
		t.Fatalf("rejected upload created a task: %v", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, newFakeMedia(), nil)
	ctx := context.Background()

	cases := []struct {
		name string
		req  workflow.VideoRequest
	}{
		{"missing owner", workflow.VideoRequest{URL: "https://example.com", RequestID: "x"}},
		{"bad owner", workflow.VideoRequest{URL: "https://example.com", Owner: "a/b", RequestID: "x"}},
		{"bad request id", workflow.VideoRequest{URL: "https://example.com", Owner: "ivan", RequestID: "../x"}},
		{"missing url", workflow.VideoRequest{Owner: "ivan", RequestID: "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := h.manager.SubmitVideo(ctx, tc.req); !errors.Is(err, workflow.ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}

	sub, err := h.manager.SubmitVideo(ctx, workflow.VideoRequest{URL: "https://example.com/v", Owner: "ivan"})
	if err != nil {
		t.Fatalf("SubmitVideo without request id failed: %v", err)
	}
	if !strings.HasPrefix(sub.Task.ID, "ivan:") || len(sub.Task.ID) <= len("ivan:") {
		t.Fatalf("generated task id = %q", sub.Task.ID)
	}
	if _, err := sub.Handle.Wait(waitCtx(t)); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
}

func TestDuplicateRequestRejected(t *testing.T) {
	h := newHarness(t, newFakeMedia(), nil)
	req := workflow.VideoRequest{URL: "https://example.com/v", Owner: "judy", RequestID: "same"}

	if _, _, err := h.manager.RunVideo(waitCtx(t), req); err != nil {
		t.Fatalf("first RunVideo failed: %v", err)
	}
	if _, err := h.manager.SubmitVideo(context.Background(), req); !errors.Is(err, queue.ErrTaskExists) {
		t.Fatalf("expected ErrTaskExists, got %v", err)
	}
}

func TestDiskAdmission(t *testing.T) {
	h := newHarness(t, newFakeMedia(), func(deps *workflow.Deps) {
		deps.Config.Workflow.MinFreeDisk = 1 << 20
		deps.DiskFree = func(string) (uint64, error) { return 1024, nil }
	})

	_, err := h.manager.SubmitVideo(context.Background(), workflow.VideoRequest{URL: "https://example.com/v", Owner: "kim", RequestID: "full"})
	if !errors.Is(err, workflow.ErrInsufficientDisk) {
		t.Fatalf("expected ErrInsufficientDisk, got %v", err)
	}
	if _, err := h.manager.Task(context.Background(), "kim:full"); !errors.Is(err, queue.ErrTaskNotFound) {
		t.Fatalf("refused submission created a task: %v", err)
	}
}

func TestCancelWhileWaitingForGPU(t *testing.T) {
	media := newFakeMedia()
	h := newHarness(t, media, nil)

	lease, err := h.lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lease.Release()

	sub, err := h.manager.SubmitVideo(context.Background(), workflow.VideoRequest{URL: "https://example.com/v", Owner: "leo", RequestID: "wait"})
	if err != nil {
		t.Fatalf("SubmitVideo failed: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(h.runner.CallsTo("ffprobe")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("task never reached probe")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !h.manager.Cancel(sub.Task.ID) {
		t.Fatal("Cancel reported unknown task")
	}
	result, err := sub.Handle.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if !errors.Is(result.Err, services.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", result.Err)
	}
	if calls := h.runner.CallsTo("ffmpeg"); len(calls) != 0 {
		t.Fatalf("transcode ran without the lock: %d calls", len(calls))
	}

	wantStatuses := []queue.Status{queue.StatusPending, queue.StatusRunning, queue.StatusFailed}
	if diff := cmp.Diff(wantStatuses, statuses(t, h.store, sub.Task.ID)); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestStopFailsQueuedTasks(t *testing.T) {
	media := newFakeMedia()
	h := newHarness(t, media, nil, testsupport.WithWorkers(1))

	lease, err := h.lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lease.Release()

	first, err := h.manager.SubmitVideo(context.Background(), workflow.VideoRequest{URL: "https://example.com/a", Owner: "nia", RequestID: "first"})
	if err != nil {
		t.Fatalf("SubmitVideo(first) failed: %v", err)
	}
	second, err := h.manager.SubmitVideo(context.Background(), workflow.VideoRequest{URL: "https://example.com/b", Owner: "nia", RequestID: "second"})
	if err != nil {
		t.Fatalf("SubmitVideo(second) failed: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(h.runner.CallsTo("ffprobe")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first task never reached probe")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.manager.Stop()

	result, err := second.Handle.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if !errors.Is(result.Err, jobqueue.ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", result.Err)
	}
	for _, sub := range []*workflow.Submission{first, second} {
		task, err := h.manager.Task(context.Background(), sub.Task.ID)
		if err != nil {
			t.Fatalf("Task(%s) failed: %v", sub.Task.ID, err)
		}
		if task.Status != queue.StatusFailed {
			t.Fatalf("%s status = %s, want FAILED", sub.Task.ID, task.Status)
		}
	}
	task, _ := h.manager.Task(context.Background(), second.Task.ID)
	if !strings.Contains(task.ErrorMessage, "shutdown") {
		t.Fatalf("unexpected error message %q", task.ErrorMessage)
	}
	wantStatuses := []queue.Status{queue.StatusPending, queue.StatusRunning, queue.StatusFailed}
	if diff := cmp.Diff(wantStatuses, statuses(t, h.store, second.Task.ID)); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestLockTimeoutFailsTask(t *testing.T) {
	media := newFakeMedia()
	h := newHarness(t, media, func(deps *workflow.Deps) {
		deps.Config.GPU.AcquireTimeoutSeconds = 1
	})

	lease, err := h.lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lease.Release()

	taskID, _, err := h.manager.RunVideo(waitCtx(t), workflow.VideoRequest{URL: "https://example.com/v", Owner: "mia", RequestID: "slow"})
	if !errors.Is(err, services.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	task, err := h.manager.Task(context.Background(), taskID)
	if err != nil {
		t.Fatalf("Task failed: %v", err)
	}
	if task.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want FAILED", task.Status)
	}
}

func TestStatusReportsQueuesAndTasks(t *testing.T) {
	h := newHarness(t, newFakeMedia(), nil)
	if _, _, err := h.manager.RunVideo(waitCtx(t), workflow.VideoRequest{URL: "https://example.com/v", Owner: "ned", RequestID: "one"}); err != nil {
		t.Fatalf("RunVideo failed: %v", err)
	}

	status := h.manager.Status(context.Background())
	if !status.Running {
		t.Fatal("expected running manager")
	}
	if len(status.Queues) != 2 || status.Queues[0].Name != "video" || status.Queues[1].Name != "transcription" {
		t.Fatalf("unexpected queues: %#v", status.Queues)
	}
	if status.Tasks.Counts[queue.StatusCompleted] != 1 {
		t.Fatalf("unexpected task stats: %#v", status.Tasks)
	}
	if status.LockBackend != "memory" || status.LockHolder != nil {
		t.Fatalf("unexpected lock state: %s %#v", status.LockBackend, status.LockHolder)
	}
}
