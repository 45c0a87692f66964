package workflow_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clipforge/internal/config"
	"clipforge/internal/encoding"
	"clipforge/internal/gpulock"
	"clipforge/internal/logging"
	"clipforge/internal/queue"
	"clipforge/internal/testsupport"
	"clipforge/internal/workflow"
)

// fakeMedia emulates yt-dlp, ffprobe, ffmpeg and faster-whisper on disk.
type fakeMedia struct {
	// sourceWidth and sourceHeight describe downloaded files.
	sourceWidth  int
	sourceHeight int
	sourceCodec  string
	sourceSize   int
	// transcodeSize is the byte size of transcoded output.
	transcodeSize int
	duration      string
	transcript    string

	active    atomic.Int32
	maxActive atomic.Int32

	mu       sync.Mutex
	gpuCalls []string
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{
		sourceWidth:   1920,
		sourceHeight:  1080,
		sourceCodec:   "h264",
		sourceSize:    4096,
		transcodeSize: 2500,
		duration:      "60.0",
		transcript:    "1\n00:00:00,000 --> 00:00:02,000\nHello there.\n\n2\n00:00:02,000 --> 00:00:04,000\nGeneral remarks.\n",
	}
}

func (f *fakeMedia) runner() *testsupport.FakeRunner {
	return testsupport.NewFakeRunner().
		Handle("yt-dlp", f.download).
		Handle("ffprobe", f.probe).
		Handle("ffmpeg", f.encode).
		Handle("faster-whisper-xxl", f.whisper)
}

func (f *fakeMedia) download(_ context.Context, args []string) ([]byte, error) {
	idx := slices.Index(args, "-o")
	if idx < 0 || idx+1 >= len(args) {
		return nil, fmt.Errorf("missing -o in %v", args)
	}
	return nil, writeSized(args[idx+1]+".mp4", f.sourceSize)
}

func (f *fakeMedia) probe(_ context.Context, args []string) ([]byte, error) {
	path := args[len(args)-1]
	width, height, codec := f.sourceWidth, f.sourceHeight, f.sourceCodec
	if strings.Contains(filepath.Base(path), encoding.TranscodedSuffix) {
		width, height = encoding.TargetDimensions(f.sourceWidth, f.sourceHeight, 720)
		codec = "h264"
	}
	return fmt.Appendf(nil, `{
  "streams": [
    {"codec_type": "video", "codec_name": %q, "width": %d, "height": %d, "r_frame_rate": "30/1", "bit_rate": "4000000"},
    {"codec_type": "audio", "codec_name": "aac", "bit_rate": "128000"}
  ],
  "format": {"duration": %q, "format_name": "mov,mp4,m4a,3gp,3g2,mj2"}
}`, codec, width, height, f.duration), nil
}

func (f *fakeMedia) enterGPU(tool string) func() {
	now := f.active.Add(1)
	for {
		prev := f.maxActive.Load()
		if now <= prev || f.maxActive.CompareAndSwap(prev, now) {
			break
		}
	}
	f.mu.Lock()
	f.gpuCalls = append(f.gpuCalls, tool)
	f.mu.Unlock()
	time.Sleep(2 * time.Millisecond)
	return func() { f.active.Add(-1) }
}

func (f *fakeMedia) encode(_ context.Context, args []string) ([]byte, error) {
	defer f.enterGPU("ffmpeg")()
	out := args[len(args)-1]
	size := 64
	if strings.HasSuffix(out, encoding.TranscodedSuffix+".mp4") {
		size = f.transcodeSize
	}
	return nil, writeSized(out, size)
}

func (f *fakeMedia) whisper(_ context.Context, args []string) ([]byte, error) {
	defer f.enterGPU("whisper")()
	idx := slices.Index(args, "--output_dir")
	if idx < 0 || idx+1 >= len(args) {
		return nil, fmt.Errorf("missing --output_dir in %v", args)
	}
	if f.transcript == "" {
		return nil, nil
	}
	audio := filepath.Base(args[0])
	srt := filepath.Join(args[idx+1], strings.TrimSuffix(audio, filepath.Ext(audio))+".srt")
	return nil, os.WriteFile(srt, []byte(f.transcript), 0o644)
}

func writeSized(path string, size int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, make([]byte, size), 0o644)
}

type harness struct {
	cfg     *config.Config
	store   *queue.Store
	lock    *gpulock.Lock
	runner  *testsupport.FakeRunner
	manager *workflow.Manager
}

func newHarness(t *testing.T, media *fakeMedia, mutate func(*workflow.Deps), opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	lock := gpulock.New(gpulock.NewMemoryBackend(), gpulock.Options{PollInterval: 5 * time.Millisecond})
	runner := media.runner()

	deps := workflow.Deps{
		Config: cfg,
		Store:  store,
		Lock:   lock,
		Runner: runner,
		Logger: logging.NewNop(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	manager, err := workflow.NewManager(deps)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(manager.Stop)
	return &harness{cfg: cfg, store: store, lock: lock, runner: runner, manager: manager}
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func statuses(t *testing.T, store *queue.Store, taskID string) []queue.Status {
	t.Helper()
	history, err := store.History(context.Background(), taskID)
	if err != nil {
		t.Fatalf("History(%s) failed: %v", taskID, err)
	}
	out := make([]queue.Status, 0, len(history))
	for _, event := range history {
		out = append(out, event.Status)
	}
	return out
}
