package probe_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"clipforge/internal/config"
	"clipforge/internal/logging"
	"clipforge/internal/media"
	"clipforge/internal/probe"
	"clipforge/internal/services"
	"clipforge/internal/services/command"
)

func newAdapter(t *testing.T, output string, runErr error) *probe.Adapter {
	t.Helper()
	cfg := config.Default()
	runner := command.RunnerFunc(func(context.Context, string, ...string) ([]byte, error) {
		if runErr != nil {
			return nil, runErr
		}
		return []byte(output), nil
	})
	return probe.NewAdapter(&cfg, runner, logging.NewNop())
}

func writeFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestProbeBuildsProfile(t *testing.T) {
	adapter := newAdapter(t, `{
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080, "r_frame_rate": "30000/1001", "bit_rate": "5000000"},
    {"codec_type": "audio", "codec_name": "aac", "bit_rate": "0"}
  ],
  "format": {"duration": "60.0", "format_name": "mov,mp4,m4a,3gp,3g2,mj2", "size": "1000"}
}`, nil)

	profile, err := adapter.Probe(context.Background(), writeFile(t, 10))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if profile.Width != 1920 || profile.Height != 1080 {
		t.Fatalf("unexpected resolution %dx%d", profile.Width, profile.Height)
	}
	if profile.FrameRate != (media.Rational{Num: 30000, Den: 1001}) {
		t.Fatalf("unexpected frame rate %v", profile.FrameRate)
	}
	if profile.VideoBitrateBps != 5000000 {
		t.Fatalf("unexpected video bitrate %d", profile.VideoBitrateBps)
	}
	if profile.AudioBitrateBps != 128000 {
		t.Fatalf("expected default audio bitrate, got %d", profile.AudioBitrateBps)
	}
	if profile.SizeBytes != 10 {
		t.Fatalf("expected on-disk size, got %d", profile.SizeBytes)
	}
	if profile.NeedsTranscode {
		t.Fatal("h264/aac mp4 should not need transcode")
	}
}

func TestProbeEstimatesMissingVideoBitrate(t *testing.T) {
	adapter := newAdapter(t, `{
  "streams": [{"codec_type": "video", "codec_name": "vp9", "width": 640, "height": 360}],
  "format": {"duration": "8", "format_name": "matroska,webm"}
}`, nil)

	profile, err := adapter.Probe(context.Background(), writeFile(t, 1000))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if profile.VideoBitrateBps != 1000 {
		t.Fatalf("expected 1000*8/8 = 1000 bps, got %d", profile.VideoBitrateBps)
	}
	if profile.FrameRate != media.DefaultFrameRate {
		t.Fatalf("expected default frame rate, got %v", profile.FrameRate)
	}
	if !profile.NeedsTranscode {
		t.Fatal("vp9 in matroska should need transcode")
	}
	if profile.HasAudio() {
		t.Fatal("expected no audio stream")
	}
}

func TestProbeAviNeedsTranscode(t *testing.T) {
	adapter := newAdapter(t, `{
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "width": 1280, "height": 720, "r_frame_rate": "25/1", "bit_rate": "1"},
    {"codec_type": "audio", "codec_name": "aac", "bit_rate": "96000"}
  ],
  "format": {"duration": "1", "format_name": "avi"}
}`, nil)

	profile, err := adapter.Probe(context.Background(), writeFile(t, 1))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !profile.NeedsTranscode {
		t.Fatal("avi container should need transcode")
	}
}

func TestProbeSurfacesErrors(t *testing.T) {
	tests := []struct {
		name   string
		output string
		runErr error
	}{
		{"tool failure", "", &services.ToolError{Tool: "ffprobe", ExitCode: 1, Stderr: "moov atom not found"}},
		{"garbage output", "not json", nil},
		{"bad frame rate", `{"streams":[{"codec_type":"video","codec_name":"h264","r_frame_rate":"1/0"}],"format":{"format_name":"mp4","duration":"1"}}`, nil},
		{"bad duration", `{"streams":[],"format":{"format_name":"mp4","duration":"abc"}}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newAdapter(t, tt.output, tt.runErr)
			_, err := adapter.Probe(context.Background(), writeFile(t, 1))
			if !errors.Is(err, services.ErrProbe) {
				t.Fatalf("expected ErrProbe, got %v", err)
			}
			var probeErr *probe.Error
			if !errors.As(err, &probeErr) || probeErr.Cause == nil {
				t.Fatalf("expected *probe.Error with cause, got %v", err)
			}
		})
	}
}

func TestDetectExtension(t *testing.T) {
	tests := []struct {
		output string
		runErr error
		want   string
	}{
		{`{"format":{"format_name":"matroska,webm"}}`, nil, ".mkv"},
		{`{"format":{"format_name":"mov,mp4,m4a,3gp,3g2,mj2"}}`, nil, ".mp4"},
		{`{"format":{"format_name":"flv"}}`, nil, ".flv"},
		{`{"format":{"format_name":"mpeg"}}`, nil, ".mpg"},
		{`{"format":{"format_name":"wav"}}`, nil, ".mp4"},
		{"", errors.New("exec: not found"), ".mp4"},
	}
	for _, tt := range tests {
		adapter := newAdapter(t, tt.output, tt.runErr)
		if got := adapter.DetectExtension(context.Background(), "/tmp/video"); got != tt.want {
			t.Fatalf("DetectExtension(%s) = %q, want %q", tt.output, got, tt.want)
		}
	}
}

func TestAudioCodec(t *testing.T) {
	adapter := newAdapter(t, `{"streams":[{"codec_type":"video","codec_name":"h264"},{"codec_type":"audio","codec_name":"OPUS"}],"format":{"format_name":"webm"}}`, nil)
	codec, err := adapter.AudioCodec(context.Background(), "/tmp/x.webm")
	if err != nil || codec != "opus" {
		t.Fatalf("AudioCodec = %q, %v", codec, err)
	}
}
