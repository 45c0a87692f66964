package encoding

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"clipforge/internal/config"
	"clipforge/internal/logging"
	"clipforge/internal/media"
	"clipforge/internal/services"
	"clipforge/internal/services/command"
)

// TranscodedSuffix is appended to the source stem for transcoded outputs.
const TranscodedSuffix = "_resized_transcoded"

// Codecs describes the ffmpeg encoder parameters shared by transcode and split.
type Codecs struct {
	Video      string
	Audio      string
	HWAccel    string
	SampleRate int
	ExtraArgs  []string
}

func codecsFromConfig(cfg *config.Config) (Codecs, error) {
	extra, err := cfg.EncoderExtraArgs()
	if err != nil {
		return Codecs{}, services.Wrap(services.ErrConfiguration, "encoding", "encoder args", "", err)
	}
	return Codecs{
		Video:      strings.TrimSpace(cfg.Encoding.VideoCodec),
		Audio:      strings.TrimSpace(cfg.Encoding.AudioCodec),
		HWAccel:    strings.TrimSpace(cfg.Encoding.HWAccel),
		SampleRate: cfg.Encoding.AudioSampleRate,
		ExtraArgs:  extra,
	}, nil
}

func (c Codecs) inputArgs(in string) []string {
	args := []string{"-y", "-hide_banner", "-nostdin"}
	if c.HWAccel != "" {
		args = append(args, "-hwaccel", c.HWAccel)
	}
	return append(args, "-i", in)
}

func (c Codecs) videoArgs(profile media.Profile) []string {
	args := []string{"-c:v", c.Video}
	if profile.VideoBitrateBps > 0 {
		args = append(args, "-b:v", strconv.FormatInt(profile.VideoBitrateBps, 10))
	}
	return args
}

func (c Codecs) rateArgs(profile media.Profile) []string {
	if profile.FrameRate.IsZero() {
		return nil
	}
	return []string{"-r", profile.FrameRate.String()}
}

// Transcoder re-encodes a file to the configured codec pair and target height.
type Transcoder struct {
	runner       command.Runner
	binary       string
	codecs       Codecs
	targetHeight int
	logger       *slog.Logger
}

// NewTranscoder builds a transcoder from configuration.
func NewTranscoder(cfg *config.Config, runner command.Runner, logger *slog.Logger) (*Transcoder, error) {
	codecs, err := codecsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &Transcoder{
		runner:       runner,
		binary:       cfg.FFmpegBinary(),
		codecs:       codecs,
		targetHeight: cfg.Encoding.TargetHeight,
		logger:       logging.NewComponentLogger(logger, "transcoder"),
	}, nil
}

// OutputPath returns where Transcode writes the result for in.
func OutputPath(in, outDir string) string {
	base := filepath.Base(in)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(outDir, stem+TranscodedSuffix+".mp4")
}

// Args returns the ffmpeg arguments for transcoding in to out.
func (t *Transcoder) Args(in, out string, profile media.Profile) []string {
	args := t.codecs.inputArgs(in)
	args = append(args, t.codecs.videoArgs(profile)...)
	width, height := TargetDimensions(profile.Width, profile.Height, t.targetHeight)
	if width > 0 && height > 0 && height != profile.Height {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", evenDimension(width), evenDimension(height)))
	}
	args = append(args, t.codecs.rateArgs(profile)...)
	args = append(args, "-c:a", t.codecs.Audio)
	if profile.AudioBitrateBps > 0 {
		args = append(args, "-b:a", strconv.FormatInt(profile.AudioBitrateBps/1000, 10)+"k")
	}
	if t.codecs.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(t.codecs.SampleRate))
	}
	args = append(args, t.codecs.ExtraArgs...)
	return append(args, out)
}

// Transcode writes a single re-encoded file into outDir and returns its path.
func (t *Transcoder) Transcode(ctx context.Context, in, outDir string, profile media.Profile) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrTranscode, "transcode", "prepare dir", outDir, err)
	}
	out := OutputPath(in, outDir)
	logger := logging.WithContext(ctx, t.logger)
	logger.Info("transcode started",
		logging.String("input", in),
		logging.String("output", out),
		logging.String("video_codec", t.codecs.Video),
		logging.String("hwaccel", t.codecs.HWAccel),
	)
	start := time.Now()
	if _, err := t.runner.Run(ctx, t.binary, t.Args(in, out, profile)...); err != nil {
		return "", services.Wrap(services.ErrTranscode, "transcode", t.binary, filepath.Base(in), err)
	}
	if err := requireOutput(out); err != nil {
		return "", services.Wrap(services.ErrTranscode, "transcode", "verify output", out, err)
	}
	logger.Info("transcode completed",
		logging.String("output", out),
		logging.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

func requireOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() || info.Size() == 0 {
		return fmt.Errorf("empty output %s", path)
	}
	return nil
}
