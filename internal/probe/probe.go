package probe

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"

	"clipforge/internal/config"
	"clipforge/internal/logging"
	"clipforge/internal/media"
	"clipforge/internal/media/ffprobe"
	"clipforge/internal/services"
	"clipforge/internal/services/command"
)

// DefaultExtension is used when the container cannot be classified.
const DefaultExtension = ".mp4"

// Error reports a failed or unparsable probe.
type Error struct {
	Path  string
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %s: %v", services.ErrProbe, e.Path, e.Cause)
}

// Unwrap exposes both the probe marker and the underlying cause.
func (e *Error) Unwrap() []error {
	return []error{services.ErrProbe, e.Cause}
}

// Adapter probes files with ffprobe.
type Adapter struct {
	runner              command.Runner
	binary              string
	policy              media.Policy
	defaultAudioBitrate int64
	logger              *slog.Logger
}

// NewAdapter builds an adapter from configuration.
func NewAdapter(cfg *config.Config, runner command.Runner, logger *slog.Logger) *Adapter {
	return &Adapter{
		runner: runner,
		binary: cfg.FFprobeBinary(),
		policy: media.Policy{
			Containers:  cfg.Probe.UnsupportedContainers,
			VideoCodecs: cfg.Probe.UnsupportedVideoCodecs,
			AudioCodecs: cfg.Probe.UnsupportedAudioCodecs,
		},
		defaultAudioBitrate: cfg.Probe.DefaultAudioBitrate,
		logger:              logging.NewComponentLogger(logger, "probe"),
	}
}

// Policy returns the transcode policy the adapter classifies with.
func (a *Adapter) Policy() media.Policy {
	return a.policy
}

// Probe inspects path and returns its profile.
func (a *Adapter) Probe(ctx context.Context, path string) (media.Profile, error) {
	result, err := ffprobe.Inspect(ctx, a.runner, a.binary, path)
	if err != nil {
		return media.Profile{}, &Error{Path: path, Cause: err}
	}
	profile, err := a.profileFromResult(path, result)
	if err != nil {
		return media.Profile{}, &Error{Path: path, Cause: err}
	}
	profile.NeedsTranscode = a.policy.NeedsTranscode(profile)

	logger := logging.WithContext(ctx, a.logger)
	logger.Debug("media probed",
		logging.String("path", path),
		logging.String("container", profile.ContainerFormat),
		logging.String("video_codec", profile.VideoCodec),
		logging.String("audio_codec", profile.AudioCodec),
		logging.Int("width", profile.Width),
		logging.Int("height", profile.Height),
		logging.Float64("duration_seconds", profile.DurationSeconds),
		logging.String("frame_rate", profile.FrameRate.String()),
		logging.Bool("needs_transcode", profile.NeedsTranscode),
	)
	if profile.NeedsTranscode {
		logger.Info("transcode required by policy",
			logging.String(logging.FieldEventType, "transcode_policy_match"),
			logging.Any("reasons", a.policy.Reasons(profile)),
		)
	}
	return profile, nil
}

func (a *Adapter) profileFromResult(path string, result ffprobe.Result) (media.Profile, error) {
	duration := result.DurationSeconds()
	if math.IsNaN(duration) || duration < 0 {
		return media.Profile{}, fmt.Errorf("invalid duration %q", result.Format.Duration)
	}

	profile := media.Profile{
		Path:            path,
		DurationSeconds: duration,
		SizeBytes:       result.SizeBytes(),
		ContainerFormat: strings.TrimSpace(result.Format.FormatName),
	}
	if info, err := os.Stat(path); err == nil {
		profile.SizeBytes = info.Size()
	}

	if video, ok := result.FirstStream("video"); ok {
		profile.VideoCodec = strings.ToLower(strings.TrimSpace(video.CodecName))
		profile.Width = max(video.Width, 0)
		profile.Height = max(video.Height, 0)
		profile.VideoBitrateBps = video.BitRateValue()
		rate, err := frameRate(video)
		if err != nil {
			return media.Profile{}, err
		}
		profile.FrameRate = rate
		if profile.VideoBitrateBps == 0 && duration > 0 && profile.SizeBytes > 0 {
			profile.VideoBitrateBps = int64(float64(profile.SizeBytes*8) / duration)
			a.logger.Warn("video bitrate not reported; using estimate",
				logging.String("path", path),
				logging.Int64("estimated_bps", profile.VideoBitrateBps),
				logging.String(logging.FieldEventType, "bitrate_estimated"),
			)
		}
	}

	if audio, ok := result.FirstStream("audio"); ok {
		profile.AudioCodec = strings.ToLower(strings.TrimSpace(audio.CodecName))
		profile.AudioBitrateBps = audio.BitRateValue()
		if profile.AudioBitrateBps == 0 {
			profile.AudioBitrateBps = a.defaultAudioBitrate
		}
	}

	return profile, nil
}

// frameRate prefers r_frame_rate, then avg_frame_rate. A stream that reports
// neither gets media.DefaultFrameRate; a malformed value is an error.
func frameRate(stream ffprobe.Stream) (media.Rational, error) {
	for _, candidate := range []string{stream.RFrameRate, stream.AvgFrameRate} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" || candidate == "0/0" {
			continue
		}
		rate, err := media.ParseRational(candidate)
		if err != nil {
			return media.Rational{}, fmt.Errorf("frame rate: %w", err)
		}
		return rate, nil
	}
	if strings.TrimSpace(stream.RFrameRate) == "" && strings.TrimSpace(stream.AvgFrameRate) == "" {
		return media.DefaultFrameRate, nil
	}
	return media.Rational{}, fmt.Errorf("frame rate: %w: %q", media.ErrInvalidRational, stream.RFrameRate)
}

// AudioCodec returns the codec of the first audio stream, or "" when the file
// has none.
func (a *Adapter) AudioCodec(ctx context.Context, path string) (string, error) {
	result, err := ffprobe.Inspect(ctx, a.runner, a.binary, path)
	if err != nil {
		return "", &Error{Path: path, Cause: err}
	}
	if audio, ok := result.FirstStream("audio"); ok {
		return strings.ToLower(strings.TrimSpace(audio.CodecName)), nil
	}
	return "", nil
}

var extensionsByFormat = map[string]string{
	"mov,mp4,m4a,3gp,3g2,mj2": ".mp4",
	"mov":                     ".mp4",
	"mp4":                     ".mp4",
	"matroska,webm":           ".mkv",
	"matroska":                ".mkv",
	"webm":                    ".mkv",
	"flv":                     ".flv",
	"avi":                     ".avi",
	"mpeg":                    ".mpg",
}

// ExtensionForFormat maps an ffprobe format_name to a file extension.
func ExtensionForFormat(formatName string) (string, bool) {
	formatName = strings.ToLower(strings.TrimSpace(formatName))
	if ext, ok := extensionsByFormat[formatName]; ok {
		return ext, true
	}
	for alias := range strings.SplitSeq(formatName, ",") {
		if ext, ok := extensionsByFormat[alias]; ok {
			return ext, true
		}
	}
	return "", false
}

// DetectExtension classifies the container at path. Any failure falls back to
// DefaultExtension and is logged.
func (a *Adapter) DetectExtension(ctx context.Context, path string) string {
	logger := logging.WithContext(ctx, a.logger)
	result, err := ffprobe.Inspect(ctx, a.runner, a.binary, path)
	if err != nil {
		logging.WarnWithContext(logger, "container detection failed; using default extension", "container_detection_failed",
			logging.String("path", path),
			logging.String("extension", DefaultExtension),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "verify the downloaded file is a media container"),
			logging.String(logging.FieldImpact, "file renamed with the default extension"),
		)
		return DefaultExtension
	}
	if ext, ok := ExtensionForFormat(result.Format.FormatName); ok {
		return ext
	}
	logging.WarnWithContext(logger, "unrecognized container; using default extension", "container_unrecognized",
		logging.String("path", path),
		logging.String("format_name", result.Format.FormatName),
		logging.String("extension", DefaultExtension),
		logging.String(logging.FieldImpact, "file renamed with the default extension"),
	)
	return DefaultExtension
}
