package transcription

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"clipforge/internal/config"
	"clipforge/internal/logging"
	"clipforge/internal/services"
	"clipforge/internal/services/command"
)

// CodecProber reports the first audio codec of a file.
type CodecProber interface {
	AudioCodec(ctx context.Context, path string) (string, error)
}

// AudioExtractor converts uploaded video into a WAV track.
type AudioExtractor struct {
	runner      command.Runner
	binary      string
	prober      CodecProber
	passthrough []string
	sampleRate  int
	logger      *slog.Logger
}

// NewAudioExtractor builds an extractor from configuration.
func NewAudioExtractor(cfg *config.Config, runner command.Runner, prober CodecProber, logger *slog.Logger) *AudioExtractor {
	return &AudioExtractor{
		runner:      runner,
		binary:      cfg.FFmpegBinary(),
		prober:      prober,
		passthrough: cfg.Transcription.PassthroughAudioCodecs,
		sampleRate:  cfg.Encoding.AudioSampleRate,
		logger:      logging.NewComponentLogger(logger, "audio_extractor"),
	}
}

// Extraction lists the files ExtractAudio produced.
type Extraction struct {
	AudioPath string
	// Intermediates are temporary files the caller may delete.
	Intermediates []string
}

// ExtractAudio writes <stem>.wav next to in. When the source audio codec is
// not in the passthrough set the file is first remuxed with AAC audio.
func (e *AudioExtractor) ExtractAudio(ctx context.Context, in string) (Extraction, error) {
	logger := logging.WithContext(ctx, e.logger)
	var result Extraction

	codec, err := e.prober.AudioCodec(ctx, in)
	if err != nil {
		return result, services.Wrap(services.ErrTranscription, "extract_audio", "probe codec", filepath.Base(in), err)
	}
	if codec == "" {
		return result, services.Wrap(services.ErrTranscription, "extract_audio", "probe codec", "no audio stream in "+filepath.Base(in), nil)
	}

	source := in
	if !slices.Contains(e.passthrough, codec) {
		remuxed := stemPath(in) + "_remuxed.mp4"
		attrs := append(logging.DecisionAttrs("audio_remux", "remux", "codec "+codec+" not in passthrough set"),
			logging.String("output", remuxed),
		)
		logger.Info("audio remux decision", logging.Args(attrs...)...)
		args := []string{"-y", "-hide_banner", "-nostdin", "-i", in, "-c:v", "copy", "-c:a", "aac", remuxed}
		if _, err := e.runner.Run(ctx, e.binary, args...); err != nil {
			return result, services.Wrap(services.ErrTranscription, "extract_audio", "remux", filepath.Base(in), err)
		}
		result.Intermediates = append(result.Intermediates, remuxed)
		source = remuxed
	}

	out := stemPath(in) + ".wav"
	args := []string{"-y", "-hide_banner", "-nostdin", "-i", source, "-vn", "-acodec", "pcm_s16le"}
	if e.sampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(e.sampleRate))
	}
	args = append(args, "-ac", "2", out)
	if _, err := e.runner.Run(ctx, e.binary, args...); err != nil {
		return result, services.Wrap(services.ErrTranscription, "extract_audio", e.binary, filepath.Base(in), err)
	}
	if _, err := os.Stat(out); err != nil {
		return result, services.Wrap(services.ErrTranscription, "extract_audio", "verify output", out, err)
	}
	result.AudioPath = out
	logger.Info("audio extracted", logging.String("audio", out), logging.String("source_codec", codec))
	return result, nil
}

func stemPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}
