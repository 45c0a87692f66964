package transcription

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"clipforge/internal/config"
	"clipforge/internal/logging"
	"clipforge/internal/services"
	"clipforge/internal/services/command"
)

// Options controls one speech-to-text run. Zero values leave the tool default.
type Options struct {
	Language    string
	Model       string
	BeamSize    int
	ChunkLength int
	Precision   string
}

// DefaultOptions returns the configured transcription options.
func DefaultOptions(cfg *config.Config) Options {
	return Options{
		Language:    cfg.Transcription.Language,
		Model:       cfg.Transcription.Model,
		BeamSize:    cfg.Transcription.BeamSize,
		ChunkLength: cfg.Transcription.ChunkLength,
		Precision:   cfg.Transcription.Precision,
	}
}

// Merge overlays non-zero fields of override onto o.
func (o Options) Merge(override Options) Options {
	if v := strings.TrimSpace(override.Language); v != "" {
		o.Language = v
	}
	if v := strings.TrimSpace(override.Model); v != "" {
		o.Model = v
	}
	if override.BeamSize > 0 {
		o.BeamSize = override.BeamSize
	}
	if override.ChunkLength > 0 {
		o.ChunkLength = override.ChunkLength
	}
	if v := strings.TrimSpace(override.Precision); v != "" {
		o.Precision = v
	}
	return o
}

// Whisper drives the faster-whisper command line tool.
type Whisper struct {
	runner    command.Runner
	binary    string
	extraArgs []string
	logger    *slog.Logger
}

// NewWhisper builds a transcriber from configuration.
func NewWhisper(cfg *config.Config, runner command.Runner, logger *slog.Logger) (*Whisper, error) {
	extra, err := cfg.WhisperExtraArgs()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "transcription", "whisper args", "", err)
	}
	return &Whisper{
		runner:    runner,
		binary:    strings.TrimSpace(cfg.Tools.Whisper),
		extraArgs: extra,
		logger:    logging.NewComponentLogger(logger, "whisper"),
	}, nil
}

// Args returns the tool invocation for audio writing into outDir.
func (w *Whisper) Args(audio, outDir string, opts Options) []string {
	args := []string{audio, "--language", opts.Language, "--model", opts.Model, "--output_dir", outDir, "--output_format", "srt"}
	if opts.BeamSize > 0 {
		args = append(args, "--beam_size", strconv.Itoa(opts.BeamSize))
	}
	if opts.ChunkLength > 0 {
		args = append(args, "--chunk_length", strconv.Itoa(opts.ChunkLength))
	}
	if opts.Precision != "" {
		args = append(args, "--compute_type", opts.Precision)
	}
	return append(args, w.extraArgs...)
}

// Transcribe runs the tool and returns the SRT it wrote, or "" when it wrote
// none.
func (w *Whisper) Transcribe(ctx context.Context, audio, outDir string, opts Options) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrTranscription, "transcribe", "prepare dir", outDir, err)
	}
	logger := logging.WithContext(ctx, w.logger)
	logger.Info("transcription started",
		logging.String("audio", audio),
		logging.String("language", opts.Language),
		logging.String("model", opts.Model),
	)
	start := time.Now()
	if _, err := w.runner.Run(ctx, w.binary, w.Args(audio, outDir, opts)...); err != nil {
		return "", services.Wrap(services.ErrTranscription, "transcribe", w.binary, filepath.Base(audio), err)
	}
	srt, err := FindByExtension(outDir, ".srt")
	if err != nil {
		return "", services.Wrap(services.ErrTranscription, "transcribe", "locate srt", outDir, err)
	}
	logger.Info("transcription completed",
		logging.String("srt", srt),
		logging.Duration("elapsed", time.Since(start)),
	)
	return srt, nil
}

// errFound stops the directory walk early.
var errFound = errors.New("found")

// FindByExtension returns the first file under dir with the given extension,
// or "" when there is none.
func FindByExtension(dir, ext string) (string, error) {
	var match string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ext) {
			match = path
			return errFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		return "", err
	}
	return match, nil
}
