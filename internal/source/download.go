package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"clipforge/internal/config"
	"clipforge/internal/logging"
	"clipforge/internal/services"
	"clipforge/internal/services/command"
)

// OutputStem is the extension-less file name the downloader writes to.
const OutputStem = "video"

// DownloadExtensions are checked in order after the downloader exits.
var DownloadExtensions = []string{".mp4", ".webm", ".mkv", ".flv", ".avi"}

// Downloader fetches remote media with yt-dlp.
type Downloader struct {
	runner command.Runner
	binary string
	format string
	logger *slog.Logger
}

// NewDownloader constructs a downloader from configuration.
func NewDownloader(cfg *config.Config, runner command.Runner, logger *slog.Logger) *Downloader {
	return &Downloader{
		runner: runner,
		binary: strings.TrimSpace(cfg.Tools.Downloader),
		format: strings.TrimSpace(cfg.Tools.DownloaderFormat),
		logger: logging.NewComponentLogger(logger, "downloader"),
	}
}

// Args returns the downloader invocation for rawURL writing under dir.
func (d *Downloader) Args(rawURL, dir string) []string {
	return []string{"-f", d.format, "-o", filepath.Join(dir, OutputStem), "--", rawURL}
}

// Download fetches rawURL into dir and returns the produced file. The file may
// lack an extension when the downloader did not add one.
func (d *Downloader) Download(ctx context.Context, rawURL, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.Wrap(services.ErrDownload, "download", "prepare dir", dir, err)
	}

	logger := logging.WithContext(ctx, d.logger)
	logger.Info("download started", logging.String("url", rawURL), logging.String("dir", dir))
	start := time.Now()

	if _, err := d.runner.Run(ctx, d.binary, d.Args(rawURL, dir)...); err != nil {
		return "", services.Wrap(services.ErrDownload, "download", d.binary, rawURL, err)
	}

	path, err := locateOutput(dir)
	if err != nil {
		return "", services.Wrap(services.ErrDownload, "download", "locate output", rawURL, err)
	}
	logger.Info("download completed",
		logging.String("path", path),
		logging.Duration("elapsed", time.Since(start)),
	)
	return path, nil
}

func locateOutput(dir string) (string, error) {
	prefix := filepath.Join(dir, OutputStem)
	for _, ext := range DownloadExtensions {
		candidate := prefix + ext
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	if info, err := os.Stat(prefix); err == nil && !info.IsDir() {
		return prefix, nil
	}
	matches, err := filepath.Glob(prefix + ".*")
	if err != nil {
		return "", err
	}
	for _, match := range matches {
		// yt-dlp leaves .part and .ytdl files behind on interrupted runs.
		if strings.HasSuffix(match, ".part") || strings.HasSuffix(match, ".ytdl") {
			continue
		}
		return match, nil
	}
	return "", fmt.Errorf("no output file under %s", dir)
}
