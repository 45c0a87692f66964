package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"clipforge/internal/services"
	"clipforge/internal/textutil"
)

// ExtensionDetector classifies a container when the file name lacks an extension.
type ExtensionDetector interface {
	DetectExtension(ctx context.Context, path string) string
}

// CheckExtension rejects file names whose extension is not in allowed.
func CheckExtension(name string, allowed []string) error {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != "" && slices.Contains(allowed, ext) {
		return nil
	}
	return services.Wrap(services.ErrUnsupportedFormat, "source", "check extension",
		fmt.Sprintf("%q not in %s", ext, strings.Join(allowed, ", ")), nil)
}

// Ingest copies an uploaded stream into dir under the normalized form of name.
func Ingest(r io.Reader, dir, name string, maxNameLen int) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.Wrap(services.ErrSource, "source", "prepare dir", dir, err)
	}
	target := filepath.Join(dir, textutil.NormalizeFileName(filepath.Base(name), maxNameLen))
	file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", services.Wrap(services.ErrSource, "source", "store upload", target, err)
	}
	if _, err := io.Copy(file, r); err != nil {
		_ = file.Close()
		_ = os.Remove(target)
		return "", services.Wrap(services.ErrSource, "source", "store upload", target, err)
	}
	if err := file.Close(); err != nil {
		return "", services.Wrap(services.ErrSource, "source", "store upload", target, err)
	}
	return target, nil
}

// EnsureExtension renames path with a detected extension when it has none of
// the recognized ones.
func EnsureExtension(ctx context.Context, path string, detector ExtensionDetector) (string, error) {
	if slices.Contains(DownloadExtensions, strings.ToLower(filepath.Ext(path))) {
		return path, nil
	}
	target := path + detector.DetectExtension(ctx, path)
	if err := os.Rename(path, target); err != nil {
		return "", services.Wrap(services.ErrSource, "source", "rename", target, err)
	}
	return target, nil
}

// NormalizeName renames path so its base name is normalized.
func NormalizeName(path string, maxLen int) (string, error) {
	dir, base := filepath.Split(path)
	normalized := textutil.NormalizeFileName(base, maxLen)
	if normalized == base {
		return path, nil
	}
	target := filepath.Join(dir, normalized)
	if _, err := os.Stat(target); err == nil {
		return "", services.Wrap(services.ErrSource, "source", "normalize name", target+" already exists", nil)
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", services.Wrap(services.ErrSource, "source", "normalize name", target, err)
	}
	if err := os.Rename(path, target); err != nil {
		return "", services.Wrap(services.ErrSource, "source", "normalize name", target, err)
	}
	return target, nil
}
