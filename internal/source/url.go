package source

import (
	"net/url"
	"strings"

	"clipforge/internal/services"
)

// NormalizeURL resolves scheme-less references to https and percent-decodes
// the result. Only http and https URLs with a host are accepted.
func NormalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", services.Wrap(services.ErrSource, "source", "normalize url", "empty url", nil)
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + strings.TrimPrefix(trimmed, "//")
	}
	decoded, err := url.PathUnescape(trimmed)
	if err != nil {
		return "", services.Wrap(services.ErrSource, "source", "normalize url", raw, err)
	}
	parsed, err := url.Parse(decoded)
	if err != nil {
		return "", services.Wrap(services.ErrSource, "source", "normalize url", raw, err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return "", services.Wrap(services.ErrSource, "source", "normalize url", "unsupported scheme "+parsed.Scheme, nil)
	}
	if parsed.Host == "" {
		return "", services.Wrap(services.ErrSource, "source", "normalize url", "missing host in "+raw, nil)
	}
	return decoded, nil
}
