package textutil

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultMaxFileNameLength matches the common filesystem limit in bytes.
const DefaultMaxFileNameLength = 255

// fallbackStem replaces a name that normalizes to nothing.
const fallbackStem = "media"

// NormalizeFileName returns an ASCII, single-spaced, filesystem-safe version of
// name no longer than maxLen bytes, with the extension preserved and
// lowercased. maxLen <= 0 uses DefaultMaxFileNameLength.
func NormalizeFileName(name string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxFileNameLength
	}

	cleaned := collapseSpaces(SanitizeFileName(toASCII(name)))

	ext := filepath.Ext(cleaned)
	if len(ext) >= maxLen || strings.TrimSpace(ext) != ext {
		ext = ""
	}
	stem := strings.TrimSuffix(cleaned, ext)
	ext = strings.ToLower(ext)

	if limit := maxLen - len(ext); len(stem) > limit {
		stem = stem[:limit]
	}
	stem = strings.Trim(stem, " .")
	if ext == "" {
		// Truncation can expose a dot-suffix; it becomes the extension.
		if tail := filepath.Ext(stem); tail != "" {
			stem = strings.Trim(strings.TrimSuffix(stem, tail), " .")
			ext = strings.ToLower(tail)
		}
	}
	if stem == "" {
		stem = fallbackStem
	}
	return stem + ext
}

// toASCII decomposes characters (NFKD), drops combining marks, and removes
// whatever is still outside printable ASCII, emoji included.
func toASCII(value string) string {
	chain := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	decomposed, _, err := transform.String(chain, value)
	if err != nil {
		decomposed = value
	}
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		switch {
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case r >= 0x20 && r < 0x7f:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func collapseSpaces(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
