package media

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidRational reports a frame-rate string that is not a positive num/den pair.
var ErrInvalidRational = errors.New("invalid rational")

// Rational is a positive fraction such as 30000/1001.
type Rational struct {
	Num int64
	Den int64
}

// DefaultFrameRate is assumed when the probe does not report a frame rate at all.
var DefaultFrameRate = Rational{Num: 30, Den: 1}

// ParseRational parses "num/den" or a bare integer. Zero denominators, negative
// values and anything that is not plain digits are rejected.
func ParseRational(value string) (Rational, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return Rational{}, fmt.Errorf("%w: empty", ErrInvalidRational)
	}
	numText, denText, hasDen := strings.Cut(trimmed, "/")
	if !hasDen {
		denText = "1"
	}
	num, err := parseComponent(numText)
	if err != nil {
		return Rational{}, fmt.Errorf("%w: %q: %w", ErrInvalidRational, value, err)
	}
	den, err := parseComponent(denText)
	if err != nil {
		return Rational{}, fmt.Errorf("%w: %q: %w", ErrInvalidRational, value, err)
	}
	if num == 0 || den == 0 {
		return Rational{}, fmt.Errorf("%w: %q", ErrInvalidRational, value)
	}
	return Rational{Num: num, Den: den}, nil
}

func parseComponent(text string) (int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, errors.New("missing component")
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("unexpected character %q", r)
		}
	}
	return strconv.ParseInt(text, 10, 64)
}

// IsZero reports whether r is the zero value.
func (r Rational) IsZero() bool {
	return r.Num == 0 && r.Den == 0
}

// Float64 evaluates the fraction. The zero value evaluates to 0.
func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// String renders the fraction in ffmpeg's num/den notation.
func (r Rational) String() string {
	if r.Den == 1 {
		return strconv.FormatInt(r.Num, 10)
	}
	return strconv.FormatInt(r.Num, 10) + "/" + strconv.FormatInt(r.Den, 10)
}

// MarshalText implements encoding.TextMarshaler.
func (r Rational) MarshalText() ([]byte, error) {
	if r.IsZero() {
		return []byte{}, nil
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Rational) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*r = Rational{}
		return nil
	}
	parsed, err := ParseRational(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
