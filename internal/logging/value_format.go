package logging

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// renderValue formats v for the console handler. Quoted output is used for
// key=value pairs so values with spaces or '=' stay parseable.
func renderValue(v slog.Value, quoted bool) string {
	v = v.Resolve()
	var out string
	switch v.Kind() {
	case slog.KindString:
		out = v.String()
	case slog.KindTime:
		out = v.Time().UTC().Format(time.RFC3339)
	case slog.KindFloat64:
		out = strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			out = err.Error()
		} else {
			out = fmt.Sprint(v.Any())
		}
	default:
		out = v.String()
	}
	if quoted && needsQuote(out) {
		return strconv.Quote(out)
	}
	return out
}

func needsQuote(s string) bool {
	return s == "" || strings.ContainsFunc(s, func(r rune) bool {
		return r <= ' ' || r == '=' || r == '"' || r == 0x7f
	})
}
