package transcription

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Cue is one subtitle entry.
type Cue struct {
	Index int
	Start float64
	End   float64
	Text  string
}

// ReadSRT parses an SRT file.
func ReadSRT(path string) ([]Cue, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read srt: %w", err)
	}
	defer file.Close()
	return ParseSRT(file)
}

// ParseSRT parses SRT content. Malformed blocks are skipped.
func ParseSRT(r io.Reader) ([]Cue, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		cues  []Cue
		block []string
	)
	flush := func() {
		if cue, ok := parseBlock(block); ok {
			cues = append(cues, cue)
		}
		block = block[:0]
	}
	first := true
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		block = append(block, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan srt: %w", err)
	}
	flush()
	return cues, nil
}

func parseBlock(lines []string) (Cue, bool) {
	if len(lines) < 2 {
		return Cue{}, false
	}
	index, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return Cue{}, false
	}
	startText, endText, ok := strings.Cut(lines[1], "-->")
	if !ok {
		return Cue{}, false
	}
	start, err := parseTimestamp(startText)
	if err != nil {
		return Cue{}, false
	}
	// Positional settings may follow the end timestamp.
	endFields := strings.Fields(endText)
	if len(endFields) == 0 {
		return Cue{}, false
	}
	end, err := parseTimestamp(endFields[0])
	if err != nil {
		return Cue{}, false
	}
	return Cue{Index: index, Start: start, End: end, Text: strings.Join(lines[2:], "\n")}, true
}

func parseTimestamp(value string) (float64, error) {
	value = strings.ReplaceAll(strings.TrimSpace(value), ".", ",")
	clock, millisText, ok := strings.Cut(value, ",")
	if !ok {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hms := strings.Split(clock, ":")
	if len(hms) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hours, errH := strconv.Atoi(hms[0])
	minutes, errM := strconv.Atoi(hms[1])
	seconds, errS := strconv.Atoi(hms[2])
	millis, errMS := strconv.Atoi(millisText)
	if errH != nil || errM != nil || errS != nil || errMS != nil {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	return float64(hours*3600+minutes*60+seconds) + float64(millis)/1000, nil
}

// HasText reports whether any cue carries non-whitespace text.
func HasText(cues []Cue) bool {
	for _, cue := range cues {
		if strings.TrimSpace(cue.Text) != "" {
			return true
		}
	}
	return false
}

// Paragraph joins cue texts into one line separated by single spaces.
func Paragraph(cues []Cue) string {
	parts := make([]string, 0, len(cues))
	for _, cue := range cues {
		text := strings.Join(strings.Fields(cue.Text), " ")
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
