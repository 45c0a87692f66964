package encoding

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"clipforge/internal/config"
	"clipforge/internal/logging"
	"clipforge/internal/media"
	"clipforge/internal/services"
	"clipforge/internal/services/command"
)

// remainderEpsilon is the shortest trailing remainder worth a segment.
const remainderEpsilon = 0.05

// Segment is one timestamp range of a split.
type Segment struct {
	Index    int
	Start    float64
	Duration float64
}

// SplitPlan lists the segments a file is cut into.
type SplitPlan struct {
	SegmentSeconds   float64
	RemainderSeconds float64
	Remainder        string
	Segments         []Segment
}

// DecideSplit reports whether size exceeds ceiling. A file exactly at the
// ceiling is delivered as-is.
func DecideSplit(size, ceiling int64) bool {
	return ceiling > 0 && size > ceiling
}

// PlanSegments computes whole-second segments whose average size stays under
// ceiling, then applies the remainder policy to the trailing partial segment:
// emit keeps it as a short final segment, merge extends the last full segment,
// drop discards it.
func PlanSegments(duration float64, size, ceiling int64, remainder string) (SplitPlan, error) {
	if math.IsNaN(duration) || duration <= 0 {
		return SplitPlan{}, services.Wrap(services.ErrSplit, "split", "plan", fmt.Sprintf("invalid duration %v", duration), nil)
	}
	if ceiling <= 0 || size <= ceiling {
		return SplitPlan{}, services.Wrap(services.ErrSplit, "split", "plan", fmt.Sprintf("size %d within ceiling %d", size, ceiling), nil)
	}
	switch remainder {
	case config.RemainderEmit, config.RemainderMerge, config.RemainderDrop:
	case "":
		remainder = config.RemainderEmit
	default:
		return SplitPlan{}, services.Wrap(services.ErrSplit, "split", "plan", "unknown remainder policy "+remainder, nil)
	}

	segmentSeconds := math.Max(1, math.Floor(duration*float64(ceiling)/float64(size)))
	full := int(math.Floor(duration / segmentSeconds))
	rest := duration - float64(full)*segmentSeconds

	plan := SplitPlan{SegmentSeconds: segmentSeconds, RemainderSeconds: rest, Remainder: remainder}
	for i := range full {
		plan.Segments = append(plan.Segments, Segment{Index: i + 1, Start: float64(i) * segmentSeconds, Duration: segmentSeconds})
	}

	if rest > remainderEpsilon {
		switch {
		case full == 0:
			plan.Segments = append(plan.Segments, Segment{Index: 1, Start: 0, Duration: rest})
		case remainder == config.RemainderEmit:
			plan.Segments = append(plan.Segments, Segment{Index: full + 1, Start: float64(full) * segmentSeconds, Duration: rest})
		case remainder == config.RemainderMerge:
			plan.Segments[full-1].Duration += rest
		}
	}
	return plan, nil
}

// Splitter cuts a file into independently encoded segments.
type Splitter struct {
	runner    command.Runner
	binary    string
	codecs    Codecs
	audioKbps int
	logger    *slog.Logger
}

// NewSplitter builds a splitter from configuration.
func NewSplitter(cfg *config.Config, runner command.Runner, logger *slog.Logger) (*Splitter, error) {
	codecs, err := codecsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &Splitter{
		runner:    runner,
		binary:    cfg.FFmpegBinary(),
		codecs:    codecs,
		audioKbps: cfg.Encoding.SegmentAudioBitrateKbps,
		logger:    logging.NewComponentLogger(logger, "splitter"),
	}, nil
}

// SegmentPath returns the output path for segment index of in.
func SegmentPath(in, outDir string, index int) string {
	base := filepath.Base(in)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = strings.TrimSuffix(stem, TranscodedSuffix)
	return filepath.Join(outDir, fmt.Sprintf("%s_segment_%d.mp4", stem, index))
}

// Args returns the ffmpeg arguments that encode seg of in into out.
func (s *Splitter) Args(in, out string, profile media.Profile, seg Segment) []string {
	args := s.codecs.inputArgs(in)
	args = append(args, "-ss", formatSeconds(seg.Start), "-t", formatSeconds(seg.Duration))
	args = append(args, s.codecs.videoArgs(profile)...)
	args = append(args, s.codecs.rateArgs(profile)...)
	args = append(args, "-c:a", s.codecs.Audio)
	if s.audioKbps > 0 {
		args = append(args, "-b:a", strconv.Itoa(s.audioKbps)+"k")
	}
	args = append(args, s.codecs.ExtraArgs...)
	return append(args, out)
}

// Split encodes every planned segment in order, each inside its own gate
// window, and returns the produced paths. The first failure aborts the rest.
func (s *Splitter) Split(ctx context.Context, in, outDir string, profile media.Profile, plan SplitPlan, gate Gate) ([]string, error) {
	if len(plan.Segments) == 0 {
		return nil, services.Wrap(services.ErrSplit, "split", "plan", "no segments planned", nil)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrSplit, "split", "prepare dir", outDir, err)
	}

	logger := logging.WithContext(ctx, s.logger)
	logger.Info("split started",
		logging.String("input", in),
		logging.Int("segments", len(plan.Segments)),
		logging.Float64("segment_seconds", plan.SegmentSeconds),
		logging.String("remainder_policy", plan.Remainder),
	)
	if plan.Remainder == config.RemainderDrop && plan.RemainderSeconds > remainderEpsilon {
		logging.WarnWithContext(logger, "trailing remainder dropped", "split_remainder_dropped",
			logging.Float64("remainder_seconds", plan.RemainderSeconds),
			logging.String(logging.FieldImpact, "the end of the media is not delivered"),
			logging.String(logging.FieldErrorHint, "set split.remainder to emit or merge to keep it"),
		)
	}

	outputs := make([]string, 0, len(plan.Segments))
	for _, seg := range plan.Segments {
		out := SegmentPath(in, outDir, seg.Index)
		start := time.Now()
		err := gate.run(ctx, "split", func(ctx context.Context) error {
			_, runErr := s.runner.Run(ctx, s.binary, s.Args(in, out, profile, seg)...)
			return runErr
		})
		if err != nil {
			return outputs, services.Wrap(services.ErrSplit, "split", s.binary, fmt.Sprintf("segment %d", seg.Index), err)
		}
		if err := requireOutput(out); err != nil {
			return outputs, services.Wrap(services.ErrSplit, "split", "verify output", out, err)
		}
		logger.Debug("segment encoded",
			logging.Int("segment", seg.Index),
			logging.String("output", out),
			logging.Duration("elapsed", time.Since(start)),
		)
		outputs = append(outputs, out)
	}
	logger.Info("split completed", logging.Int("segments", len(outputs)))
	return outputs, nil
}

// formatSeconds renders a timestamp with millisecond precision.
func formatSeconds(value float64) string {
	return strconv.FormatFloat(math.Round(value*1000)/1000, 'f', -1, 64)
}
