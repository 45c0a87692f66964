package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"clipforge/internal/encoding"
	"clipforge/internal/logging"
	"clipforge/internal/media"
	"clipforge/internal/source"
	"clipforge/internal/transcription"
)

// runVideo is the video pipeline: source, download, file name fix-ups,
// probe, optional transcode, optional split.
func (m *Manager) runVideo(ctx context.Context, rc *runContext, rawURL string) ([]string, error) {
	dir := filepath.Join(m.cfg.Paths.WorkDir, rc.adm.owner, rc.adm.requestID)
	gate := m.gpuGate(rc)

	var normalized string
	if err := m.stage(ctx, rc, "source", func(context.Context) error {
		var err error
		normalized, err = source.NormalizeURL(rawURL)
		return err
	}); err != nil {
		return nil, err
	}

	var path string
	if err := m.stage(ctx, rc, "download", func(ctx context.Context) error {
		downloaded, err := m.downloader.Download(ctx, normalized, dir)
		if err != nil {
			return err
		}
		if downloaded, err = source.EnsureExtension(ctx, downloaded, m.prober); err != nil {
			return err
		}
		path, err = source.NormalizeName(downloaded, m.cfg.Workflow.MaxFilenameLength)
		return err
	}); err != nil {
		return nil, err
	}

	var profile media.Profile
	if err := m.stage(ctx, rc, "probe", func(ctx context.Context) error {
		var err error
		profile, err = m.prober.Probe(ctx, path)
		return err
	}); err != nil {
		return nil, err
	}

	decision := encoding.DecideTranscode(profile, m.cfg.Encoding.TargetHeight)
	result := "skip"
	if decision.Needed {
		result = "transcode"
	}
	attrs := append(logging.DecisionAttrs("transcode", result, decision.Reason),
		logging.String("resolution", fmt.Sprintf("%dx%d", profile.Width, profile.Height)),
		logging.String("target", fmt.Sprintf("%dx%d", decision.Width, decision.Height)),
		logging.String("container", profile.ContainerFormat),
		logging.String("video_codec", profile.VideoCodec),
		logging.String("audio_codec", profile.AudioCodec),
	)
	rc.logger.Info("transcode decision", logging.Args(attrs...)...)

	if decision.Needed {
		if err := m.stage(ctx, rc, "transcode", func(ctx context.Context) error {
			return gate(ctx, "transcode", func(ctx context.Context) error {
				out, err := m.transcoder.Transcode(ctx, path, dir, profile)
				if err != nil {
					return err
				}
				path = out
				return nil
			})
		}); err != nil {
			return nil, err
		}
		if err := m.stage(ctx, rc, "reprobe", func(ctx context.Context) error {
			var err error
			profile, err = m.prober.Probe(ctx, path)
			return err
		}); err != nil {
			return nil, err
		}
	}

	ceiling := int64(m.cfg.Split.SizeCeiling)
	if !encoding.DecideSplit(profile.SizeBytes, ceiling) {
		rc.logger.Info("split decision", logging.Args(append(
			logging.DecisionAttrs("split", "skip", "within size ceiling"),
			logging.Int64("size_bytes", profile.SizeBytes),
			logging.Int64("ceiling_bytes", ceiling),
		)...)...)
		return []string{path}, nil
	}
	rc.logger.Info("split decision", logging.Args(append(
		logging.DecisionAttrs("split", "split", "exceeds size ceiling"),
		logging.Int64("size_bytes", profile.SizeBytes),
		logging.Int64("ceiling_bytes", ceiling),
	)...)...)

	var segments []string
	if err := m.stage(ctx, rc, "split", func(ctx context.Context) error {
		plan, err := encoding.PlanSegments(profile.DurationSeconds, profile.SizeBytes, ceiling, m.cfg.Split.Remainder)
		if err != nil {
			return err
		}
		segments, err = m.splitter.Split(ctx, path, dir, profile, plan, gate)
		return err
	}); err != nil {
		return nil, err
	}
	return segments, nil
}

// runTranscription is the transcription pipeline: audio extraction and
// speech-to-text inside one GPU window, then transcript rendering.
func (m *Manager) runTranscription(ctx context.Context, rc *runContext, uploaded string, override transcription.Options) ([]string, error) {
	outDir := filepath.Join(m.cfg.Paths.TranscriptionDir, rc.adm.owner, rc.adm.requestID)
	opts := transcription.DefaultOptions(m.cfg).Merge(override)
	gate := m.gpuGate(rc)

	isAudio := slices.Contains(m.cfg.Transcription.AudioExtensions, strings.ToLower(filepath.Ext(uploaded)))
	var (
		extraction transcription.Extraction
		srtPath    string
	)
	defer func() {
		m.cleanupAudio(rc, extraction, isAudio)
	}()

	if err := m.stage(ctx, rc, "transcribe", func(ctx context.Context) error {
		return gate(ctx, "transcribe", func(ctx context.Context) error {
			audio := uploaded
			if !isAudio {
				var err error
				extraction, err = m.extractor.ExtractAudio(ctx, uploaded)
				if err != nil {
					return err
				}
				audio = extraction.AudioPath
			}
			var err error
			srtPath, err = m.transcriber.Transcribe(ctx, audio, outDir, opts)
			return err
		})
	}); err != nil {
		return nil, err
	}

	var result transcription.Result
	if err := m.stage(ctx, rc, "finalize", func(context.Context) error {
		var err error
		result, err = transcription.Finalize(outDir, rc.adm.requestID, srtPath)
		return err
	}); err != nil {
		return nil, err
	}
	if result.Empty {
		logging.WarnWithContext(rc.logger, "transcript has no text", "transcript_empty",
			logging.String("html", result.HTMLPath),
			logging.String(logging.FieldImpact, "placeholder transcript delivered"),
		)
	}
	return result.Artifacts(), nil
}

func (m *Manager) cleanupAudio(rc *runContext, extraction transcription.Extraction, isAudio bool) {
	remove := slices.Clone(extraction.Intermediates)
	if m.cfg.Transcription.RemoveAudioAfter && !isAudio && extraction.AudioPath != "" {
		remove = append(remove, extraction.AudioPath)
	}
	for _, path := range remove {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logging.WarnWithContext(rc.logger, "failed to remove intermediate audio", "cleanup_failed",
				logging.String("path", path),
				logging.Error(err),
			)
		}
	}
}
