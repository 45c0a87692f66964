package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTools()
	if err := c.normalizeGPU(); err != nil {
		return err
	}
	c.normalizeEncoding()
	c.normalizeSplit()
	c.normalizeProbe()
	c.normalizeTranscription()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.UploadDir, err = expandPath(c.Paths.UploadDir); err != nil {
		return fmt.Errorf("paths.upload_dir: %w", err)
	}
	if c.Paths.TranscriptionDir, err = expandPath(c.Paths.TranscriptionDir); err != nil {
		return fmt.Errorf("paths.transcription_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeTools() {
	c.Tools.FFmpeg = orDefault(c.Tools.FFmpeg, defaultFFmpeg)
	c.Tools.FFprobe = orDefault(c.Tools.FFprobe, defaultFFprobe)
	c.Tools.Downloader = orDefault(c.Tools.Downloader, defaultDownloader)
	c.Tools.Whisper = orDefault(c.Tools.Whisper, defaultWhisper)
	c.Tools.DownloaderFormat = orDefault(c.Tools.DownloaderFormat, defaultDownloaderFormat)
	c.Tools.EncoderExtraArgs = strings.TrimSpace(c.Tools.EncoderExtraArgs)
	c.Tools.WhisperExtraArgs = strings.TrimSpace(c.Tools.WhisperExtraArgs)
	if c.Tools.ToolTimeoutSeconds <= 0 {
		c.Tools.ToolTimeoutSeconds = defaultToolTimeoutSeconds
	}
}

func (c *Config) normalizeGPU() error {
	c.GPU.LockBackend = strings.ToLower(strings.TrimSpace(c.GPU.LockBackend))
	if c.GPU.LockBackend == "" {
		c.GPU.LockBackend = LockBackendLease
	}
	if strings.TrimSpace(c.GPU.LockPath) == "" {
		c.GPU.LockPath = defaultLockPath
	}
	var err error
	if c.GPU.LockPath, err = expandPath(c.GPU.LockPath); err != nil {
		return fmt.Errorf("gpu.lock_path: %w", err)
	}
	if c.GPU.LeaseTTLSeconds <= 0 {
		c.GPU.LeaseTTLSeconds = defaultLeaseTTLSeconds
	}
	if c.GPU.PollIntervalMillis <= 0 {
		c.GPU.PollIntervalMillis = defaultPollIntervalMillis
	}
	if c.GPU.AcquireTimeoutSeconds < 0 {
		c.GPU.AcquireTimeoutSeconds = 0
	}
	c.GPU.RedisAddr = strings.TrimSpace(c.GPU.RedisAddr)
	if c.GPU.RedisAddr == "" {
		if value, ok := os.LookupEnv("CLIPFORGE_REDIS_ADDR"); ok {
			c.GPU.RedisAddr = strings.TrimSpace(value)
		}
	}
	if c.GPU.RedisPassword == "" {
		if value, ok := os.LookupEnv("CLIPFORGE_REDIS_PASSWORD"); ok {
			c.GPU.RedisPassword = value
		}
	}
	c.GPU.RedisKey = orDefault(c.GPU.RedisKey, defaultRedisKey)
	return nil
}

func (c *Config) normalizeEncoding() {
	c.Encoding.VideoCodec = orDefault(c.Encoding.VideoCodec, defaultVideoCodec)
	c.Encoding.AudioCodec = orDefault(c.Encoding.AudioCodec, defaultAudioCodec)
	// An explicit "none" disables hardware decoding.
	c.Encoding.HWAccel = strings.ToLower(strings.TrimSpace(c.Encoding.HWAccel))
	if c.Encoding.HWAccel == "none" {
		c.Encoding.HWAccel = ""
	}
	if c.Encoding.TargetHeight <= 0 {
		c.Encoding.TargetHeight = defaultTargetHeight
	}
	if c.Encoding.AudioSampleRate <= 0 {
		c.Encoding.AudioSampleRate = defaultAudioSampleRate
	}
	if c.Encoding.SegmentAudioBitrateKbps <= 0 {
		c.Encoding.SegmentAudioBitrateKbps = defaultSegmentAudioKbps
	}
}

func (c *Config) normalizeSplit() {
	if c.Split.SizeCeiling == 0 {
		c.Split.SizeCeiling = defaultSizeCeiling
	}
	c.Split.Remainder = strings.ToLower(strings.TrimSpace(c.Split.Remainder))
	if c.Split.Remainder == "" {
		c.Split.Remainder = RemainderEmit
	}
}

func (c *Config) normalizeProbe() {
	c.Probe.UnsupportedContainers = normalizeTokens(c.Probe.UnsupportedContainers)
	c.Probe.UnsupportedVideoCodecs = normalizeTokens(c.Probe.UnsupportedVideoCodecs)
	c.Probe.UnsupportedAudioCodecs = normalizeTokens(c.Probe.UnsupportedAudioCodecs)
	if c.Probe.DefaultAudioBitrate <= 0 {
		c.Probe.DefaultAudioBitrate = defaultAudioBitrate
	}
}

func (c *Config) normalizeTranscription() {
	c.Transcription.Language = orDefault(c.Transcription.Language, defaultLanguage)
	c.Transcription.Model = orDefault(c.Transcription.Model, defaultModel)
	c.Transcription.Precision = strings.ToLower(strings.TrimSpace(c.Transcription.Precision))
	if c.Transcription.BeamSize < 0 {
		c.Transcription.BeamSize = 0
	}
	if c.Transcription.ChunkLength < 0 {
		c.Transcription.ChunkLength = 0
	}
	c.Transcription.VideoExtensions = normalizeExtensions(c.Transcription.VideoExtensions)
	c.Transcription.AudioExtensions = normalizeExtensions(c.Transcription.AudioExtensions)
	c.Transcription.PassthroughAudioCodecs = normalizeTokens(c.Transcription.PassthroughAudioCodecs)
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.Workers <= 0 {
		c.Workflow.Workers = defaultWorkers
	}
	if c.Workflow.QueueCapacity <= 0 {
		c.Workflow.QueueCapacity = defaultQueueCapacity
	}
	if c.Workflow.MaxFilenameLength <= 0 {
		c.Workflow.MaxFilenameLength = defaultMaxFilenameLength
	}
	if c.Workflow.SubmitRateLimit < 0 {
		c.Workflow.SubmitRateLimit = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func orDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func normalizeTokens(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		token := strings.ToLower(strings.TrimSpace(v))
		if token == "" {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}

func normalizeExtensions(values []string) []string {
	tokens := normalizeTokens(values)
	for i, ext := range tokens {
		if !strings.HasPrefix(ext, ".") {
			tokens[i] = "." + ext
		}
	}
	return tokens
}
