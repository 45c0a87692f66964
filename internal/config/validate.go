package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateGPU(); err != nil {
		return err
	}
	if err := c.validateEncoding(); err != nil {
		return err
	}
	if err := c.validateSplit(); err != nil {
		return err
	}
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if _, err := c.EncoderExtraArgs(); err != nil {
		return err
	}
	if _, err := c.WhisperExtraArgs(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	for key, value := range map[string]string{
		"paths.work_dir":          c.Paths.WorkDir,
		"paths.upload_dir":        c.Paths.UploadDir,
		"paths.transcription_dir": c.Paths.TranscriptionDir,
		"paths.log_dir":           c.Paths.LogDir,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must be set", key)
		}
	}
	return nil
}

func (c *Config) validateGPU() error {
	switch c.GPU.LockBackend {
	case LockBackendLease, LockBackendMemory, LockBackendFlag:
	case LockBackendRedis:
		if c.GPU.RedisAddr == "" {
			return errors.New("gpu.redis_addr must be set when gpu.lock_backend is redis (or set CLIPFORGE_REDIS_ADDR)")
		}
	default:
		return fmt.Errorf("gpu.lock_backend: unsupported value %q (want lease, redis, memory, or flag)", c.GPU.LockBackend)
	}
	if c.GPU.LockBackend != LockBackendRedis && strings.TrimSpace(c.GPU.LockPath) == "" {
		return errors.New("gpu.lock_path must be set")
	}
	if c.GPU.PollIntervalMillis*3 > c.GPU.LeaseTTLSeconds*1000 {
		return errors.New("gpu.poll_interval_ms must be at most a third of gpu.lease_ttl_seconds")
	}
	return nil
}

func (c *Config) validateEncoding() error {
	if c.Encoding.TargetHeight%2 != 0 {
		return errors.New("encoding.target_height must be even")
	}
	return nil
}

func (c *Config) validateSplit() error {
	if c.Split.SizeCeiling.Bytes() < 1<<20 {
		return errors.New("split.size_ceiling must be at least 1MB")
	}
	switch c.Split.Remainder {
	case RemainderEmit, RemainderMerge, RemainderDrop:
	default:
		return fmt.Errorf("split.remainder: unsupported value %q (want emit, merge, or drop)", c.Split.Remainder)
	}
	return nil
}

func (c *Config) validateTranscription() error {
	if len(c.Transcription.VideoExtensions)+len(c.Transcription.AudioExtensions) == 0 {
		return errors.New("transcription.video_extensions and transcription.audio_extensions cannot both be empty")
	}
	switch c.Transcription.Precision {
	case "", "float16", "float32", "int8", "int8_float16", "int8_float32":
	default:
		return fmt.Errorf("transcription.precision: unsupported value %q", c.Transcription.Precision)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.workers":             c.Workflow.Workers,
		"workflow.queue_capacity":      c.Workflow.QueueCapacity,
		"workflow.max_filename_length": c.Workflow.MaxFilenameLength,
		"tools.tool_timeout_seconds":   c.Tools.ToolTimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Workflow.MaxFilenameLength < 16 {
		return errors.New("workflow.max_filename_length must be at least 16")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
